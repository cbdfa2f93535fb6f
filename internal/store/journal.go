package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
)

// MortgageRecord is one observed MortgageRegistered event.
type MortgageRecord struct {
	Seq          int64 // batch sequence; shared by every record of a batch
	Position     int   // index within the batch
	PropertyID   ident.PropertyID
	Financier    common.Address
	RegisteredAt uint64 // unix seconds as reported by the chain
	BlockNumber  uint64
	TxHash       common.Hash
}

// AlertRecord is one observed AlertDoubleFinancing event stamped with the
// local time it was seen.
type AlertRecord struct {
	Seq              int64
	Position         int
	PropertyID       ident.PropertyID
	PrimaryFinancier common.Address
	NewFinancier     common.Address
	ObservedAt       time.Time
	BlockNumber      uint64
	TxHash           common.Hash
}

// AppendMortgages appends a batch under a single new seq, keeping the given
// order as positions. An empty batch writes nothing and returns 0.
func (s *Store) AppendMortgages(ctx context.Context, records []MortgageRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	seq := s.clock.Next()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO mortgage_records
			(seq, position, property_id, financier, registered_at, block_number, tx_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range records {
			if _, err := stmt.ExecContext(ctx,
				seq,
				i,
				r.PropertyID.Hex(),
				r.Financier.Hex(),
				int64(r.RegisteredAt),
				int64(r.BlockNumber),
				r.TxHash.Hex(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append mortgages: %w", err)
	}
	return seq, nil
}

// AppendAlerts appends a batch under a single new seq. An empty batch writes
// nothing and returns 0.
func (s *Store) AppendAlerts(ctx context.Context, records []AlertRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	seq := s.clock.Next()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO double_financing_alerts
			(seq, position, property_id, primary_financier, new_financier, observed_at, block_number, tx_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range records {
			if _, err := stmt.ExecContext(ctx,
				seq,
				i,
				r.PropertyID.Hex(),
				r.PrimaryFinancier.Hex(),
				r.NewFinancier.Hex(),
				r.ObservedAt.UnixNano(),
				int64(r.BlockNumber),
				r.TxHash.Hex(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append alerts: %w", err)
	}
	return seq, nil
}

// ReadMortgages returns all records, newest batch first, batch order kept.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ReadMortgages(ctx context.Context) ([]MortgageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, position, property_id, financier, registered_at, block_number, tx_hash
		FROM mortgage_records
		ORDER BY seq DESC, position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query mortgages: %w", err)
	}
	defer rows.Close()

	records := []MortgageRecord{}
	for rows.Next() {
		var (
			r                         MortgageRecord
			id, financier, txHash     string
			registeredAt, blockNumber int64
		)
		if err := rows.Scan(&r.Seq, &r.Position, &id, &financier, &registeredAt, &blockNumber, &txHash); err != nil {
			return nil, fmt.Errorf("scan mortgage: %w", err)
		}
		if r.PropertyID, err = ident.ParsePropertyID(id); err != nil {
			return nil, fmt.Errorf("scan mortgage: %w", err)
		}
		r.Financier = common.HexToAddress(financier)
		r.RegisteredAt = uint64(registeredAt)
		r.BlockNumber = uint64(blockNumber)
		r.TxHash = common.HexToHash(txHash)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mortgages: %w", err)
	}
	return records, nil
}

// ReadAlerts returns all alerts, newest batch first, batch order kept.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ReadAlerts(ctx context.Context) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, position, property_id, primary_financier, new_financier, observed_at, block_number, tx_hash
		FROM double_financing_alerts
		ORDER BY seq DESC, position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	records := []AlertRecord{}
	for rows.Next() {
		var (
			r                                 AlertRecord
			id, primary, newFinancier, txHash string
			observedAt, blockNumber           int64
		)
		if err := rows.Scan(&r.Seq, &r.Position, &id, &primary, &newFinancier, &observedAt, &blockNumber, &txHash); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if r.PropertyID, err = ident.ParsePropertyID(id); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.PrimaryFinancier = common.HexToAddress(primary)
		r.NewFinancier = common.HexToAddress(newFinancier)
		r.ObservedAt = time.Unix(0, observedAt).UTC()
		r.BlockNumber = uint64(blockNumber)
		r.TxHash = common.HexToHash(txHash)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return records, nil
}

// CountMortgages returns the number of records for id.
func (s *Store) CountMortgages(ctx context.Context, id ident.PropertyID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mortgage_records WHERE property_id = ?`, id.Hex(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mortgages: %w", err)
	}
	return n, nil
}
