package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
)

// Transition is one journaled tracker state change.
type Transition struct {
	Seq        int64
	Submission string
	From       string
	To         string
	PropertyID ident.PropertyID
	TxHash     common.Hash // zero when the target phase carries no hash
	Reason     string      // error code for failed phases
	RecordedAt time.Time
}

// AppendTransition journals t under a new seq and returns it.
func (s *Store) AppendTransition(ctx context.Context, t Transition) (int64, error) {
	seq := s.clock.Next()
	var txHash string
	if t.TxHash != (common.Hash{}) {
		txHash = t.TxHash.Hex()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions
		(seq, submission_id, from_phase, to_phase, property_id, tx_hash, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		seq,
		t.Submission,
		t.From,
		t.To,
		t.PropertyID.Hex(),
		txHash,
		t.Reason,
		t.RecordedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("append transition: %w", err)
	}
	return seq, nil
}

// ReadTransitions returns journaled transitions in the order they happened.
// An empty submission returns the transitions of every submission.
func (s *Store) ReadTransitions(ctx context.Context, submission string) ([]Transition, error) {
	query := `
		SELECT seq, submission_id, from_phase, to_phase, property_id, tx_hash, reason, recorded_at
		FROM transitions
	`
	var args []any
	if submission != "" {
		query += ` WHERE submission_id = ?`
		args = append(args, submission)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []Transition{}
	for rows.Next() {
		var (
			t          Transition
			id, txHash string
			recordedAt int64
		)
		if err := rows.Scan(&t.Seq, &t.Submission, &t.From, &t.To, &id, &txHash, &t.Reason, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if t.PropertyID, err = ident.ParsePropertyID(id); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if txHash != "" {
			t.TxHash = common.HexToHash(txHash)
		}
		t.RecordedAt = time.Unix(0, recordedAt).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}
