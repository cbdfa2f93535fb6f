package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/lienwatch/internal/ident"
)

// ErrOutage is returned by a Sim while an outage is simulated.
var ErrOutage = errors.New("sim: ledger unreachable")

// Sim is an in-memory registry with the same event semantics as the deployed
// contract: the first registration of a property emits MortgageRegistered and
// any later registration emits AlertDoubleFinancing naming the first
// financier. Both succeed. Transactions stay pending until Mine is called.
//
// Sim is safe for concurrent use.
type Sim struct {
	mu       sync.Mutex
	now      func() time.Time
	contract common.Address
	block    uint64
	outage   bool
	registry map[ident.PropertyID]common.Address
	pending  map[common.Hash]*simTx
	receipts map[common.Hash]Receipt
	sinks    map[int]Sink
	nextSink int
	external uint64
}

type simTx struct {
	from common.Address
	id   ident.PropertyID
	done chan struct{}
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSimClock sets the source of block timestamps.
func WithSimClock(now func() time.Time) SimOption {
	return func(s *Sim) {
		s.now = now
	}
}

// NewSim returns an empty simulated registry.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		now:      time.Now,
		contract: DefaultContractAddress,
		registry: make(map[ident.PropertyID]common.Address),
		pending:  make(map[common.Hash]*simTx),
		receipts: make(map[common.Hash]Receipt),
		sinks:    make(map[int]Sink),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOutage makes queries and submissions fail with ErrOutage while on.
// Pending transactions are unaffected.
func (s *Sim) SetOutage(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outage = on
}

// CheckMortgage reports whether id has been registered.
func (s *Sim) CheckMortgage(ctx context.Context, id ident.PropertyID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outage {
		return false, ErrOutage
	}
	_, ok := s.registry[id]
	return ok, nil
}

// RegisterMortgage asks signer to sign the call and records the resulting
// transaction as pending.
func (s *Sim) RegisterMortgage(ctx context.Context, signer Signer, id ident.PropertyID) (common.Hash, error) {
	s.mu.Lock()
	outage := s.outage
	s.mu.Unlock()
	if outage {
		return common.Hash{}, ErrOutage
	}

	data, err := PackRegister(id)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := signer.Submit(ctx, Call{To: s.contract, Method: methodRegister, PropertyID: id, Data: data})
	if err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[hash]; ok {
		return common.Hash{}, fmt.Errorf("sim: duplicate transaction %s", hash.Hex())
	}
	if _, ok := s.receipts[hash]; ok {
		return common.Hash{}, fmt.Errorf("sim: duplicate transaction %s", hash.Hex())
	}
	s.pending[hash] = &simTx{from: signer.Address(), id: id, done: make(chan struct{})}
	return hash, nil
}

// Pending returns the hashes of transactions awaiting Mine.
func (s *Sim) Pending() []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Hash, 0, len(s.pending))
	for h := range s.pending {
		out = append(out, h)
	}
	return out
}

// Mine includes a pending transaction in a new block, emitting its event
// before its receipt becomes visible.
func (s *Sim) Mine(hash common.Hash) error {
	s.mu.Lock()
	tx, ok := s.pending[hash]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mine %s: %w", hash.Hex(), ErrNotFound)
	}
	delete(s.pending, hash)
	batch := s.applyLocked(tx.from, tx.id, hash)
	s.receipts[hash] = Receipt{TxHash: hash, BlockNumber: s.block, Succeeded: true, Alerts: batch.Alerts}
	sinks := s.sinksLocked()
	s.mu.Unlock()

	s.deliver(sinks, batch)
	close(tx.done)
	return nil
}

// RegisterExternal mines a registration by another financier.
func (s *Sim) RegisterExternal(financier common.Address, id ident.PropertyID) common.Hash {
	s.mu.Lock()
	s.external++
	hash := crypto.Keccak256Hash([]byte("external"), financier.Bytes(), id[:], new(big.Int).SetUint64(s.external).Bytes())
	batch := s.applyLocked(financier, id, hash)
	s.receipts[hash] = Receipt{TxHash: hash, BlockNumber: s.block, Succeeded: true, Alerts: batch.Alerts}
	sinks := s.sinksLocked()
	s.mu.Unlock()

	s.deliver(sinks, batch)
	return hash
}

// InjectAlert emits an AlertDoubleFinancing event without touching the
// registry, as a misbehaving or foreign contract might.
func (s *Sim) InjectAlert(id ident.PropertyID, primary, newFinancier common.Address) {
	s.mu.Lock()
	s.block++
	batch := AlertBatch(AlertDoubleFinancing{
		PropertyID:       id,
		PrimaryFinancier: primary,
		NewFinancier:     newFinancier,
		BlockNumber:      s.block,
	})
	sinks := s.sinksLocked()
	s.mu.Unlock()

	s.deliver(sinks, batch)
}

// InjectRegistered emits a MortgageRegistered event without touching the
// registry. Used to replay duplicate deliveries.
func (s *Sim) InjectRegistered(ev MortgageRegistered) {
	s.mu.Lock()
	sinks := s.sinksLocked()
	s.mu.Unlock()
	s.deliver(sinks, RegisteredBatch(ev))
}

// applyLocked advances one block and returns the event the contract would emit.
func (s *Sim) applyLocked(from common.Address, id ident.PropertyID, hash common.Hash) Batch {
	s.block++
	if primary, ok := s.registry[id]; ok {
		return AlertBatch(AlertDoubleFinancing{
			PropertyID:       id,
			PrimaryFinancier: primary,
			NewFinancier:     from,
			BlockNumber:      s.block,
			TxHash:           hash,
		})
	}
	s.registry[id] = from
	return RegisteredBatch(MortgageRegistered{
		PropertyID:  id,
		Financier:   from,
		Timestamp:   uint64(s.now().Unix()),
		BlockNumber: s.block,
		TxHash:      hash,
	})
}

// WaitReceipt blocks until hash is mined.
func (s *Sim) WaitReceipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	s.mu.Lock()
	if r, ok := s.receipts[hash]; ok {
		s.mu.Unlock()
		return r, nil
	}
	tx, ok := s.pending[hash]
	s.mu.Unlock()
	if !ok {
		return Receipt{}, fmt.Errorf("receipt %s: %w", hash.Hex(), ErrNotFound)
	}

	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-tx.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[hash], nil
}

// Attach registers sink for future events and returns a function that
// detaches it.
func (s *Sim) Attach(sink Sink) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSink
	s.nextSink++
	s.sinks[id] = sink
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sinks, id)
	}
}

// Watch attaches sink until ctx is done.
func (s *Sim) Watch(ctx context.Context, sink Sink) error {
	detach := s.Attach(sink)
	defer detach()
	<-ctx.Done()
	return ctx.Err()
}

// Sinks returns the number of attached sinks.
func (s *Sim) Sinks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Head returns the current block number.
func (s *Sim) Head() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

// Financier returns the first registrant of id.
func (s *Sim) Financier(id ident.PropertyID) (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.registry[id]
	return addr, ok
}

func (s *Sim) sinksLocked() map[int]Sink {
	out := make(map[int]Sink, len(s.sinks))
	for id, sink := range s.sinks {
		out[id] = sink
	}
	return out
}

func (s *Sim) deliver(sinks map[int]Sink, b Batch) {
	for id, sink := range sinks {
		if !sink.Deliver(b) {
			slog.Debug("sim sink closed, detaching", "sink", id)
			s.mu.Lock()
			delete(s.sinks, id)
			s.mu.Unlock()
		}
	}
}
