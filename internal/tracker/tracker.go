package tracker

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
)

// Observer receives every transition. It runs with the tracker locked, so
// transitions are observed in order; it must not call back into the Tracker.
type Observer func(from, to State)

// Rejection is one double-financing alert as seen by the tracker.
type Rejection struct {
	PropertyID   ident.PropertyID
	NewFinancier common.Address
	TxHash       common.Hash
}

// Tracker is the single-transaction state machine.
//
// Writers are the submit path (Begin, Signed, SignFailed, FailUnconnected)
// and the event path (Confirm, RejectDoubleFinancing). A mutex serializes
// them; a double-financing rejection wins over a confirmation of the same
// submission whichever arrives first.
type Tracker struct {
	mu       sync.Mutex
	state    State
	ids      IDGenerator
	observer Observer
	changed  chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDGenerator sets the submission id source. Defaults to UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracker) {
		t.ids = g
	}
}

// WithObserver installs a transition observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		t.observer = o
	}
}

// New returns a tracker in Idle.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		ids:     UUIDv7Generator{},
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns a snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// View returns the user-facing projection of the current state.
func (t *Tracker) View() View {
	return t.State().View()
}

// transitionLocked installs next, notifies the observer and wakes waiters.
func (t *Tracker) transitionLocked(next State) {
	prev := t.state
	t.state = next
	if t.observer != nil {
		t.observer(prev, next)
	}
	close(t.changed)
	t.changed = make(chan struct{})
}

// Begin starts a submission for id, moving to AwaitingSignature.
//
// It fails with AlreadyInProgress while a submission is outstanding, leaving
// the state untouched, and with InvalidIdentifier for the sentinel id.
func (t *Tracker) Begin(id ident.PropertyID, from common.Address) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase.InProgress() {
		return t.state, NewAlreadyInProgressError(id)
	}
	if id.IsZero() {
		return t.state, NewInvalidIdentifierError()
	}

	t.transitionLocked(State{
		Phase:      PhaseAwaitingSignature,
		Submission: t.ids.Generate(),
		PropertyID: id,
		From:       from,
	})
	return t.state, nil
}

// FailUnconnected records a submit attempt without a signer. Outside a
// submission the state moves to Failed(NotConnected); during one it is left
// alone. The NotConnected error is returned either way.
func (t *Tracker) FailUnconnected(id ident.PropertyID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := NewNotConnectedError()
	err.PropertyID = id
	if t.state.Phase.InProgress() {
		return err
	}
	t.transitionLocked(State{
		Phase:      PhaseFailed,
		Submission: t.ids.Generate(),
		PropertyID: id,
		Err:        err,
	})
	return err
}

// Signed moves submission from AwaitingSignature to Pending(hash). It reports
// false when submission is no longer the one awaiting a signature.
func (t *Tracker) Signed(submission string, hash common.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase != PhaseAwaitingSignature || t.state.Submission != submission {
		return false
	}
	next := t.state
	next.Phase = PhasePending
	next.TxHash = hash
	t.transitionLocked(next)
	return true
}

// SignFailed moves submission from AwaitingSignature to Failed(err).
func (t *Tracker) SignFailed(submission string, err *Error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase != PhaseAwaitingSignature || t.state.Submission != submission {
		return false
	}
	next := t.state
	next.Phase = PhaseFailed
	next.Err = err
	t.transitionLocked(next)
	return true
}

// Confirm applies a receipt for hash. A successful receipt moves Pending(hash)
// to Confirmed and clears the hash; a reverted one moves it to
// Failed(TX_REVERTED). Receipts for any other hash, or arriving after the
// submission already left Pending, are ignored.
func (t *Tracker) Confirm(hash common.Hash, succeeded bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Phase != PhasePending || t.state.TxHash != hash {
		return false
	}
	next := t.state
	next.TxHash = common.Hash{}
	if succeeded {
		next.Phase = PhaseConfirmed
	} else {
		next.Phase = PhaseFailed
		next.Err = NewRevertedError(next.PropertyID, hash)
	}
	t.transitionLocked(next)
	return true
}

// RejectDoubleFinancing applies double-financing alerts to the latest
// submission and reports whether the state changed.
//
// An alert matches a Pending or Confirmed submission when it names the
// submission's property, or its transaction while Pending. The same rule
// holds in both phases, so an alert and a confirmation end in
// Failed(DOUBLE_FINANCING_REJECTED) whichever arrives first.
func (t *Tracker) RejectDoubleFinancing(alerts ...Rejection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state
	if s.Phase != PhasePending && s.Phase != PhaseConfirmed {
		return false
	}
	for _, a := range alerts {
		if !t.matchesLocked(a) {
			continue
		}
		hash := s.TxHash
		if a.TxHash != (common.Hash{}) {
			hash = a.TxHash
		}
		next := s
		next.Phase = PhaseFailed
		next.TxHash = common.Hash{}
		next.Err = NewDoubleFinancingError(s.PropertyID, hash)
		t.transitionLocked(next)
		return true
	}
	return false
}

func (t *Tracker) matchesLocked(a Rejection) bool {
	s := t.state
	if s.Phase != PhasePending && s.Phase != PhaseConfirmed {
		return false
	}
	if s.Phase == PhasePending && a.TxHash != (common.Hash{}) && a.TxHash == s.TxHash {
		return true
	}
	return a.PropertyID == s.PropertyID
}

// Wait blocks until pred holds for the current state or ctx is done.
func (t *Tracker) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		t.mu.Lock()
		s, changed := t.state, t.changed
		t.mu.Unlock()

		if pred(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-changed:
		}
	}
}

// Settled reports whether no submission is outstanding.
func Settled(s State) bool {
	return !s.Phase.InProgress()
}
