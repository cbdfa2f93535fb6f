package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/ledger"
	"github.com/roach88/lienwatch/internal/metrics"
	"github.com/roach88/lienwatch/internal/reconcile"
	"github.com/roach88/lienwatch/internal/store"
	"github.com/roach88/lienwatch/internal/tracker"
)

// DefaultReceiptRetry is the pause between failed receipt waits.
const DefaultReceiptRetry = time.Second

// Session is one client's view of the registry: a bound signer, the
// transaction tracker, the event logs and the consumer loop feeding them.
//
// Thread-safety model:
//   - Deliver, Submit, Register, Check, View, State: any goroutine
//   - Run or Drain: one consumer at a time
type Session struct {
	ledger  ledger.Ledger
	codec   *ident.Codec
	store   *store.Store
	tracker *tracker.Tracker
	recon   *reconcile.Reconciler
	metrics *metrics.Metrics
	queue   *eventQueue
	now     reconcile.TimeSource
	ids     tracker.IDGenerator
	retry   time.Duration
	onBatch func(ledger.Batch)

	consume sync.Mutex

	mu       sync.Mutex
	signer   ledger.Signer
	watchers map[common.Hash]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithCodec sets the identifier codec. Defaults to ident.NewCodec().
func WithCodec(c *ident.Codec) Option {
	return func(s *Session) {
		s.codec = c
	}
}

// WithTimeSource sets the clock stamping alerts and journal rows.
func WithTimeSource(ts reconcile.TimeSource) Option {
	return func(s *Session) {
		s.now = ts
	}
}

// WithIDGenerator sets the submission id source.
func WithIDGenerator(g tracker.IDGenerator) Option {
	return func(s *Session) {
		s.ids = g
	}
}

// WithMetrics records session metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithReceiptRetry sets the pause between failed receipt waits.
func WithReceiptRetry(d time.Duration) Option {
	return func(s *Session) {
		s.retry = d
	}
}

// WithBatchObserver calls fn with every batch after it has been applied.
// fn runs on the consumer goroutine.
func WithBatchObserver(fn func(ledger.Batch)) Option {
	return func(s *Session) {
		s.onBatch = fn
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// New opens an in-memory journal and wires a session over l.
func New(l ledger.Ledger, opts ...Option) (*Session, error) {
	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ledger:   l,
		codec:    ident.NewCodec(),
		store:    st,
		queue:    newEventQueue(),
		now:      wallClock{},
		ids:      tracker.UUIDv7Generator{},
		retry:    DefaultReceiptRetry,
		watchers: make(map[common.Hash]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tracker = tracker.New(
		tracker.WithIDGenerator(s.ids),
		tracker.WithObserver(s.observe),
	)
	s.recon = reconcile.New(st,
		reconcile.WithTimeSource(s.now),
		reconcile.WithRejectionSink(reconcile.RejectionFunc(s.reject)),
	)
	return s, nil
}

// Codec returns the identifier codec in use.
func (s *Session) Codec() *ident.Codec {
	return s.codec
}

// Connect binds signer for subsequent submissions.
func (s *Session) Connect(signer ledger.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
	slog.Info("wallet connected", "address", signer.Address().Hex())
}

// Disconnect unbinds the signer. An outstanding transaction keeps going.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer != nil {
		slog.Info("wallet disconnected", "address", s.signer.Address().Hex())
	}
	s.signer = nil
}

// Connected reports whether a signer is bound.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer != nil
}

// Register encodes description and submits it.
func (s *Session) Register(ctx context.Context, description string) (tracker.State, error) {
	if s.codec.Truncates(description) {
		slog.Warn("property description exceeds identifier width; distinct descriptions may share a key",
			"scheme", s.codec.Scheme(),
			"bytes", len(description),
		)
	}
	return s.Submit(ctx, s.codec.Encode(description))
}

// Submit starts a registerMortgage transaction for id and blocks while the
// signer approves it. On success the state is Pending and a watcher waits
// for the receipt; the returned state is the one reached before returning.
//
// Errors: NOT_CONNECTED without a signer, ALREADY_IN_PROGRESS while a
// submission is outstanding, INVALID_IDENTIFIER for ident.Zero, and
// WALLET_REJECTED or TRANSPORT_FAILURE when signing or broadcasting fails.
func (s *Session) Submit(ctx context.Context, id ident.PropertyID) (tracker.State, error) {
	s.mu.Lock()
	signer := s.signer
	s.mu.Unlock()

	if signer == nil {
		err := s.tracker.FailUnconnected(id)
		return s.tracker.State(), err
	}

	begun, err := s.tracker.Begin(id, signer.Address())
	if err != nil {
		slog.Debug("submission refused", "property_id", id.Hex(), "error", err)
		return begun, err
	}

	hash, err := s.ledger.RegisterMortgage(ctx, signer, id)
	if err != nil {
		terr := classifySubmitError(id, err)
		s.tracker.SignFailed(begun.Submission, terr)
		return s.tracker.State(), terr
	}

	s.tracker.Signed(begun.Submission, hash)
	s.watchReceipt(begun.Submission, hash)
	return s.tracker.State(), nil
}

func classifySubmitError(id ident.PropertyID, err error) *tracker.Error {
	if errors.Is(err, ledger.ErrSignerRejected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return tracker.NewWalletRejectedError(id, err)
	}
	return tracker.NewTransportError(id, err)
}

// watchReceipt waits for hash in the background and enqueues the receipt.
// Failed waits are retried until the session closes. A closed session
// starts no watcher.
func (s *Session) watchReceipt(submission string, hash common.Hash) {
	done := make(chan struct{})
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		slog.Debug("session closed, receipt not watched", "submission", submission, "tx_hash", hash.Hex())
		return
	}
	s.watchers[hash] = done
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forgetWatcher(hash, done)

		for {
			r, err := s.ledger.WaitReceipt(s.ctx, hash)
			if err == nil {
				s.enqueue(Event{Type: EventTypeReceipt, Receipt: &r})
				return
			}
			if s.ctx.Err() != nil {
				return
			}
			slog.Warn("receipt wait failed, retrying",
				"submission", submission,
				"tx_hash", hash.Hex(),
				"error", err,
			)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.retry):
			}
		}
	}()
}

func (s *Session) forgetWatcher(hash common.Hash, done chan struct{}) {
	s.mu.Lock()
	if s.watchers[hash] == done {
		delete(s.watchers, hash)
	}
	s.mu.Unlock()
	close(done)
}

// Check reports whether the registry holds a record for description.
func (s *Session) Check(ctx context.Context, description string) (bool, error) {
	return s.CheckID(ctx, s.codec.Encode(description))
}

// CheckID queries the ledger for id. Every call re-queries; failures are
// returned as QUERY_FAILED and never as a default answer. No signer is needed.
func (s *Session) CheckID(ctx context.Context, id ident.PropertyID) (bool, error) {
	start := time.Now()
	exists, err := s.ledger.CheckMortgage(ctx, id)
	if err != nil {
		s.metrics.ObserveQuery("error", time.Since(start))
		slog.Warn("check mortgage failed", "property_id", id.Hex(), "error", err)
		return false, tracker.NewQueryError(id, err)
	}
	outcome := "absent"
	if exists {
		outcome = "exists"
	}
	s.metrics.ObserveQuery(outcome, time.Since(start))
	return exists, nil
}

// Deliver enqueues an event batch. Safe from any goroutine; returns false
// once the session is closed.
func (s *Session) Deliver(b ledger.Batch) bool {
	return s.enqueue(Event{Type: EventTypeBatch, Batch: &b})
}

func (s *Session) enqueue(e Event) bool {
	ok := s.queue.Enqueue(e)
	s.metrics.SetQueueDepth(s.queue.Len())
	return ok
}

// Watch streams ledger events into the session until ctx is done.
func (s *Session) Watch(ctx context.Context) error {
	return s.ledger.Watch(ctx, s)
}

// Run is the consumer loop. It applies queued events in FIFO order until ctx
// is cancelled or the session is closed.
//
// A failing event is logged and skipped.
func (s *Session) Run(ctx context.Context) error {
	slog.Info("session consumer starting")
	for {
		if event, ok := s.queue.TryDequeue(); ok {
			s.apply(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("session consumer stopping: context cancelled")
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel is closed with the queue.
			if s.queue.Len() == 0 && s.isClosed() {
				slog.Info("session consumer stopping: session closed")
				return nil
			}
		}
	}
}

// Drain applies every queued event without blocking and returns how many
// were applied.
func (s *Session) Drain(ctx context.Context) int {
	n := 0
	for {
		event, ok := s.queue.TryDequeue()
		if !ok {
			return n
		}
		s.apply(ctx, event)
		n++
	}
}

// FlushReceipt waits until the receipt watcher for hash has finished, then
// drains the queue.
func (s *Session) FlushReceipt(ctx context.Context, hash common.Hash) error {
	s.mu.Lock()
	done, ok := s.watchers[hash]
	s.mu.Unlock()

	// A missing watcher has already enqueued its receipt, or never started.
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.Drain(ctx)
	return nil
}

// WaitSettled blocks until no submission is outstanding. Events must be
// consumed concurrently (Run) for Pending to resolve.
func (s *Session) WaitSettled(ctx context.Context) (tracker.State, error) {
	return s.tracker.Wait(ctx, tracker.Settled)
}

func (s *Session) apply(ctx context.Context, event Event) {
	s.consume.Lock()
	defer s.consume.Unlock()

	s.metrics.SetQueueDepth(s.queue.Len())
	if err := s.processEvent(ctx, event); err != nil {
		logEventError(event, err)
	}
}

func (s *Session) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeBatch:
		if event.Batch == nil {
			return fmt.Errorf("batch event missing batch")
		}
		return s.processBatch(ctx, *event.Batch)

	case EventTypeReceipt:
		if event.Receipt == nil {
			return fmt.Errorf("receipt event missing receipt")
		}
		r := event.Receipt
		// Alerts in the receipt reject the submission before its success is
		// applied. The alert log is still fed by the event stream.
		if len(r.Alerts) > 0 && s.tracker.RejectDoubleFinancing(receiptRejections(r.Alerts)...) {
			slog.Warn("submission rejected: double financing in receipt",
				"tx_hash", r.TxHash.Hex(),
				"alerts", len(r.Alerts),
			)
		}
		applied := s.tracker.Confirm(r.TxHash, r.Succeeded)
		slog.Debug("receipt observed",
			"tx_hash", r.TxHash.Hex(),
			"block", r.BlockNumber,
			"succeeded", r.Succeeded,
			"applied", applied,
		)
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func (s *Session) processBatch(ctx context.Context, b ledger.Batch) error {
	s.metrics.ObserveBatch(string(b.Stream), b.Len())

	var err error
	switch b.Stream {
	case ledger.StreamMortgageRegistered:
		err = s.recon.OnMortgageRegisteredBatch(ctx, b.Registered)
	case ledger.StreamAlertDoubleFinancing:
		_, err = s.recon.OnAlertBatch(ctx, b.Alerts)
	default:
		return fmt.Errorf("unknown stream %q", b.Stream)
	}

	if s.onBatch != nil {
		s.onBatch(b)
	}
	return err
}

// reject forwards a double-financing signal to the tracker.
func (s *Session) reject(sig reconcile.Signal) {
	rejections := make([]tracker.Rejection, len(sig.Alerts))
	for i, a := range sig.Alerts {
		rejections[i] = tracker.Rejection{
			PropertyID:   a.PropertyID,
			NewFinancier: a.NewFinancier,
			TxHash:       a.TxHash,
		}
	}
	if s.tracker.RejectDoubleFinancing(rejections...) {
		slog.Warn("submission rejected: double financing", "seq", sig.Seq)
	}
}

func receiptRejections(alerts []ledger.AlertDoubleFinancing) []tracker.Rejection {
	out := make([]tracker.Rejection, len(alerts))
	for i, a := range alerts {
		out[i] = tracker.Rejection{
			PropertyID:   a.PropertyID,
			NewFinancier: a.NewFinancier,
			TxHash:       a.TxHash,
		}
	}
	return out
}

// observe journals, counts and logs every tracker transition.
func (s *Session) observe(from, to tracker.State) {
	t := store.Transition{
		Submission: to.Submission,
		From:       from.Phase.String(),
		To:         to.Phase.String(),
		PropertyID: to.PropertyID,
		TxHash:     to.TxHash,
		RecordedAt: s.now.Now(),
	}
	if to.Err != nil {
		t.Reason = string(to.Err.Code)
		if t.TxHash == (common.Hash{}) {
			t.TxHash = to.Err.TxHash
		}
	}
	if _, err := s.store.AppendTransition(context.Background(), t); err != nil {
		slog.Error("journal transition failed", "submission", to.Submission, "error", err)
	}
	s.metrics.IncrementTransition(t.To)

	attrs := []any{
		"submission", to.Submission,
		"from", from.String(),
		"to", to.String(),
		"property_id", to.PropertyID.Hex(),
	}
	if to.Phase == tracker.PhaseFailed {
		slog.Warn("transaction state changed", attrs...)
		return
	}
	slog.Info("transaction state changed", attrs...)
}

// State returns the tracker state.
func (s *Session) State() tracker.State {
	return s.tracker.State()
}

// View returns the user-facing status.
func (s *Session) View() tracker.View {
	return s.tracker.View()
}

// Mortgages returns observed registrations, newest batch first.
func (s *Session) Mortgages(ctx context.Context) ([]store.MortgageRecord, error) {
	return s.recon.Mortgages(ctx)
}

// Alerts returns observed double-financing alerts, newest batch first.
func (s *Session) Alerts(ctx context.Context) ([]store.AlertRecord, error) {
	return s.recon.Alerts(ctx)
}

// History returns journaled transitions; an empty submission returns all.
func (s *Session) History(ctx context.Context, submission string) ([]store.Transition, error) {
	return s.store.ReadTransitions(ctx, submission)
}

func (s *Session) isClosed() bool {
	return s.ctx.Err() != nil
}

// Close stops receipt watchers, closes the queue and discards the journal.
func (s *Session) Close() error {
	// Cancel under mu so no watcher is added once Wait has begun.
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.queue.Close()
	s.wg.Wait()
	return s.store.Close()
}

func logEventError(event Event, err error) {
	switch event.Type {
	case EventTypeBatch:
		if event.Batch != nil {
			slog.Error("event processing failed",
				"event_type", "batch",
				"stream", event.Batch.Stream,
				"events", event.Batch.Len(),
				"error", err,
			)
			return
		}
	case EventTypeReceipt:
		if event.Receipt != nil {
			slog.Error("event processing failed",
				"event_type", "receipt",
				"tx_hash", event.Receipt.TxHash.Hex(),
				"error", err,
			)
			return
		}
	}
	slog.Error("event processing failed", "event_type", event.Type, "error", err)
}
