// Package reconcile folds streamed ledger events into the session's
// append-only mortgage and alert logs.
//
// Batches are appended whole: order within a batch is kept and the newest
// batch reads first. Nothing is deduplicated or sorted by block; the ledger
// is the source of truth and at-least-once delivery is passed through.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/ledger"
	"github.com/roach88/lienwatch/internal/store"
)

type (
	MortgageRecord = store.MortgageRecord
	AlertRecord    = store.AlertRecord
)

// TimeSource stamps alerts with their local observation time.
type TimeSource interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Signal is raised for every non-empty alert batch.
type Signal struct {
	Seq    int64
	Alerts []AlertRecord
}

// PropertyIDs lists the alerted identifiers in batch order.
func (s Signal) PropertyIDs() []ident.PropertyID {
	ids := make([]ident.PropertyID, len(s.Alerts))
	for i, a := range s.Alerts {
		ids[i] = a.PropertyID
	}
	return ids
}

// RejectionSink receives double-financing signals.
type RejectionSink interface {
	OnDoubleFinancing(Signal)
}

// RejectionFunc adapts a function to RejectionSink.
type RejectionFunc func(Signal)

func (f RejectionFunc) OnDoubleFinancing(s Signal) { f(s) }

// Reconciler owns the two event logs. Its On* methods are meant to be called
// from a single consumer goroutine.
type Reconciler struct {
	store *store.Store
	now   TimeSource
	sink  RejectionSink
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTimeSource overrides the wall clock used to stamp alerts.
func WithTimeSource(ts TimeSource) Option {
	return func(r *Reconciler) {
		r.now = ts
	}
}

// WithRejectionSink sets the receiver of double-financing signals.
func WithRejectionSink(s RejectionSink) Option {
	return func(r *Reconciler) {
		r.sink = s
	}
}

// New returns a reconciler writing to st.
func New(st *store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: st, now: wallClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnMortgageRegisteredBatch prepends a batch to the mortgage log.
func (r *Reconciler) OnMortgageRegisteredBatch(ctx context.Context, events []ledger.MortgageRegistered) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]MortgageRecord, len(events))
	for i, ev := range events {
		records[i] = MortgageRecord{
			PropertyID:   ev.PropertyID,
			Financier:    ev.Financier,
			RegisteredAt: ev.Timestamp,
			BlockNumber:  ev.BlockNumber,
			TxHash:       ev.TxHash,
		}
	}
	seq, err := r.store.AppendMortgages(ctx, records)
	if err != nil {
		return fmt.Errorf("mortgage batch: %w", err)
	}
	slog.Debug("mortgage batch ingested", "seq", seq, "events", len(records))
	return nil
}

// OnAlertBatch stamps each alert with the local time, prepends the batch to
// the alert log and, for a non-empty batch, signals the rejection sink. The
// signal is raised even if journaling fails; the error is still returned.
func (r *Reconciler) OnAlertBatch(ctx context.Context, events []ledger.AlertDoubleFinancing) (Signal, error) {
	if len(events) == 0 {
		return Signal{}, nil
	}
	observed := r.now.Now()
	records := make([]AlertRecord, len(events))
	for i, ev := range events {
		records[i] = AlertRecord{
			PropertyID:       ev.PropertyID,
			PrimaryFinancier: ev.PrimaryFinancier,
			NewFinancier:     ev.NewFinancier,
			ObservedAt:       observed,
			BlockNumber:      ev.BlockNumber,
			TxHash:           ev.TxHash,
		}
	}

	seq, appendErr := r.store.AppendAlerts(ctx, records)
	sig := Signal{Seq: seq, Alerts: records}
	slog.Info("double financing alert", "seq", seq, "events", len(records), "property_id", records[0].PropertyID.Hex())

	if r.sink != nil {
		r.sink.OnDoubleFinancing(sig)
	}
	if appendErr != nil {
		return sig, fmt.Errorf("alert batch: %w", appendErr)
	}
	return sig, nil
}

// Mortgages returns the mortgage log, newest batch first.
func (r *Reconciler) Mortgages(ctx context.Context) ([]MortgageRecord, error) {
	return r.store.ReadMortgages(ctx)
}

// Alerts returns the alert log, newest batch first.
func (r *Reconciler) Alerts(ctx context.Context) ([]AlertRecord, error) {
	return r.store.ReadAlerts(ctx)
}
