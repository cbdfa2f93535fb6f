package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/ledger"
	"github.com/roach88/lienwatch/internal/store"
)

var (
	financierA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	financierB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fixedTime time.Time

func (f fixedTime) Now() time.Time { return time.Time(f) }

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, opts...), st
}

func registered(desc string, ts uint64) ledger.MortgageRegistered {
	return ledger.MortgageRegistered{PropertyID: ident.Encode(desc), Financier: financierA, Timestamp: ts}
}

func ids(records []MortgageRecord) []ident.PropertyID {
	out := make([]ident.PropertyID, len(records))
	for i, r := range records {
		out[i] = r.PropertyID
	}
	return out
}

func TestOnMortgageRegisteredBatch_NewestBatchFirst(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	b1 := []ledger.MortgageRegistered{registered("a", 1), registered("b", 2), registered("c", 3)}
	b2 := []ledger.MortgageRegistered{registered("d", 4), registered("e", 5)}

	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, b1))
	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, b2))

	got, err := r.Mortgages(ctx)
	require.NoError(t, err)

	want := []ident.PropertyID{
		ident.Encode("d"), ident.Encode("e"),
		ident.Encode("a"), ident.Encode("b"), ident.Encode("c"),
	}
	assert.Equal(t, want, ids(got))
	assert.Equal(t, uint64(4), got[0].RegisteredAt)
}

func TestOnMortgageRegisteredBatch_OutOfOrderBlocksNotSorted(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	late := registered("late", 1)
	late.BlockNumber = 100
	early := registered("early", 1)
	early.BlockNumber = 5

	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, []ledger.MortgageRegistered{late}))
	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, []ledger.MortgageRegistered{early}))

	got, err := r.Mortgages(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(5), got[0].BlockNumber, "arrival order wins over block order")
}

func TestOnMortgageRegisteredBatch_DuplicatesKept(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	ev := registered("a", 1)
	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, []ledger.MortgageRegistered{ev}))
	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, []ledger.MortgageRegistered{ev}))

	got, err := r.Mortgages(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestOnMortgageRegisteredBatch_Empty(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t)

	require.NoError(t, r.OnMortgageRegisteredBatch(ctx, nil))
	assert.Zero(t, st.Clock().Current())
}

func TestOnAlertBatch_StampsAndSignals(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var signals []Signal
	r, _ := newTestReconciler(t,
		WithTimeSource(fixedTime(at)),
		WithRejectionSink(RejectionFunc(func(s Signal) { signals = append(signals, s) })),
	)

	batch := []ledger.AlertDoubleFinancing{
		{PropertyID: ident.Encode("a"), PrimaryFinancier: financierA, NewFinancier: financierB},
		{PropertyID: ident.Encode("b"), PrimaryFinancier: financierA, NewFinancier: financierB},
	}
	sig, err := r.OnAlertBatch(ctx, batch)
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, sig.Seq, signals[0].Seq)
	assert.Equal(t, []ident.PropertyID{ident.Encode("a"), ident.Encode("b")}, sig.PropertyIDs())

	alerts, err := r.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.True(t, at.Equal(a.ObservedAt))
		assert.Equal(t, financierA, a.PrimaryFinancier)
		assert.Equal(t, financierB, a.NewFinancier)
	}
}

func TestOnAlertBatch_EmptyDoesNotSignal(t *testing.T) {
	called := false
	r, _ := newTestReconciler(t, WithRejectionSink(RejectionFunc(func(Signal) { called = true })))

	_, err := r.OnAlertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestOnAlertBatch_NewestBatchFirst(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestReconciler(t)

	_, err := r.OnAlertBatch(ctx, []ledger.AlertDoubleFinancing{{PropertyID: ident.Encode("first")}})
	require.NoError(t, err)
	_, err = r.OnAlertBatch(ctx, []ledger.AlertDoubleFinancing{{PropertyID: ident.Encode("second")}})
	require.NoError(t, err)

	alerts, err := r.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, ident.Encode("second"), alerts[0].PropertyID)
	assert.Equal(t, ident.Encode("first"), alerts[1].PropertyID)
}

func TestOnAlertBatch_SignalsEvenWhenJournalFails(t *testing.T) {
	called := false
	r, st := newTestReconciler(t, WithRejectionSink(RejectionFunc(func(Signal) { called = true })))
	require.NoError(t, st.Close())

	_, err := r.OnAlertBatch(context.Background(), []ledger.AlertDoubleFinancing{{PropertyID: ident.Encode("a")}})
	assert.Error(t, err)
	assert.True(t, called, "a double-financing alert must reach the tracker regardless")
}
