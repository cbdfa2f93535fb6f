package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lienwatch/internal/ident"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSim_FirstRegistrationEmitsRecord(t *testing.T) {
	sim := NewSim(WithSimClock(fixedNow))
	sink := &collectSink{}
	detach := sim.Attach(sink)
	defer detach()

	ctx := context.Background()
	wallet := NewAutoWallet(financierA)
	id := ident.Encode("123 Main St")

	hash, err := sim.RegisterMortgage(ctx, wallet, id)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{hash}, sim.Pending())

	exists, err := sim.CheckMortgage(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists, "pending registration is not yet visible")

	require.NoError(t, sim.Mine(hash))

	exists, err = sim.CheckMortgage(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	batches := sink.snapshot()
	require.Len(t, batches, 1)
	require.Equal(t, StreamMortgageRegistered, batches[0].Stream)
	assert.Equal(t, MortgageRegistered{
		PropertyID:  id,
		Financier:   financierA,
		Timestamp:   uint64(fixedNow().Unix()),
		BlockNumber: 1,
		TxHash:      hash,
	}, batches[0].Registered[0])

	r, err := sim.WaitReceipt(ctx, hash)
	require.NoError(t, err)
	assert.True(t, r.Succeeded)
	assert.Equal(t, uint64(1), r.BlockNumber)
	assert.Empty(t, r.Alerts)
}

func TestSim_SecondRegistrationEmitsAlert(t *testing.T) {
	sim := NewSim()
	sink := &collectSink{}
	sim.Attach(sink)

	id := ident.Encode("123 Main St")
	sim.RegisterExternal(financierA, id)

	hash, err := sim.RegisterMortgage(context.Background(), NewAutoWallet(financierB), id)
	require.NoError(t, err)
	require.NoError(t, sim.Mine(hash))

	batches := sink.snapshot()
	require.Len(t, batches, 2)
	require.Equal(t, StreamAlertDoubleFinancing, batches[1].Stream)
	alert := batches[1].Alerts[0]
	assert.Equal(t, financierA, alert.PrimaryFinancier)
	assert.Equal(t, financierB, alert.NewFinancier)

	primary, ok := sim.Financier(id)
	require.True(t, ok)
	assert.Equal(t, financierA, primary, "registry keeps the first financier")

	r, err := sim.WaitReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, r.Succeeded, "the contract does not revert on double financing")
	assert.Equal(t, []AlertDoubleFinancing{alert}, r.Alerts, "the receipt carries the alert log")
}

func TestSim_WaitReceiptBlocksUntilMined(t *testing.T) {
	sim := NewSim()
	hash, err := sim.RegisterMortgage(context.Background(), NewAutoWallet(financierA), ident.Encode("x"))
	require.NoError(t, err)

	got := make(chan Receipt, 1)
	go func() {
		r, err := sim.WaitReceipt(context.Background(), hash)
		if err == nil {
			got <- r
		}
	}()

	select {
	case <-got:
		t.Fatal("receipt before Mine")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, sim.Mine(hash))

	select {
	case r := <-got:
		assert.Equal(t, hash, r.TxHash)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitReceipt did not return after Mine")
	}
}

func TestSim_UnknownHash(t *testing.T) {
	sim := NewSim()
	assert.ErrorIs(t, sim.Mine(common.HexToHash("0x1")), ErrNotFound)
	_, err := sim.WaitReceipt(context.Background(), common.HexToHash("0x1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSim_Outage(t *testing.T) {
	sim := NewSim()
	sim.SetOutage(true)

	_, err := sim.CheckMortgage(context.Background(), ident.Encode("x"))
	assert.ErrorIs(t, err, ErrOutage)
	_, err = sim.RegisterMortgage(context.Background(), NewAutoWallet(financierA), ident.Encode("x"))
	assert.ErrorIs(t, err, ErrOutage)

	sim.SetOutage(false)
	_, err = sim.CheckMortgage(context.Background(), ident.Encode("x"))
	assert.NoError(t, err)
}

func TestSim_ClosedSinkIsDetached(t *testing.T) {
	sim := NewSim()
	closed := &collectSink{closed: true}
	open := &collectSink{}
	sim.Attach(closed)
	sim.Attach(open)

	sim.InjectAlert(ident.Encode("x"), financierA, financierB)
	sim.InjectAlert(ident.Encode("y"), financierA, financierB)

	assert.Len(t, open.snapshot(), 2)
	assert.Equal(t, 1, sim.Sinks())
}

func TestSim_WatchDetachesOnCancel(t *testing.T) {
	sim := NewSim()
	sink := &collectSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Watch(ctx, sink) }()

	require.Eventually(t, func() bool {
		return sim.Sinks() == 1
	}, 5*time.Second, time.Millisecond)

	sim.InjectAlert(ident.Encode("x"), financierA, financierB)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
	sim.InjectAlert(ident.Encode("y"), financierA, financierB)
	assert.Len(t, sink.snapshot(), 1)
}
