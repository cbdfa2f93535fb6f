package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoWallet_DistinctHashes(t *testing.T) {
	w := NewAutoWallet(financierA)
	call := Call{Method: methodRegister, Data: []byte{1, 2, 3}}

	h1, err := w.Submit(context.Background(), call)
	require.NoError(t, err)
	h2, err := w.Submit(context.Background(), call)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	again, err := NewAutoWallet(financierA).Submit(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, h1, again, "hashes are deterministic per wallet")
}

func TestScriptedWallet_Approve(t *testing.T) {
	w := NewScriptedWallet(financierA)
	want := common.HexToHash("0xabc")

	go func() {
		req := <-w.Requests()
		req.Approve(want)
	}()

	got, err := w.Submit(context.Background(), Call{Method: methodRegister})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScriptedWallet_Reject(t *testing.T) {
	w := NewScriptedWallet(financierA)

	go func() {
		req := <-w.Requests()
		req.Reject("user denied")
	}()

	_, err := w.Submit(context.Background(), Call{})
	assert.ErrorIs(t, err, ErrSignerRejected)
	assert.Contains(t, err.Error(), "user denied")
}

func TestScriptedWallet_Fail(t *testing.T) {
	w := NewScriptedWallet(financierA)
	boom := errors.New("rpc unavailable")

	go func() {
		req := <-w.Requests()
		req.Fail(boom)
	}()

	_, err := w.Submit(context.Background(), Call{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrSignerRejected)
}

func TestScriptedWallet_ContextCancel(t *testing.T) {
	w := NewScriptedWallet(financierA)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := w.Submit(ctx, Call{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
