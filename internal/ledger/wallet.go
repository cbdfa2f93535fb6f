package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AutoWallet approves every request immediately and derives a deterministic
// transaction hash from the account, the calldata and a per-wallet nonce.
type AutoWallet struct {
	addr  common.Address
	mu    sync.Mutex
	nonce uint64
}

// NewAutoWallet returns a wallet signing as addr.
func NewAutoWallet(addr common.Address) *AutoWallet {
	return &AutoWallet{addr: addr}
}

func (w *AutoWallet) Address() common.Address {
	return w.addr
}

func (w *AutoWallet) Submit(ctx context.Context, call Call) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	w.mu.Lock()
	w.nonce++
	nonce := w.nonce
	w.mu.Unlock()

	return crypto.Keccak256Hash(w.addr.Bytes(), call.Data, binary.BigEndian.AppendUint64(nil, nonce)), nil
}

// SignRequest is one pending approval on a ScriptedWallet.
type SignRequest struct {
	Call  Call
	reply chan signReply
}

type signReply struct {
	hash common.Hash
	err  error
}

// Approve signs the request, reporting hash as the broadcast transaction.
func (r *SignRequest) Approve(hash common.Hash) {
	r.reply <- signReply{hash: hash}
}

// Reject refuses the request.
func (r *SignRequest) Reject(reason string) {
	r.reply <- signReply{err: fmt.Errorf("%w: %s", ErrSignerRejected, reason)}
}

// Fail completes the request with a non-rejection error, as a wallet whose
// broadcast failed would.
func (r *SignRequest) Fail(err error) {
	r.reply <- signReply{err: err}
}

// ScriptedWallet hands every Submit to the test or demo driving it through
// Requests, mimicking a browser wallet popup.
type ScriptedWallet struct {
	addr     common.Address
	requests chan *SignRequest
}

// NewScriptedWallet returns a wallet signing as addr.
func NewScriptedWallet(addr common.Address) *ScriptedWallet {
	return &ScriptedWallet{addr: addr, requests: make(chan *SignRequest)}
}

func (w *ScriptedWallet) Address() common.Address {
	return w.addr
}

// Requests yields approval requests in submission order.
func (w *ScriptedWallet) Requests() <-chan *SignRequest {
	return w.requests
}

// Submit blocks until the request is answered or ctx is done.
func (w *ScriptedWallet) Submit(ctx context.Context, call Call) (common.Hash, error) {
	req := &SignRequest{Call: call, reply: make(chan signReply, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.hash, r.err
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
}
