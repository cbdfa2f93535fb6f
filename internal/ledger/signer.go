package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs with a local private key and broadcasts through the
// registry binding. It never prompts, so refusal only happens when the key
// cannot sign for the chain.
type KeySigner struct {
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// NewKeySigner parses a hex private key (with or without 0x) and builds a
// transactor for chainID.
func NewKeySigner(contract *bind.BoundContract, hexKey string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newKeySigner(contract, key, chainID)
}

func newKeySigner(contract *bind.BoundContract, key *ecdsa.PrivateKey, chainID *big.Int) (*KeySigner, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("keyed transactor: %w", err)
	}
	return &KeySigner{contract: contract, opts: opts}, nil
}

// Address returns the signing account.
func (s *KeySigner) Address() common.Address {
	return s.opts.From
}

// Submit signs call.Data and broadcasts it to the bound contract.
func (s *KeySigner) Submit(ctx context.Context, call Call) (common.Hash, error) {
	opts := *s.opts
	opts.Context = ctx

	sign := opts.Signer
	opts.Signer = func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
		signed, err := sign(from, tx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
		}
		return signed, nil
	}

	tx, err := s.contract.RawTransact(&opts, call.Data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transact %s: %w", call.Method, err)
	}
	return tx.Hash(), nil
}
