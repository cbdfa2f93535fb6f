package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/roach88/lienwatch/internal/ident"
)

// Backend is the node API the Ethereum ledger needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// DefaultPollInterval is the event poll period when none is configured.
const DefaultPollInterval = 2 * time.Second

// EthereumConfig configures the contract binding and pollers.
type EthereumConfig struct {
	// Contract is the registry address. Zero means DefaultContractAddress.
	Contract common.Address

	// PollInterval is the event poll period. Zero means 2s.
	PollInterval time.Duration

	// ReceiptPollInterval is the receipt poll period. Zero means PollInterval.
	ReceiptPollInterval time.Duration

	// StartBlock, when non-zero, makes Watch replay from that block instead
	// of starting after the current head.
	StartBlock uint64

	// MaxBlockRange bounds a single FilterLogs query. Zero means 2000.
	MaxBlockRange uint64
}

func (c EthereumConfig) withDefaults() EthereumConfig {
	if c.Contract == (common.Address{}) {
		c.Contract = DefaultContractAddress
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = c.PollInterval
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = 2000
	}
	return c
}

// Ethereum is the Ledger backed by a JSON-RPC node.
type Ethereum struct {
	backend  Backend
	contract *bind.BoundContract
	cfg      EthereumConfig
}

// NewEthereum binds the registry contract on backend.
func NewEthereum(backend Backend, cfg EthereumConfig) *Ethereum {
	cfg = cfg.withDefaults()
	return &Ethereum{
		backend:  backend,
		contract: bind.NewBoundContract(cfg.Contract, RegistryABI, backend, backend, backend),
		cfg:      cfg,
	}
}

// Dial connects to rpcURL and binds the registry contract.
func Dial(ctx context.Context, rpcURL string, cfg EthereumConfig) (*Ethereum, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewEthereum(client, cfg), client, nil
}

// Contract returns the bound registry address.
func (e *Ethereum) Contract() common.Address {
	return e.cfg.Contract
}

// Bound returns the underlying contract binding, used by KeySigner.
func (e *Ethereum) Bound() *bind.BoundContract {
	return e.contract
}

// CheckMortgage calls checkMortgage(id) at the latest block.
func (e *Ethereum) CheckMortgage(ctx context.Context, id ident.PropertyID) (bool, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodCheck, [32]byte(id)); err != nil {
		return false, fmt.Errorf("call %s(%s): %w", methodCheck, id, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("call %s: got %d outputs, want 1", methodCheck, len(out))
	}
	exists, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("call %s: output is %T, want bool", methodCheck, out[0])
	}
	return exists, nil
}

// RegisterMortgage packs registerMortgage(id) and hands it to signer.
func (e *Ethereum) RegisterMortgage(ctx context.Context, signer Signer, id ident.PropertyID) (common.Hash, error) {
	data, err := PackRegister(id)
	if err != nil {
		return common.Hash{}, err
	}
	return signer.Submit(ctx, Call{
		To:         e.cfg.Contract,
		Method:     methodRegister,
		PropertyID: id,
		Data:       data,
	})
}

// WaitReceipt polls for the receipt of hash. Missing receipts and transport
// errors keep it polling; it returns only with a receipt or ctx's error.
func (e *Ethereum) WaitReceipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	ticker := time.NewTicker(e.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		r, err := e.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && r != nil:
			var block uint64
			if r.BlockNumber != nil {
				block = r.BlockNumber.Uint64()
			}
			return Receipt{
				TxHash:      hash,
				BlockNumber: block,
				Succeeded:   r.Status == types.ReceiptStatusSuccessful,
				Alerts:      e.receiptAlerts(r.Logs),
			}, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			if ctx.Err() != nil {
				return Receipt{}, ctx.Err()
			}
			slog.Warn("receipt poll failed", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// receiptAlerts decodes the registry's AlertDoubleFinancing logs from a
// receipt. A double-financing registration succeeds, so the alert in its
// own receipt is the only sign of rejection available at confirmation time.
func (e *Ethereum) receiptAlerts(logs []*types.Log) []AlertDoubleFinancing {
	own := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if l != nil && l.Address == e.cfg.Contract {
			own = append(own, *l)
		}
	}
	_, alerts := splitLogs(own)
	return alerts
}

// Watch polls FilterLogs for both event streams and delivers at most one
// batch per stream per poll. Reorged (removed) logs are dropped.
func (e *Ethereum) Watch(ctx context.Context, sink Sink) error {
	from := e.cfg.StartBlock
	if from == 0 {
		head, err := e.headWithRetry(ctx)
		if err != nil {
			return err
		}
		from = head + 1
	}
	slog.Info("watching registry events", "contract", e.cfg.Contract.Hex(), "from_block", from)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		next, ok, err := e.poll(ctx, from, sink)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("event poll failed", "from_block", from, "error", err)
		} else {
			from = next
		}
		if !ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Ethereum) headWithRetry(ctx context.Context) (uint64, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		head, err := e.backend.BlockNumber(ctx)
		if err == nil {
			return head, nil
		}
		slog.Warn("block number failed", "error", err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll fetches logs in [from, head] and returns the next block to query.
// ok is false once the sink stops accepting batches.
func (e *Ethereum) poll(ctx context.Context, from uint64, sink Sink) (next uint64, ok bool, err error) {
	head, err := e.backend.BlockNumber(ctx)
	if err != nil {
		return from, true, fmt.Errorf("block number: %w", err)
	}
	if head < from {
		return from, true, nil
	}
	to := head
	if to-from+1 > e.cfg.MaxBlockRange {
		to = from + e.cfg.MaxBlockRange - 1
	}

	logs, err := e.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{e.cfg.Contract},
		Topics:    [][]common.Hash{{eventID(StreamMortgageRegistered), eventID(StreamAlertDoubleFinancing)}},
	})
	if err != nil {
		return from, true, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	registered, alerts := splitLogs(logs)
	if len(registered) > 0 && !sink.Deliver(RegisteredBatch(registered...)) {
		return to + 1, false, nil
	}
	if len(alerts) > 0 && !sink.Deliver(AlertBatch(alerts...)) {
		return to + 1, false, nil
	}
	return to + 1, true, nil
}

// splitLogs decodes logs into per-stream slices, keeping log order.
func splitLogs(logs []types.Log) ([]MortgageRegistered, []AlertDoubleFinancing) {
	var (
		registered []MortgageRegistered
		alerts     []AlertDoubleFinancing
	)
	for _, l := range logs {
		if l.Removed || len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case eventID(StreamMortgageRegistered):
			ev, err := DecodeRegistered(l)
			if err != nil {
				slog.Warn("skipping undecodable log", "tx_hash", l.TxHash.Hex(), "error", err)
				continue
			}
			registered = append(registered, ev)
		case eventID(StreamAlertDoubleFinancing):
			ev, err := DecodeAlert(l)
			if err != nil {
				slog.Warn("skipping undecodable log", "tx_hash", l.TxHash.Hex(), "error", err)
				continue
			}
			alerts = append(alerts, ev)
		}
	}
	return registered, alerts
}
