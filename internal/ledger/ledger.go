package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
)

var (
	// ErrSignerRejected is returned (wrapped) by a Signer when the user or key
	// refuses to sign. Callers distinguish it from transport failures.
	ErrSignerRejected = errors.New("signer rejected the request")

	// ErrNotFound is returned when a lookup has no result yet.
	ErrNotFound = errors.New("not found")
)

// MortgageRegistered is the decoded MortgageRegistered event.
type MortgageRegistered struct {
	PropertyID  ident.PropertyID
	Financier   common.Address
	Timestamp   uint64 // block time in unix seconds
	BlockNumber uint64
	TxHash      common.Hash
}

// AlertDoubleFinancing is the decoded AlertDoubleFinancing event.
type AlertDoubleFinancing struct {
	PropertyID       ident.PropertyID
	PrimaryFinancier common.Address
	NewFinancier     common.Address
	BlockNumber      uint64
	TxHash           common.Hash
}

// Stream names one of the two contract event streams.
type Stream string

const (
	StreamMortgageRegistered   Stream = "MortgageRegistered"
	StreamAlertDoubleFinancing Stream = "AlertDoubleFinancing"
)

// Batch is one delivery from a stream. Exactly one of Registered or Alerts is
// populated, selected by Stream.
type Batch struct {
	Stream     Stream
	Registered []MortgageRegistered
	Alerts     []AlertDoubleFinancing
}

// Len returns the number of events in the batch.
func (b Batch) Len() int {
	if b.Stream == StreamAlertDoubleFinancing {
		return len(b.Alerts)
	}
	return len(b.Registered)
}

// RegisteredBatch builds a MortgageRegistered batch.
func RegisteredBatch(events ...MortgageRegistered) Batch {
	return Batch{Stream: StreamMortgageRegistered, Registered: events}
}

// AlertBatch builds an AlertDoubleFinancing batch.
func AlertBatch(events ...AlertDoubleFinancing) Batch {
	return Batch{Stream: StreamAlertDoubleFinancing, Alerts: events}
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Succeeded   bool

	// Alerts are the AlertDoubleFinancing events emitted by the transaction
	// itself. A double-financing registration still succeeds.
	Alerts []AlertDoubleFinancing
}

// Call is a contract call ready for signing.
type Call struct {
	To         common.Address
	Method     string
	PropertyID ident.PropertyID
	Data       []byte
}

// Signer signs and broadcasts contract calls. Submit blocks while approval is
// outstanding and returns the transaction hash once the network accepted it.
type Signer interface {
	Address() common.Address
	Submit(ctx context.Context, call Call) (common.Hash, error)
}

// Sink receives event batches. Deliver must not block for long and reports
// false once the sink no longer accepts batches.
type Sink interface {
	Deliver(b Batch) bool
}

// Ledger is the registry contract as seen by the client.
type Ledger interface {
	// CheckMortgage reports whether the registry holds a record for id.
	CheckMortgage(ctx context.Context, id ident.PropertyID) (bool, error)

	// RegisterMortgage builds the registerMortgage call and hands it to signer.
	RegisterMortgage(ctx context.Context, signer Signer, id ident.PropertyID) (common.Hash, error)

	// WaitReceipt blocks until the transaction is mined or ctx is done.
	WaitReceipt(ctx context.Context, hash common.Hash) (Receipt, error)

	// Watch streams new events into sink until ctx is done. Only events
	// produced after Watch starts are delivered.
	Watch(ctx context.Context, sink Sink) error
}
