package tracker

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
)

// Phase is the tag of the transaction state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingSignature
	PhasePending
	PhaseConfirmed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitingSignature:
		return "AwaitingSignature"
	case PhasePending:
		return "Pending"
	case PhaseConfirmed:
		return "Confirmed"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// InProgress reports whether a submission is outstanding. No new submission
// may begin while it is.
func (p Phase) InProgress() bool {
	return p == PhaseAwaitingSignature || p == PhasePending
}

// State is a snapshot of the single tracked transaction.
type State struct {
	Phase Phase

	// Submission identifies the latest submit attempt. Empty while Idle.
	Submission string

	// PropertyID is the identifier of the latest submission.
	PropertyID ident.PropertyID

	// From is the signer of the latest submission.
	From common.Address

	// TxHash is set only while Pending.
	TxHash common.Hash

	// Err is set only while Failed.
	Err *Error
}

// Loading is derived from the phase; there is no separate flag.
func (s State) Loading() bool {
	return s.Phase.InProgress()
}

// String renders the tagged form, e.g. "Pending(0xabc...)" or
// "Failed(DOUBLE_FINANCING_REJECTED)".
func (s State) String() string {
	switch s.Phase {
	case PhasePending:
		return fmt.Sprintf("Pending(%s)", s.TxHash.Hex())
	case PhaseFailed:
		if s.Err != nil {
			return fmt.Sprintf("Failed(%s)", s.Err.Code)
		}
	}
	return s.Phase.String()
}

// View is the user-facing projection of a State.
type View struct {
	Phase   Phase       `json:"phase"`
	Loading bool        `json:"loading"`
	Status  string      `json:"status,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    ErrorCode   `json:"code,omitempty"`
	TxHash  common.Hash `json:"tx_hash,omitempty"`
}

// View derives the status and error text for s.
func (s State) View() View {
	v := View{Phase: s.Phase, Loading: s.Loading()}
	switch s.Phase {
	case PhaseAwaitingSignature:
		v.Status = MsgAwaitingSignature
	case PhasePending:
		v.Status = MsgPending
		v.TxHash = s.TxHash
	case PhaseConfirmed:
		v.Status = MsgConfirmed
	case PhaseFailed:
		if s.Err != nil {
			v.Error = s.Err.Message
			v.Code = s.Err.Code
		}
	}
	return v
}

// Message returns whichever of the status or error text is set.
func (v View) Message() string {
	if v.Error != "" {
		return v.Error
	}
	return v.Status
}

// MarshalText renders the phase name in JSON output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
