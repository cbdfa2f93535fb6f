package tracker

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/lienwatch/internal/ident"
)

// ErrorCode categorizes tracker and query failures.
type ErrorCode string

const (
	// ErrCodeNotConnected: no signer is bound to the session.
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// ErrCodeAlreadyInProgress: a submission is awaiting signature or pending.
	ErrCodeAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS"

	// ErrCodeDoubleFinancingRejected: the ledger reported a double-financing
	// alert for the submission's property.
	ErrCodeDoubleFinancingRejected ErrorCode = "DOUBLE_FINANCING_REJECTED"

	// ErrCodeTransportFailure: the submission could not reach the ledger.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeWalletRejected: the signer refused the request.
	ErrCodeWalletRejected ErrorCode = "WALLET_REJECTED"

	// ErrCodeQueryFailed: a read-only registry query failed.
	ErrCodeQueryFailed ErrorCode = "QUERY_FAILED"

	// ErrCodeReverted: the transaction was mined but reverted.
	ErrCodeReverted ErrorCode = "TX_REVERTED"

	// ErrCodeInvalidIdentifier: the identifier is the reserved sentinel.
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"
)

// Error is a coded failure. Message is the user-facing text.
type Error struct {
	Code       ErrorCode
	Message    string
	PropertyID ident.PropertyID
	TxHash     common.Hash
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsNotConnected reports whether err is a NOT_CONNECTED error.
func IsNotConnected(err error) bool { return hasCode(err, ErrCodeNotConnected) }

// IsAlreadyInProgress reports whether err is an ALREADY_IN_PROGRESS error.
func IsAlreadyInProgress(err error) bool { return hasCode(err, ErrCodeAlreadyInProgress) }

// IsDoubleFinancingRejected reports whether err is a DOUBLE_FINANCING_REJECTED error.
func IsDoubleFinancingRejected(err error) bool {
	return hasCode(err, ErrCodeDoubleFinancingRejected)
}

// IsTransportFailure reports whether err is a TRANSPORT_FAILURE error.
func IsTransportFailure(err error) bool { return hasCode(err, ErrCodeTransportFailure) }

// IsWalletRejected reports whether err is a WALLET_REJECTED error.
func IsWalletRejected(err error) bool { return hasCode(err, ErrCodeWalletRejected) }

// IsQueryFailed reports whether err is a QUERY_FAILED error.
func IsQueryFailed(err error) bool { return hasCode(err, ErrCodeQueryFailed) }

// IsReverted reports whether err is a TX_REVERTED error.
func IsReverted(err error) bool { return hasCode(err, ErrCodeReverted) }

// IsInvalidIdentifier reports whether err is an INVALID_IDENTIFIER error.
func IsInvalidIdentifier(err error) bool { return hasCode(err, ErrCodeInvalidIdentifier) }

// NewNotConnectedError is returned when submitting without a signer.
func NewNotConnectedError() *Error {
	return &Error{Code: ErrCodeNotConnected, Message: MsgNotConnected}
}

// NewAlreadyInProgressError is returned when a submission is outstanding.
func NewAlreadyInProgressError(id ident.PropertyID) *Error {
	return &Error{Code: ErrCodeAlreadyInProgress, Message: MsgAlreadyInProgress, PropertyID: id}
}

// NewDoubleFinancingError records a double-financing alert for id.
func NewDoubleFinancingError(id ident.PropertyID, txHash common.Hash) *Error {
	return &Error{Code: ErrCodeDoubleFinancingRejected, Message: MsgDoubleFinancing, PropertyID: id, TxHash: txHash}
}

// NewTransportError wraps a failure to reach the ledger while submitting.
func NewTransportError(id ident.PropertyID, err error) *Error {
	return &Error{Code: ErrCodeTransportFailure, Message: MsgRegisterFailed, PropertyID: id, Err: err}
}

// NewWalletRejectedError wraps a signer refusal.
func NewWalletRejectedError(id ident.PropertyID, err error) *Error {
	return &Error{Code: ErrCodeWalletRejected, Message: MsgRegisterFailed, PropertyID: id, Err: err}
}

// NewQueryError wraps a failed registry query.
func NewQueryError(id ident.PropertyID, err error) *Error {
	return &Error{Code: ErrCodeQueryFailed, Message: MsgCheckFailed, PropertyID: id, Err: err}
}

// NewRevertedError records a mined but reverted transaction.
func NewRevertedError(id ident.PropertyID, txHash common.Hash) *Error {
	return &Error{Code: ErrCodeReverted, Message: MsgReverted, PropertyID: id, TxHash: txHash}
}

// NewInvalidIdentifierError rejects the reserved sentinel identifier.
func NewInvalidIdentifierError() *Error {
	return &Error{Code: ErrCodeInvalidIdentifier, Message: MsgInvalidIdentifier, PropertyID: ident.Zero}
}
