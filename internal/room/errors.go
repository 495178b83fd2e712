package room

import (
	"errors"
	"fmt"
)

var (
	ErrBusy               = errors.New("room: action already in progress")
	ErrPaymentOutstanding = errors.New("room: a payment request is already outstanding")
	ErrNotRequester       = errors.New("room: only the requester may do this")
	ErrNotPayer           = errors.New("room: only the payer may send payment")
	ErrInvalidTransition  = errors.New("room: invalid payment transition")
	ErrSessionClosed      = errors.New("room: session closed")
	ErrUnknownType        = errors.New("room: unknown event type")
	ErrFinished           = errors.New("room: transaction already finished")
	ErrNotFinished        = errors.New("room: transaction not finished")
	ErrSameParticipant    = errors.New("room: requester and payer must differ")
	ErrNotQueued          = errors.New("room: sender not in queue")
)

// DeliveryError means a broadcast did not reach the transport. The event stays
// queued on the session and is retried by the next Send or Flush.
type DeliveryError struct {
	Type Type
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Type, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed call to the remote store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Reason string

const (
	ReasonAmountMismatch     Reason = "amount_mismatch"
	ReasonStaleReceipt       Reason = "stale_receipt"
	ReasonDuplicateReference Reason = "duplicate_reference"
	ReasonMissingReference   Reason = "missing_reference"
	ReasonInvalidAmount      Reason = "invalid_amount"
	ReasonInvalidScore       Reason = "invalid_score"
	ReasonEmptyMessage       Reason = "empty_message"
)

// ValidationError is a user-facing rejection. Nothing was persisted or broadcast.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// NotFoundError reports a status event whose payment id has no local (or remote) record.
type NotFoundError struct {
	PaymentID string
	Type      Type
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: payment %s not found", e.Type, e.PaymentID)
}
