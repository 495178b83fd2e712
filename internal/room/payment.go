package room

import (
	"context"
	"errors"
	"strings"

	"go-traderoom/internal/store"

	"github.com/shopspring/decimal"
)

// PaymentStore is the slice of the remote store the payment lifecycle needs.
type PaymentStore interface {
	ReferenceChecker
	CreatePayment(ctx context.Context, p *store.Payment) error
	GetPayment(ctx context.Context, id string) (*store.Payment, error)
	TransitionPayment(ctx context.Context, id string, from []store.PaymentStatus, to store.PaymentStatus, upd store.PaymentUpdate) (*store.Payment, error)
	OutstandingPayment(ctx context.Context, roomID string) (*store.Payment, error)
}

// PaymentRequest is what the payee fills in when asking for money.
type PaymentRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Platform      string
	AccountName   string
	AccountNumber string
}

// Payments enforces who may move a payment record and from which state. The
// store's conditional updates make each transition happen at most once even
// when both participants race.
type Payments struct {
	store    PaymentStore
	verifier *Verifier
	roomID   string
}

func NewPayments(s PaymentStore, v *Verifier, roomID string) *Payments {
	return &Payments{store: s, verifier: v, roomID: roomID}
}

// Request creates a payment record owed by payer to requester. Only one
// request may be outstanding per room; a denied or cancelled request frees the slot.
func (p *Payments) Request(ctx context.Context, requester, payer string, req PaymentRequest) (*store.Payment, error) {
	if requester == payer {
		return nil, ErrSameParticipant
	}
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Reason: ReasonInvalidAmount, Detail: req.Amount.String()}
	}

	outstanding, err := p.store.OutstandingPayment(ctx, p.roomID)
	if err != nil {
		return nil, &PersistenceError{Op: "outstanding payment", Err: err}
	}
	if outstanding != nil {
		return nil, ErrPaymentOutstanding
	}

	rec := &store.Payment{
		RoomID:        p.roomID,
		RequesterID:   requester,
		PayerID:       payer,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		Platform:      req.Platform,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		Status:        store.PaymentRequested,
	}
	if err := p.store.CreatePayment(ctx, rec); err != nil {
		if errors.Is(err, store.ErrOutstanding) {
			return nil, ErrPaymentOutstanding
		}
		return nil, &PersistenceError{Op: "create payment", Err: err}
	}
	return rec, nil
}

// Cancel withdraws a request that has not been paid yet.
func (p *Payments) Cancel(ctx context.Context, actor, id string) (*store.Payment, error) {
	if _, err := p.asRequester(ctx, actor, id, TypePaymentRequestCancelled); err != nil {
		return nil, err
	}
	return p.transition(ctx, id, TypePaymentRequestCancelled, store.PaymentRequested, store.PaymentCancelled, store.PaymentUpdate{})
}

// Send records the payer's receipt after it passes verification. A failed
// check leaves the record untouched.
func (p *Payments) Send(ctx context.Context, actor, id string, r Receipt) (*store.Payment, error) {
	rec, err := p.get(ctx, id, TypePaymentSent)
	if err != nil {
		return nil, err
	}
	if rec.PayerID != actor {
		return nil, ErrNotPayer
	}
	if rec.Status != store.PaymentRequested {
		return nil, ErrInvalidTransition
	}

	if err := p.verifier.Verify(ctx, rec.Amount, r); err != nil {
		return nil, err
	}

	upd := store.PaymentUpdate{Reference: strings.TrimSpace(r.Reference), ReceiptURL: r.URL}
	return p.transition(ctx, id, TypePaymentSent, store.PaymentRequested, store.PaymentSent, upd)
}

func (p *Payments) Confirm(ctx context.Context, actor, id string) (*store.Payment, error) {
	if _, err := p.asRequester(ctx, actor, id, TypePaymentConfirmed); err != nil {
		return nil, err
	}
	return p.transition(ctx, id, TypePaymentConfirmed, store.PaymentSent, store.PaymentConfirmed, store.PaymentUpdate{})
}

// Deny rejects the payer's proof. Denied is terminal for this id.
func (p *Payments) Deny(ctx context.Context, actor, id string) (*store.Payment, error) {
	if _, err := p.asRequester(ctx, actor, id, TypePaymentDenied); err != nil {
		return nil, err
	}
	return p.transition(ctx, id, TypePaymentDenied, store.PaymentSent, store.PaymentDenied, store.PaymentUpdate{})
}

func (p *Payments) asRequester(ctx context.Context, actor, id string, t Type) (*store.Payment, error) {
	rec, err := p.get(ctx, id, t)
	if err != nil {
		return nil, err
	}
	if rec.RequesterID != actor {
		return nil, ErrNotRequester
	}
	return rec, nil
}

func (p *Payments) get(ctx context.Context, id string, t Type) (*store.Payment, error) {
	rec, err := p.store.GetPayment(ctx, id)
	if err != nil {
		return nil, storeError("get payment", id, t, err)
	}
	if rec.RoomID != p.roomID {
		return nil, &NotFoundError{PaymentID: id, Type: t}
	}
	return rec, nil
}

func (p *Payments) transition(ctx context.Context, id string, t Type, from, to store.PaymentStatus, upd store.PaymentUpdate) (*store.Payment, error) {
	rec, err := p.store.TransitionPayment(ctx, id, []store.PaymentStatus{from}, to, upd)
	if err != nil {
		return nil, storeError("update payment", id, t, err)
	}
	return rec, nil
}

func storeError(op, id string, t Type, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{PaymentID: id, Type: t}
	case errors.Is(err, store.ErrConflict):
		return ErrInvalidTransition
	}
	return &PersistenceError{Op: op, Err: err}
}
