package room

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Family groups event types onto the handler they are dispatched to.
type Family string

const (
	FamilyUser        Family = "user"
	FamilyMessage     Family = "message"
	FamilyPayment     Family = "payment"
	FamilyProduct     Family = "product"
	FamilyTransaction Family = "transaction"
)

var Families = []Family{FamilyUser, FamilyMessage, FamilyPayment, FamilyProduct, FamilyTransaction}

type Type string

const (
	TypeUserJoined              Type = "user_joined"
	TypeUserLeft                Type = "user_left"
	TypePaymentRequested        Type = "payment_requested"
	TypePaymentRequestCancelled Type = "payment_request_cancelled"
	TypePaymentSent             Type = "payment_sent"
	TypePaymentConfirmed        Type = "payment_confirmed"
	TypePaymentDenied           Type = "payment_denied"
	TypeProductSent             Type = "product_sent"
	TypeProductReceived         Type = "product_received"
	TypeMessage                 Type = "message"
	TypeTransactionStarted      Type = "transaction_started"
	TypeTransactionCompleted    Type = "transaction_completed"
	TypeTransactionCancelled    Type = "transaction_cancelled"
)

// Family returns the family a type belongs to; ok is false for unknown types.
func (t Type) Family() (Family, bool) {
	switch t {
	case TypeUserJoined, TypeUserLeft:
		return FamilyUser, true
	case TypePaymentRequested, TypePaymentRequestCancelled, TypePaymentSent, TypePaymentConfirmed, TypePaymentDenied:
		return FamilyPayment, true
	case TypeProductSent, TypeProductReceived:
		return FamilyProduct, true
	case TypeMessage:
		return FamilyMessage, true
	case TypeTransactionStarted, TypeTransactionCompleted, TypeTransactionCancelled:
		return FamilyTransaction, true
	}
	return "", false
}

// Status is the locally projected state of a payment interaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusCompleted  Status = "completed"
	StatusConfirmed  Status = "confirmed"
	StatusDenied     Status = "denied"
	StatusCancelled  Status = "cancelled"
)

// Payload is the type-specific body of an event. The set of implementations is closed.
type Payload interface {
	payload()
}

type UserPresence struct{}

type PaymentRequested struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Platform      string          `json:"platform"`
	AccountName   string          `json:"account_name"`
	AccountNumber string          `json:"account_number"`
	Status        Status          `json:"status"`
}

type PaymentSent struct {
	ID         string `json:"id"`
	Reference  string `json:"reference"`
	ReceiptURL string `json:"receipt_url,omitempty"`
	Status     Status `json:"status"`
}

// PaymentStatusChange is the body of confirm, deny and cancel events.
type PaymentStatusChange struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

type ProductNotice struct {
	Note string `json:"note,omitempty"`
}

type Message struct {
	Text string `json:"text"`
}

type TransactionNotice struct {
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ActorID     string          `json:"actor_id"`
}

func (UserPresence) payload()        {}
func (PaymentRequested) payload()    {}
func (PaymentSent) payload()         {}
func (PaymentStatusChange) payload() {}
func (ProductNotice) payload()       {}
func (Message) payload()             {}
func (TransactionNotice) payload()   {}

// Participant identifies one side of a room. It is passed in explicitly; the
// room never looks up "the current user" on its own.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PushToken string `json:"push_token,omitempty"`
}

// Event is one protocol message, decoded.
type Event struct {
	ID       string
	Type     Type
	SenderID string
	From     string
	SentAt   time.Time
	Payload  Payload
}

// NewEvent stamps a fresh event id and origin time.
func NewEvent(t Type, sender Participant, p Payload) Event {
	return Event{
		ID:       ulid.Make().String(),
		Type:     t,
		SenderID: sender.ID,
		From:     sender.Name,
		SentAt:   time.Now().UTC(),
		Payload:  p,
	}
}

// PaymentID returns the correlation id carried by payment events.
func (e Event) PaymentID() string {
	return paymentID(e.Payload)
}

func paymentID(p Payload) string {
	switch v := p.(type) {
	case PaymentRequested:
		return v.ID
	case PaymentSent:
		return v.ID
	case PaymentStatusChange:
		return v.ID
	}
	return ""
}

type envelope struct {
	ID       string          `json:"id"`
	Event    Family          `json:"event"`
	Type     Type            `json:"type"`
	SenderID string          `json:"sender_id"`
	From     string          `json:"from"`
	SentAt   time.Time       `json:"sent_at"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent serialises an event into its broadcast envelope.
func EncodeEvent(ev Event) ([]byte, error) {
	family, ok := ev.Type.Family()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	if err := checkPayload(ev.Type, ev.Payload); err != nil {
		return nil, err
	}

	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}

	return json.Marshal(envelope{
		ID:       ev.ID,
		Event:    family,
		Type:     ev.Type,
		SenderID: ev.SenderID,
		From:     ev.From,
		SentAt:   ev.SentAt,
		Data:     data,
	})
}

// DecodeEvent parses a broadcast envelope. Unknown types yield ErrUnknownType so
// callers can drop them without treating them as corruption.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("malformed envelope: %w", err)
	}

	family, ok := env.Type.Family()
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if env.Event != "" && env.Event != family {
		return Event{}, fmt.Errorf("malformed envelope: type %s does not belong to family %s", env.Type, env.Event)
	}

	p, err := decodePayload(env.Type, env.Data)
	if err != nil {
		return Event{}, fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}

	return Event{
		ID:       env.ID,
		Type:     env.Type,
		SenderID: env.SenderID,
		From:     env.From,
		SentAt:   env.SentAt,
		Payload:  p,
	}, nil
}

func decodePayload(t Type, data json.RawMessage) (Payload, error) {
	switch t {
	case TypeUserJoined, TypeUserLeft:
		return UserPresence{}, nil
	case TypePaymentRequested:
		var p PaymentRequested
		if err := unmarshalData(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypePaymentSent:
		var p PaymentSent
		if err := unmarshalData(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypePaymentConfirmed, TypePaymentDenied, TypePaymentRequestCancelled:
		var p PaymentStatusChange
		if err := unmarshalData(data, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, fmt.Errorf("missing payment id")
		}
		return p, nil
	case TypeProductSent, TypeProductReceived:
		var p ProductNotice
		if err := unmarshalData(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeMessage:
		var p Message
		if err := unmarshalData(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeTransactionStarted, TypeTransactionCompleted, TypeTransactionCancelled:
		var p TransactionNotice
		if err := unmarshalData(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func checkPayload(t Type, p Payload) error {
	var ok bool
	switch t {
	case TypeUserJoined, TypeUserLeft:
		_, ok = p.(UserPresence)
	case TypePaymentRequested:
		_, ok = p.(PaymentRequested)
	case TypePaymentSent:
		_, ok = p.(PaymentSent)
	case TypePaymentConfirmed, TypePaymentDenied, TypePaymentRequestCancelled:
		_, ok = p.(PaymentStatusChange)
	case TypeProductSent, TypeProductReceived:
		_, ok = p.(ProductNotice)
	case TypeMessage:
		_, ok = p.(Message)
	case TypeTransactionStarted, TypeTransactionCompleted, TypeTransactionCancelled:
		_, ok = p.(TransactionNotice)
	}
	if !ok {
		return fmt.Errorf("payload %T does not match event type %s", p, t)
	}
	return nil
}
