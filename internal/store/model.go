package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict means a conditional update found the row in a different state.
	ErrConflict = errors.New("store: record state conflict")
	// ErrOutstanding means the room already has a requested or sent payment.
	ErrOutstanding = errors.New("store: room already has an outstanding payment")
)

type PaymentStatus string

const (
	PaymentRequested PaymentStatus = "requested"
	PaymentSent      PaymentStatus = "sent"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentDenied    PaymentStatus = "denied"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Outstanding reports whether the payment still blocks a new request in its room.
func (s PaymentStatus) Outstanding() bool {
	return s == PaymentRequested || s == PaymentSent
}

type TransactionStatus string

const (
	TransactionOngoing   TransactionStatus = "ongoing"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Payment is the authoritative row for one payment request.
type Payment struct {
	ID            string          `json:"id"`
	RoomID        string          `json:"room_id"`
	RequesterID   string          `json:"requester_id"`
	PayerID       string          `json:"payer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Platform      string          `json:"platform"`
	AccountName   string          `json:"account_name"`
	AccountNumber string          `json:"account_number"`
	Status        PaymentStatus   `json:"status"`
	Reference     string          `json:"reference,omitempty"`
	ReceiptURL    string          `json:"receipt_url,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PaymentUpdate carries the optional fields written alongside a status change.
type PaymentUpdate struct {
	Reference  string
	ReceiptURL string
}

// Transaction is the durable record of one room, keyed by the room id.
type Transaction struct {
	ID          string            `json:"id"`
	MerchantID  string            `json:"merchant_id"`
	ClientID    string            `json:"client_id"`
	Status      TransactionStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Platforms   []string          `json:"platforms"`
	Timeline    json.RawMessage   `json:"timeline,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

// HasParticipant reports whether accountID is one of the two room members.
func (t *Transaction) HasParticipant(accountID string) bool {
	return accountID != "" && (t.MerchantID == accountID || t.ClientID == accountID)
}

// Counterparty returns the other member of the room.
func (t *Transaction) Counterparty(accountID string) string {
	if t.MerchantID == accountID {
		return t.ClientID
	}
	return t.MerchantID
}

type Rating struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	RaterID       string    `json:"rater_id"`
	RateeID       string    `json:"ratee_id"`
	Score         int       `json:"score"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
