package room

import "time"

// Interaction is one locally observed protocol event. Timestamp is the receipt
// time on this device; SentAt is the sender's clock.
type Interaction struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SentAt    time.Time `json:"sent_at"`
	Type      Type      `json:"type"`
	SenderID  string    `json:"sender_id"`
	From      string    `json:"from"`
	Data      Payload   `json:"data"`
}

func newInteraction(ev Event, at time.Time) Interaction {
	return Interaction{
		EventID:   ev.ID,
		Timestamp: at,
		SentAt:    ev.SentAt,
		Type:      ev.Type,
		SenderID:  ev.SenderID,
		From:      ev.From,
		Data:      ev.Payload,
	}
}

func (i Interaction) PaymentID() string {
	return paymentID(i.Data)
}

// Status returns the projected payment status, or "" for non-payment entries.
func (i Interaction) Status() Status {
	switch v := i.Data.(type) {
	case PaymentRequested:
		return v.Status
	case PaymentSent:
		return v.Status
	}
	return ""
}

// withStatus returns a copy with the payment status replaced; the receiver is untouched.
func (i Interaction) withStatus(s Status) Interaction {
	switch v := i.Data.(type) {
	case PaymentRequested:
		v.Status = s
		i.Data = v
	case PaymentSent:
		v.Status = s
		i.Data = v
	}
	return i
}

// orderTime is the sender's clock when known, else the receipt time.
func (i Interaction) orderTime() time.Time {
	if i.SentAt.IsZero() {
		return i.Timestamp
	}
	return i.SentAt
}
