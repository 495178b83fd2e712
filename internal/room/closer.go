package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go-traderoom/internal/store"
)

type TransactionStore interface {
	FinishTransaction(ctx context.Context, t *store.Transaction) error
	CreateRating(ctx context.Context, r *store.Rating) error
}

// Outcome is how a participant reacts to a finished transaction.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeRate: this participant finished the room and goes straight to rating.
	OutcomeRate
	// OutcomePeerFinished: the counterparty finished; show the result first.
	OutcomePeerFinished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRate:
		return "rate"
	case OutcomePeerFinished:
		return "peer_finished"
	}
	return "none"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// OutcomeFor classifies a transaction event for participant self.
func OutcomeFor(ev Event, self Participant) Outcome {
	n, ok := ev.Payload.(TransactionNotice)
	if !ok || (ev.Type != TypeTransactionCompleted && ev.Type != TypeTransactionCancelled) {
		return OutcomeNone
	}
	if n.ActorID == self.ID {
		return OutcomeRate
	}
	return OutcomePeerFinished
}

// BuildTimeline drops chat messages, orders the rest by the sender's clock
// (receipt time breaks ties) and appends the closing entry.
func BuildTimeline(history []Interaction, closing Interaction) []Interaction {
	out := make([]Interaction, 0, len(history)+1)
	for _, e := range history {
		if e.Type != TypeMessage {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].orderTime(), out[j].orderTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return append(out, closing)
}

// Closer persists the final state of a room and collects ratings.
type Closer struct {
	store        TransactionStore
	roomID       string
	self         Participant
	counterparty Participant
	clock        func() time.Time
}

func NewCloser(s TransactionStore, roomID string, self, counterparty Participant) *Closer {
	return &Closer{store: s, roomID: roomID, self: self, counterparty: counterparty, clock: time.Now}
}

// Finish writes the transaction record and returns the event to broadcast. A
// positive total completes the transaction; otherwise it is cancelled. On error
// nothing should be broadcast and Finish may be retried.
func (c *Closer) Finish(ctx context.Context, history []Interaction, s Settlement) (*store.Transaction, Event, error) {
	status, closingType := store.TransactionCancelled, TypeTransactionCancelled
	if s.Total.IsPositive() {
		status, closingType = store.TransactionCompleted, TypeTransactionCompleted
	}

	notice := TransactionNotice{Status: string(status), TotalAmount: s.Total, ActorID: c.self.ID}
	closing := NewEvent(closingType, c.self, notice)
	timeline, err := json.Marshal(BuildTimeline(history, newInteraction(closing, c.clock())))
	if err != nil {
		return nil, Event{}, fmt.Errorf("encode timeline: %w", err)
	}

	platforms := s.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	tx := &store.Transaction{
		ID:          c.roomID,
		Status:      status,
		TotalAmount: s.Total,
		Platforms:   platforms,
		Timeline:    timeline,
	}
	if err := c.store.FinishTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, Event{}, ErrFinished
		}
		return nil, Event{}, &PersistenceError{Op: "finish transaction", Err: err}
	}

	// The counterparty always listens for transaction_completed; the status
	// field says how it ended.
	return tx, NewEvent(TypeTransactionCompleted, c.self, notice), nil
}

// SubmitRating records self's score of the counterparty. Each participant may
// rate a transaction once.
func (c *Closer) SubmitRating(ctx context.Context, score int, comment string) (*store.Rating, error) {
	if score < 1 || score > 5 {
		return nil, &ValidationError{Reason: ReasonInvalidScore, Detail: fmt.Sprintf("%d not in 1..5", score)}
	}

	r := &store.Rating{
		TransactionID: c.roomID,
		RaterID:       c.self.ID,
		RateeID:       c.counterparty.ID,
		Score:         score,
		Comment:       comment,
	}
	if err := c.store.CreateRating(ctx, r); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("rating already submitted: %w", err)
		}
		return nil, &PersistenceError{Op: "create rating", Err: err}
	}
	return r, nil
}
