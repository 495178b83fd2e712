package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var (
	alice = Participant{ID: "alice", Name: "Alice"}
	bob   = Participant{ID: "bob", Name: "Bob"}
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func requested(id, amt string) Event {
	return NewEvent(TypePaymentRequested, alice, PaymentRequested{
		ID:       id,
		Amount:   amount(amt),
		Currency: "PHP",
		Platform: "GCash",
		Status:   StatusPending,
	})
}

func sent(id, ref string) Event {
	return NewEvent(TypePaymentSent, bob, PaymentSent{ID: id, Reference: ref, Status: StatusConfirming})
}

func change(t Type, from Participant, id string) Event {
	return NewEvent(t, from, PaymentStatusChange{ID: id})
}

func chat(from Participant, text string) Event {
	return NewEvent(TypeMessage, from, Message{Text: text})
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
