package room

import (
	"errors"
	"testing"
)

func TestReduceDoesNotModifyHistory(t *testing.T) {
	h1, err := Reduce(nil, requested("p1", "100"), at(0))
	if err != nil {
		t.Fatalf("Reduce(requested) error = %v", err)
	}

	h2, err := Reduce(h1, sent("p1", "ref"), at(1))
	if err != nil {
		t.Fatalf("Reduce(sent) error = %v", err)
	}

	if len(h1) != 1 || h1[0].Status() != StatusPending {
		t.Fatalf("input history changed: %+v", h1)
	}
	if len(h2) != 2 || h2[0].Status() != StatusConfirming {
		t.Fatalf("h2 = %+v", h2)
	}
	if !h2[1].Timestamp.Equal(at(1)) {
		t.Fatalf("appended entry timestamp = %v, want receipt time", h2[1].Timestamp)
	}
}

func TestReduceHappyPathWithInterleavedEvents(t *testing.T) {
	events := []Event{
		NewEvent(TypeUserJoined, alice, UserPresence{}),
		requested("p1", "500"),
		chat(bob, "sending now"),
		NewEvent(TypeUserJoined, bob, UserPresence{}),
		sent("p1", "1234567890"),
		chat(alice, "checking"),
		requested("other", "1"),
		change(TypePaymentConfirmed, alice, "p1"),
	}

	var h []Interaction
	for i, ev := range events {
		var err error
		if h, err = Reduce(h, ev, at(i)); err != nil {
			t.Fatalf("Reduce(%s) error = %v", ev.Type, err)
		}
	}

	if len(h) != len(events) {
		t.Fatalf("len(history) = %d, want %d", len(h), len(events))
	}
	if h[1].Status() != StatusCompleted {
		t.Errorf("request status = %s, want completed", h[1].Status())
	}
	if h[4].Status() != StatusConfirmed {
		t.Errorf("sent status = %s, want confirmed", h[4].Status())
	}
	if h[6].Status() != StatusPending {
		t.Errorf("unrelated request status = %s, want pending", h[6].Status())
	}
}

func TestReducePatchRules(t *testing.T) {
	tests := []struct {
		name     string
		events   []Event
		wantReq  Status
		wantSent Status
		wantErr  error
	}{
		{
			name:     "deny after sent",
			events:   []Event{requested("p", "10"), sent("p", "r"), change(TypePaymentDenied, alice, "p")},
			wantReq:  StatusDenied,
			wantSent: StatusDenied,
		},
		{
			name:    "cancel while pending",
			events:  []Event{requested("p", "10"), change(TypePaymentRequestCancelled, alice, "p")},
			wantReq: StatusCancelled,
		},
		{
			name:    "confirm without sent",
			events:  []Event{requested("p", "10"), change(TypePaymentConfirmed, alice, "p")},
			wantReq: StatusCompleted,
		},
		{
			name:     "cancel after sent is refused",
			events:   []Event{requested("p", "10"), sent("p", "r"), change(TypePaymentRequestCancelled, alice, "p")},
			wantReq:  StatusConfirming,
			wantSent: StatusConfirming,
			wantErr:  ErrInvalidTransition,
		},
		{
			name:     "second confirm is refused",
			events:   []Event{requested("p", "10"), sent("p", "r"), change(TypePaymentConfirmed, alice, "p"), change(TypePaymentConfirmed, alice, "p")},
			wantReq:  StatusCompleted,
			wantSent: StatusConfirmed,
			wantErr:  ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h []Interaction
			var err error
			for i, ev := range tt.events {
				h, err = Reduce(h, ev, at(i))
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("last Reduce() error = %v, want %v", err, tt.wantErr)
			}
			if len(h) != len(tt.events) {
				t.Fatalf("len(history) = %d, want %d", len(h), len(tt.events))
			}
			if got := h[0].Status(); got != tt.wantReq {
				t.Errorf("request status = %s, want %s", got, tt.wantReq)
			}
			if tt.wantSent != "" {
				if got := h[1].Status(); got != tt.wantSent {
					t.Errorf("sent status = %s, want %s", got, tt.wantSent)
				}
			}
		})
	}
}

func TestReduceStatusBeforeRequest(t *testing.T) {
	confirmed := change(TypePaymentConfirmed, alice, "p1")

	h, err := Reduce(nil, confirmed, at(0))
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.PaymentID != "p1" {
		t.Fatalf("Reduce() error = %v, want NotFoundError for p1", err)
	}
	if len(h) != 1 || h[0].Type != TypePaymentConfirmed {
		t.Fatalf("history = %+v, want the confirmed entry", h)
	}

	h, err = Reduce(h, requested("p1", "50"), at(1))
	if err != nil {
		t.Fatalf("Reduce(requested) error = %v", err)
	}
	if h[1].Status() != StatusPending {
		t.Fatalf("request status = %s; the early patch is not replayed by Reduce", h[1].Status())
	}
}

func TestReduceCancelledThenSent(t *testing.T) {
	var h []Interaction
	h, _ = Reduce(h, requested("p300", "300"), at(0))
	h, _ = Reduce(h, change(TypePaymentRequestCancelled, alice, "p300"), at(1))

	h, err := Reduce(h, sent("p300", "late"), at(2))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Reduce(late sent) error = %v, want ErrInvalidTransition", err)
	}
	if len(h) != 3 || h[2].Type != TypePaymentSent {
		t.Fatalf("late payment_sent not kept as history: %+v", h)
	}
	if h[0].Status() != StatusCancelled {
		t.Fatalf("request status = %s, want cancelled", h[0].Status())
	}
}

func TestReduceIgnoresUnknownTypes(t *testing.T) {
	h, _ := Reduce(nil, requested("p", "1"), at(0))

	got, err := Reduce(h, Event{ID: "x", Type: "payment_refunded"}, at(1))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("error = %v, want ErrUnknownType", err)
	}
	if len(got) != 1 {
		t.Fatalf("unknown event appended: %+v", got)
	}
}

func TestReduceFillsInitialStatus(t *testing.T) {
	ev := NewEvent(TypePaymentRequested, alice, PaymentRequested{ID: "p", Amount: amount("5")})
	h, _ := Reduce(nil, ev, at(0))
	if h[0].Status() != StatusPending {
		t.Fatalf("status = %q, want pending", h[0].Status())
	}
}
