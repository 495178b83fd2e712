package room

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodePaymentRequested(t *testing.T) {
	ev := requested("p1", "500.00")

	raw, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env["event"] != "payment" || env["type"] != "payment_requested" || env["sender_id"] != "alice" {
		t.Fatalf("unexpected envelope header: %v", env)
	}

	got, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if got.ID != ev.ID || got.Type != ev.Type || got.From != "Alice" || !got.SentAt.Equal(ev.SentAt) {
		t.Fatalf("header mismatch: got %+v, want %+v", got, ev)
	}

	p, ok := got.Payload.(PaymentRequested)
	if !ok {
		t.Fatalf("payload type = %T", got.Payload)
	}
	if p.ID != "p1" || !p.Amount.Equal(amount("500")) || p.Platform != "GCash" || p.Status != StatusPending {
		t.Fatalf("payload = %+v", p)
	}
	if got.PaymentID() != "p1" {
		t.Fatalf("PaymentID() = %q", got.PaymentID())
	}
}

func TestDecodeEventRejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		unknown bool
	}{
		{name: "not json", raw: `nope`},
		{name: "unknown type", raw: `{"id":"1","event":"payment","type":"payment_refunded"}`, unknown: true},
		{name: "family mismatch", raw: `{"id":"1","event":"message","type":"payment_sent","data":{"id":"p1"}}`},
		{name: "status change without id", raw: `{"id":"1","event":"payment","type":"payment_confirmed","data":{}}`},
		{name: "bad payload", raw: `{"id":"1","event":"message","type":"message","data":{"text":5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.raw))
			if err == nil {
				t.Fatal("DecodeEvent() succeeded")
			}
			if got := errors.Is(err, ErrUnknownType); got != tt.unknown {
				t.Fatalf("errors.Is(err, ErrUnknownType) = %v, want %v (err = %v)", got, tt.unknown, err)
			}
		})
	}
}

func TestEncodeEventChecksPayloadShape(t *testing.T) {
	ev := NewEvent(TypePaymentSent, bob, Message{Text: "hi"})
	if _, err := EncodeEvent(ev); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("EncodeEvent() error = %v", err)
	}

	if _, err := EncodeEvent(Event{Type: "mystery", Payload: Message{}}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("EncodeEvent(unknown) error = %v", err)
	}
}

func TestDecodeEventWithoutFamily(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":"x","type":"user_joined","sender_id":"bob","from":"Bob"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if _, ok := ev.Payload.(UserPresence); !ok {
		t.Fatalf("payload = %T", ev.Payload)
	}
}
