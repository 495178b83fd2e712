package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-traderoom/internal/store"
)

type failingRefs struct{ err error }

func (f failingRefs) ReferenceExists(context.Context, string) (bool, error) {
	return false, f.err
}

func TestVerifierChecks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	db := store.NewMemory()
	if err := db.CreatePayment(ctx, &store.Payment{RoomID: "r0", Amount: amount("500"), Reference: "5550001111"}); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	v := NewVerifier(db, 0)
	v.now = func() time.Time { return now }

	tests := []struct {
		name    string
		receipt Receipt
		want    Reason
	}{
		{name: "valid", receipt: Receipt{Amount: amount("500"), Timestamp: now.Add(-5 * time.Minute), Reference: "1234567890"}},
		{name: "trailing zeros still equal", receipt: Receipt{Amount: amount("500.00"), Timestamp: now, Reference: "1234567890"}},
		{name: "missing reference", receipt: Receipt{Amount: amount("500"), Timestamp: now, Reference: "  "}, want: ReasonMissingReference},
		{name: "amount mismatch", receipt: Receipt{Amount: amount("450"), Timestamp: now, Reference: "1234567890"}, want: ReasonAmountMismatch},
		{name: "stale", receipt: Receipt{Amount: amount("500"), Timestamp: now.Add(-31 * time.Minute), Reference: "1234567890"}, want: ReasonStaleReceipt},
		{name: "from the future", receipt: Receipt{Amount: amount("500"), Timestamp: now.Add(5 * time.Minute), Reference: "1234567890"}, want: ReasonStaleReceipt},
		{name: "no timestamp", receipt: Receipt{Amount: amount("500"), Reference: "1234567890"}, want: ReasonStaleReceipt},
		{name: "replayed reference", receipt: Receipt{Amount: amount("500"), Timestamp: now, Reference: "5550001111"}, want: ReasonDuplicateReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(ctx, amount("500"), tt.receipt)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}

			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Reason != tt.want {
				t.Fatalf("Verify() error = %v, want reason %s", err, tt.want)
			}
		})
	}
}

func TestVerifierRejectsReplayRegardlessOfOtherFields(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	db.CreatePayment(ctx, &store.Payment{RoomID: "r0", Reference: "777"})
	v := NewVerifier(db, time.Hour)

	for _, r := range []Receipt{
		{Amount: amount("10"), Timestamp: time.Now(), Reference: "777"},
		{Amount: amount("99"), Timestamp: time.Now(), Reference: "777"},
		{Amount: amount("10"), Timestamp: time.Now().Add(-48 * time.Hour), Reference: "777"},
	} {
		if err := v.Verify(ctx, amount("10"), r); err == nil {
			t.Fatalf("Verify(%+v) accepted a replayed reference", r)
		}
	}
}

func TestVerifierIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	v := NewVerifier(db, time.Hour)
	bad := Receipt{Amount: amount("1"), Timestamp: time.Now(), Reference: "42"}

	first := v.Verify(ctx, amount("2"), bad)
	second := v.Verify(ctx, amount("2"), bad)
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Fatalf("Verify() not repeatable: %v vs %v", first, second)
	}
	if exists, _ := db.ReferenceExists(ctx, "42"); exists {
		t.Fatal("verification wrote to the store")
	}
}

func TestVerifierStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	v := NewVerifier(failingRefs{err: boom}, 0)

	err := v.Verify(context.Background(), amount("1"), Receipt{Amount: amount("1"), Timestamp: time.Now(), Reference: "9"})
	var pe *PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("Verify() error = %v, want PersistenceError", err)
	}
}
