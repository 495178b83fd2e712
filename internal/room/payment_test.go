package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-traderoom/internal/store"
)

func newPayments(t *testing.T) (*Payments, *store.Memory) {
	t.Helper()
	db := store.NewMemory()
	return NewPayments(db, NewVerifier(db, DefaultFreshness), "room-1"), db
}

func gcash(amt string) PaymentRequest {
	return PaymentRequest{Amount: amount(amt), Currency: "php", Platform: "GCash", AccountName: "Alice", AccountNumber: "09170000000"}
}

func goodReceipt(amt, ref string) Receipt {
	return Receipt{Amount: amount(amt), Timestamp: time.Now().Add(-time.Minute), Reference: ref}
}

func TestPaymentsRequestGuards(t *testing.T) {
	ctx := context.Background()
	p, _ := newPayments(t)

	if _, err := p.Request(ctx, "alice", "alice", gcash("10")); !errors.Is(err, ErrSameParticipant) {
		t.Fatalf("self request error = %v", err)
	}

	var ve *ValidationError
	if _, err := p.Request(ctx, "alice", "bob", gcash("0")); !errors.As(err, &ve) || ve.Reason != ReasonInvalidAmount {
		t.Fatalf("zero amount error = %v", err)
	}

	rec, err := p.Request(ctx, "alice", "bob", gcash("10"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if rec.ID == "" || rec.Status != store.PaymentRequested || rec.Currency != "PHP" {
		t.Fatalf("Request() = %+v", rec)
	}

	if _, err := p.Request(ctx, "alice", "bob", gcash("20")); !errors.Is(err, ErrPaymentOutstanding) {
		t.Fatalf("second Request() error = %v, want ErrPaymentOutstanding", err)
	}
}

// slowLookup widens the gap between the outstanding check and the insert.
type slowLookup struct {
	*store.Memory
}

func (s slowLookup) OutstandingPayment(ctx context.Context, roomID string) (*store.Payment, error) {
	p, err := s.Memory.OutstandingPayment(ctx, roomID)
	time.Sleep(20 * time.Millisecond)
	return p, err
}

func TestPaymentsConcurrentRequestsKeepOneOutstanding(t *testing.T) {
	ctx := context.Background()
	db := slowLookup{store.NewMemory()}
	p := NewPayments(db, NewVerifier(db, DefaultFreshness), "room-1")

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Request(ctx, pair[0], pair[1], gcash("100"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrPaymentOutstanding):
			rejected++
		default:
			t.Fatalf("Request() error = %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("succeeded = %d, rejected = %d, want 1 and 1", ok, rejected)
	}
}

func TestPaymentsLifecycle(t *testing.T) {
	ctx := context.Background()
	p, db := newPayments(t)

	rec, _ := p.Request(ctx, "alice", "bob", gcash("500"))

	if _, err := p.Send(ctx, "alice", rec.ID, goodReceipt("500", "1234567890")); !errors.Is(err, ErrNotPayer) {
		t.Fatalf("Send by requester error = %v", err)
	}
	if _, err := p.Confirm(ctx, "bob", rec.ID); !errors.Is(err, ErrNotRequester) {
		t.Fatalf("Confirm by payer error = %v", err)
	}
	if _, err := p.Confirm(ctx, "alice", rec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Confirm before send error = %v", err)
	}

	var ve *ValidationError
	if _, err := p.Send(ctx, "bob", rec.ID, goodReceipt("499", "1234567890")); !errors.As(err, &ve) {
		t.Fatalf("Send with wrong amount error = %v", err)
	}
	if got, _ := db.GetPayment(ctx, rec.ID); got.Status != store.PaymentRequested || got.Reference != "" {
		t.Fatalf("rejected receipt changed the record: %+v", got)
	}

	got, err := p.Send(ctx, "bob", rec.ID, goodReceipt("500", " 1234567890 "))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Status != store.PaymentSent || got.Reference != "1234567890" {
		t.Fatalf("Send() = %+v", got)
	}

	if got, err = p.Confirm(ctx, "alice", rec.ID); err != nil || got.Status != store.PaymentConfirmed {
		t.Fatalf("Confirm() = %+v, %v", got, err)
	}
	if _, err := p.Confirm(ctx, "alice", rec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double Confirm() error = %v", err)
	}
	if _, err := p.Deny(ctx, "alice", rec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Deny after confirm error = %v", err)
	}
}

func TestPaymentsDenyFreesSlot(t *testing.T) {
	ctx := context.Background()
	p, _ := newPayments(t)

	rec, _ := p.Request(ctx, "alice", "bob", gcash("80"))
	if _, err := p.Send(ctx, "bob", rec.ID, goodReceipt("80", "A1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := p.Deny(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}

	if _, err := p.Send(ctx, "bob", rec.ID, goodReceipt("80", "A2")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Send after deny error = %v", err)
	}
	if _, err := p.Request(ctx, "alice", "bob", gcash("80")); err != nil {
		t.Fatalf("fresh Request after deny error = %v", err)
	}
}

func TestPaymentsCancel(t *testing.T) {
	ctx := context.Background()
	p, _ := newPayments(t)

	rec, _ := p.Request(ctx, "alice", "bob", gcash("300"))
	if _, err := p.Cancel(ctx, "bob", rec.ID); !errors.Is(err, ErrNotRequester) {
		t.Fatalf("Cancel by payer error = %v", err)
	}
	if got, err := p.Cancel(ctx, "alice", rec.ID); err != nil || got.Status != store.PaymentCancelled {
		t.Fatalf("Cancel() = %+v, %v", got, err)
	}
	if _, err := p.Send(ctx, "bob", rec.ID, goodReceipt("300", "Z9")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Send after cancel error = %v", err)
	}
}

func TestPaymentsStoreErrors(t *testing.T) {
	ctx := context.Background()
	p, db := newPayments(t)

	var nf *NotFoundError
	if _, err := p.Confirm(ctx, "alice", "missing"); !errors.As(err, &nf) || nf.PaymentID != "missing" {
		t.Fatalf("Confirm(missing) error = %v", err)
	}

	boom := errors.New("disk full")
	db.FailNextWrite(boom)
	var pe *PersistenceError
	if _, err := p.Request(ctx, "alice", "bob", gcash("5")); !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("Request() error = %v, want PersistenceError", err)
	}

	other := NewPayments(db, NewVerifier(db, 0), "room-2")
	rec, _ := other.Request(ctx, "alice", "bob", gcash("5"))
	if _, err := p.Cancel(ctx, "alice", rec.ID); !errors.As(err, &nf) {
		t.Fatalf("Cancel of another room's payment error = %v", err)
	}
}
