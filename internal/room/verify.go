package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultFreshness = 30 * time.Minute
	// maxFutureSkew tolerates receipts stamped slightly ahead of the local clock.
	maxFutureSkew = 2 * time.Minute
)

// Receipt is the data extracted from a proof of payment. How it is extracted
// (OCR, manual entry) is up to the caller.
type Receipt struct {
	Amount    decimal.Decimal
	Timestamp time.Time
	Reference string
	URL       string
}

type ReferenceChecker interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

// Verifier checks a receipt against the payment it claims to settle. It only
// reads from the store.
type Verifier struct {
	refs   ReferenceChecker
	window time.Duration
	now    func() time.Time
}

func NewVerifier(refs ReferenceChecker, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultFreshness
	}
	return &Verifier{refs: refs, window: window, now: time.Now}
}

// Verify returns a *ValidationError naming the first failed check, a
// *PersistenceError if the reference lookup failed, or nil.
func (v *Verifier) Verify(ctx context.Context, requested decimal.Decimal, r Receipt) error {
	ref := strings.TrimSpace(r.Reference)
	if ref == "" {
		return &ValidationError{Reason: ReasonMissingReference}
	}

	if !r.Amount.Equal(requested) {
		return &ValidationError{
			Reason: ReasonAmountMismatch,
			Detail: fmt.Sprintf("receipt shows %s, requested %s", r.Amount, requested),
		}
	}

	now := v.now()
	if r.Timestamp.IsZero() || r.Timestamp.Before(now.Add(-v.window)) || r.Timestamp.After(now.Add(maxFutureSkew)) {
		return &ValidationError{
			Reason: ReasonStaleReceipt,
			Detail: fmt.Sprintf("receipt time %s outside %s window", r.Timestamp.Format(time.RFC3339), v.window),
		}
	}

	exists, err := v.refs.ReferenceExists(ctx, ref)
	if err != nil {
		return &PersistenceError{Op: "check reference", Err: err}
	}
	if exists {
		return &ValidationError{Reason: ReasonDuplicateReference, Detail: ref}
	}
	return nil
}
