package room

import (
	"slices"
	"time"
)

type patchRule struct {
	target Type
	from   []Status
	to     Status
}

// patchRules lists, per status event, which live entries it rewrites and from
// which projected states. Events not listed here only append.
var patchRules = map[Type][]patchRule{
	TypePaymentSent: {
		{target: TypePaymentRequested, from: []Status{StatusPending}, to: StatusConfirming},
	},
	TypePaymentConfirmed: {
		{target: TypePaymentRequested, from: []Status{StatusPending, StatusConfirming}, to: StatusCompleted},
		{target: TypePaymentSent, from: []Status{StatusConfirming}, to: StatusConfirmed},
	},
	TypePaymentDenied: {
		{target: TypePaymentRequested, from: []Status{StatusPending, StatusConfirming}, to: StatusDenied},
		{target: TypePaymentSent, from: []Status{StatusConfirming}, to: StatusDenied},
	},
	TypePaymentRequestCancelled: {
		{target: TypePaymentRequested, from: []Status{StatusPending}, to: StatusCancelled},
	},
}

// IsStatusEvent reports whether t patches earlier entries by correlation id.
func IsStatusEvent(t Type) bool {
	_, ok := patchRules[t]
	return ok
}

// Reduce returns the history after observing ev at time at. It never modifies
// history. Every known event appends exactly one entry; status events also
// patch their live predecessors first.
//
// A status event with no matching predecessor returns *NotFoundError, and one
// whose predecessors are in a state it cannot leave returns ErrInvalidTransition.
// Both are informational: the returned history is still valid and includes the
// appended entry.
func Reduce(history []Interaction, ev Event, at time.Time) ([]Interaction, error) {
	if _, ok := ev.Type.Family(); !ok {
		return history, ErrUnknownType
	}

	next, err := patch(history, ev)
	return append(next, newInteraction(withInitialStatus(ev), at)), err
}

// withInitialStatus fills in the projection a creation event starts from when
// the sender left it blank.
func withInitialStatus(ev Event) Event {
	switch v := ev.Payload.(type) {
	case PaymentRequested:
		if v.Status == "" {
			v.Status = StatusPending
			ev.Payload = v
		}
	case PaymentSent:
		if v.Status == "" {
			v.Status = StatusConfirming
			ev.Payload = v
		}
	}
	return ev
}

// patch applies only the projection update of a status event.
func patch(history []Interaction, ev Event) ([]Interaction, error) {
	next := slices.Clip(slices.Clone(history))

	rules, ok := patchRules[ev.Type]
	if !ok {
		return next, nil
	}

	id := ev.PaymentID()
	matched, applied := false, false
	for i := range next {
		if next[i].PaymentID() != id {
			continue
		}
		for _, rule := range rules {
			if next[i].Type != rule.target {
				continue
			}
			matched = true
			if slices.Contains(rule.from, next[i].Status()) {
				next[i] = next[i].withStatus(rule.to)
				applied = true
			}
		}
	}

	switch {
	case !matched:
		return next, &NotFoundError{PaymentID: id, Type: ev.Type}
	case !applied:
		return next, ErrInvalidTransition
	}
	return next, nil
}
