package room

import (
	"slices"
	"sync"
)

// Action names a user-triggered operation that may be in flight.
type Action string

const (
	ActionRequestPayment Action = "request_payment"
	ActionCancelPayment  Action = "cancel_payment"
	ActionSendPayment    Action = "send_payment"
	ActionReviewPayment  Action = "review_payment"
	ActionProduct        Action = "product"
	ActionMessage        Action = "message"
	ActionFinish         Action = "finish"
	ActionRate           Action = "rate"
)

// Busy tracks in-flight actions so a second tap cannot start the same one twice.
type Busy struct {
	mu     sync.Mutex
	active map[Action]struct{}
}

// Acquire marks a as in flight. The returned release must be called on every
// exit path; calling it more than once is harmless.
func (b *Busy) Acquire(a Action) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		b.active = make(map[Action]struct{})
	}
	if _, ok := b.active[a]; ok {
		return func() {}, ErrBusy
	}
	b.active[a] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.active, a)
			b.mu.Unlock()
		})
	}, nil
}

func (b *Busy) IsBusy(a Action) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[a]
	return ok
}

// Active lists the in-flight actions in name order.
func (b *Busy) Active() []Action {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Action, 0, len(b.active))
	for a := range b.active {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
