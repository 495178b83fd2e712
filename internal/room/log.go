package room

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Applied describes what one Log.Apply call did.
type Applied struct {
	// Duplicate is set when the event id was already seen; nothing changed.
	Duplicate bool
	// Buffered is set when a status event arrived before its request and was
	// held for replay.
	Buffered bool
	// Settled is the amount this event moved into the settlement total.
	Settled decimal.Decimal
	// Err is the informational reducer error, if any.
	Err error
}

// Settlement summarises the confirmed payments of a room.
type Settlement struct {
	Total     decimal.Decimal
	Currency  string
	Platforms []string
}

// Log is the interaction history of one room session. It is safe for
// concurrent use; each Apply is atomic.
type Log struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries []Interaction
	seen    map[string]struct{}
	// held status events whose payment_requested has not arrived yet
	held  map[string][]Event
	total decimal.Decimal
}

func NewLog(clock func() time.Time) *Log {
	if clock == nil {
		clock = time.Now
	}
	return &Log{
		clock: clock,
		seen:  make(map[string]struct{}),
		held:  make(map[string][]Event),
	}
}

// Apply reduces ev into the log. Events are deduplicated by id, so a
// participant's own broadcasts coming back from the transport are no-ops.
func (l *Log) Apply(ev Event) Applied {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.ID != "" {
		if _, ok := l.seen[ev.ID]; ok {
			return Applied{Duplicate: true}
		}
	}

	id := ev.PaymentID()
	before, hasRequest := findRequest(l.entries, id)

	next, err := Reduce(l.entries, ev, l.clock())
	if errors.Is(err, ErrUnknownType) {
		return Applied{Err: err}
	}
	if ev.ID != "" {
		l.seen[ev.ID] = struct{}{}
	}

	res := Applied{Err: err}

	// A status event is held until its payment_requested is in the log, even
	// when it already patched an earlier payment_sent for the same id.
	if IsStatusEvent(ev.Type) && !hasRequest {
		l.held[id] = append(l.held[id], ev)
		res.Buffered = true
		if err == nil {
			res.Err = &NotFoundError{PaymentID: id, Type: ev.Type}
		}
	}

	if ev.Type == TypePaymentRequested {
		for _, h := range l.held[id] {
			// The history entry was appended on arrival; only the projection is replayed.
			next, _ = patch(next, h)
		}
		delete(l.held, id)
	}
	l.entries = next

	after, ok := findRequest(l.entries, id)
	if ok && after.Status == StatusCompleted && before.Status != StatusCompleted {
		l.total = l.total.Add(after.Amount)
		res.Settled = after.Amount
	}
	return res
}

func findRequest(entries []Interaction, id string) (PaymentRequested, bool) {
	if id == "" {
		return PaymentRequested{}, false
	}
	for _, e := range entries {
		if p, ok := e.Data.(PaymentRequested); ok && e.Type == TypePaymentRequested && p.ID == id {
			return p, true
		}
	}
	return PaymentRequested{}, false
}

// Interactions returns the log newest first, for display.
func (l *Log) Interactions() []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := slices.Clone(l.entries)
	slices.Reverse(out)
	return out
}

// History returns the log in arrival order.
func (l *Log) History() []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) SettlementTotal() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Settlement returns the total together with the currency and distinct
// platforms of the completed payments, in the order they were requested.
func (l *Log) Settlement() Settlement {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Settlement{Total: l.total, Platforms: []string{}}
	for _, e := range l.entries {
		p, ok := e.Data.(PaymentRequested)
		if !ok || e.Type != TypePaymentRequested || p.Status != StatusCompleted {
			continue
		}
		if s.Currency == "" {
			s.Currency = p.Currency
		}
		if p.Platform != "" && !slices.Contains(s.Platforms, p.Platform) {
			s.Platforms = append(s.Platforms, p.Platform)
		}
	}
	return s
}

// ActivePayment returns the newest request that is still pending or awaiting confirmation.
func (l *Log) ActivePayment() (PaymentRequested, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		p, ok := e.Data.(PaymentRequested)
		if !ok || e.Type != TypePaymentRequested {
			continue
		}
		if p.Status == StatusPending || p.Status == StatusConfirming {
			return p, true
		}
	}
	return PaymentRequested{}, false
}

// Payment returns the projected request for id.
func (l *Log) Payment(id string) (PaymentRequested, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return findRequest(l.entries, id)
}

// HasType reports whether an entry of type t exists. A non-empty notFrom
// excludes entries sent by that participant.
func (l *Log) HasType(t Type, notFrom string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.ContainsFunc(l.entries, func(e Interaction) bool {
		return e.Type == t && (notFrom == "" || e.SenderID != notFrom)
	})
}

// Buffered returns the number of status events still waiting for their request.
func (l *Log) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, evs := range l.held {
		n += len(evs)
	}
	return n
}

// Reset empties the log on room entry and exit.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.seen = make(map[string]struct{})
	l.held = make(map[string][]Event)
	l.total = decimal.Zero
}
