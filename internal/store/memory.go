package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process store with the same conditional-update semantics as Postgres.
type Memory struct {
	mu           sync.RWMutex
	payments     map[string]*Payment
	transactions map[string]*Transaction
	ratings      []Rating
	// failNext, when set, is returned by the next write and then cleared.
	failNext error
}

func NewMemory() *Memory {
	return &Memory{
		payments:     make(map[string]*Payment),
		transactions: make(map[string]*Transaction),
	}
}

// FailNextWrite makes the next mutating call return err.
func (m *Memory) FailNextWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Memory) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PaymentRequested
	}
	if p.Status.Outstanding() {
		for _, existing := range m.payments {
			if existing.RoomID == p.RoomID && existing.Status.Outstanding() {
				return ErrOutstanding
			}
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *Memory) GetPayment(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) TransitionPayment(ctx context.Context, id string, from []PaymentStatus, to PaymentStatus, upd PaymentUpdate) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(from, p.Status) {
		return nil, ErrConflict
	}

	p.Status = to
	if upd.Reference != "" {
		p.Reference = upd.Reference
	}
	if upd.ReceiptURL != "" {
		p.ReceiptURL = upd.ReceiptURL
	}
	p.UpdatedAt = time.Now()

	cp := *p
	return &cp, nil
}

func (m *Memory) OutstandingPayment(ctx context.Context, roomID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Payment
	for _, p := range m.payments {
		if p.RoomID != roomID || !p.Status.Outstanding() {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) ListPayments(ctx context.Context, roomID string) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Payment
	for _, p := range m.payments {
		if p.RoomID == roomID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateTransaction(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = TransactionOngoing
	t.CreatedAt = time.Now()

	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) FinishTransaction(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	existing, ok := m.transactions[t.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != TransactionOngoing {
		return ErrConflict
	}

	now := time.Now()
	existing.Status = t.Status
	existing.TotalAmount = t.TotalAmount
	existing.Platforms = append([]string(nil), t.Platforms...)
	existing.Timeline = append([]byte(nil), t.Timeline...)
	existing.FinishedAt = &now
	t.FinishedAt = &now
	return nil
}

func (m *Memory) CreateRating(ctx context.Context, rt *Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	for _, existing := range m.ratings {
		if existing.TransactionID == rt.TransactionID && existing.RaterID == rt.RaterID {
			return ErrConflict
		}
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt.CreatedAt = time.Now()
	m.ratings = append(m.ratings, *rt)
	return nil
}

func (m *Memory) RatingsFor(ctx context.Context, rateeID string) ([]Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Rating
	for i := len(m.ratings) - 1; i >= 0; i-- {
		if m.ratings[i].RateeID == rateeID {
			out = append(out, m.ratings[i])
		}
	}
	return out, nil
}
