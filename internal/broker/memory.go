package broker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process transport. Delivery is asynchronous and per-topic FIFO,
// matching what the networked transports provide.
type Memory struct {
	mu         sync.Mutex
	subs       map[string]map[*memorySubscription]struct{}
	presence   map[string]map[string]time.Time
	publishErr error
	published  int
}

var (
	_ Transport = (*Memory)(nil)
	_ Presence  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string]map[*memorySubscription]struct{}),
		presence: make(map[string]map[string]time.Time),
	}
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		parent: m,
		topic:  topic,
		out:    make(chan []byte, 1024),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySubscription]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.published++

	for sub := range m.subs[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.out <- msg:
		default:
			// Slow subscriber: drop it, as the relay hub does.
			sub.closeLocked()
		}
	}
	return nil
}

// SetPublishError makes every subsequent Publish fail with err (nil restores delivery).
func (m *Memory) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Published reports how many payloads were accepted for delivery.
func (m *Memory) Published() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

func (m *Memory) Track(ctx context.Context, topic, memberID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presence[topic] == nil {
		m.presence[topic] = make(map[string]time.Time)
	}
	m.presence[topic][memberID] = time.Now().Add(ttl)
	return nil
}

func (m *Memory) Members(ctx context.Context, topic string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var members []string
	for id, expires := range m.presence[topic] {
		if expires.After(now) {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members, nil
}

type memorySubscription struct {
	parent *Memory
	topic  string
	out    chan []byte
	closed bool
}

func (s *memorySubscription) Messages() <-chan []byte { return s.out }

func (s *memorySubscription) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.parent.subs[s.topic], s)
	close(s.out)
}
