package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-traderoom/internal/broker"
	"go-traderoom/internal/infra"
	"go-traderoom/internal/metrics"
)

// Handler receives decoded events of one family. Handlers run one at a time on
// the session's dispatch goroutine and must tolerate the participant's own
// broadcasts coming back.
type Handler func(ctx context.Context, ev Event)

type SessionOptions struct {
	// Heartbeat is the presence refresh interval; zero disables presence.
	Heartbeat time.Duration
	// RetryInterval is the first delay before queued broadcasts are retried in
	// the background; zero leaves retries to the next Send or Flush.
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Session is one participant's subscription to one room topic.
type Session struct {
	transport broker.Transport
	topic     string
	self      Participant
	opts      SessionOptions
	logger    *slog.Logger

	mu       sync.Mutex
	handlers map[Family]Handler
	sub      broker.Subscription

	// dispatchMu is held while a handler runs so Close can wait it out.
	dispatchMu sync.Mutex
	closed     atomic.Bool

	sendMu sync.Mutex
	queue  []Event // unsent broadcasts, oldest first

	kick      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewSession(t broker.Transport, roomID string, self Participant, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport: t,
		topic:     broker.RoomTopic(roomID),
		self:      self,
		opts:      opts,
		logger:    logger.With("room_topic", broker.RoomTopic(roomID), "participant_id", self.ID),
		handlers:  make(map[Family]Handler),
		kick:      make(chan struct{}, 1),
	}
}

// Handle registers h for family f, replacing any earlier handler.
func (s *Session) Handle(f Family, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[f] = h
}

// Open subscribes to the room topic, announces the participant and starts
// presence tracking. A failed user_joined broadcast does not fail Open; it
// stays queued.
func (s *Session) Open(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	sub, err := s.transport.Subscribe(ctx, s.topic)
	if err != nil {
		return &DeliveryError{Type: TypeUserJoined, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.sub = sub
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(runCtx, sub.Messages())
	if s.opts.RetryInterval > 0 {
		go s.retryLoop(runCtx)
	}

	if err := s.Send(ctx, NewEvent(TypeUserJoined, s.self, UserPresence{})); err != nil {
		s.logger.Warn("announce join failed", "error", err)
	}

	if p, ok := s.transport.(broker.Presence); ok && s.opts.Heartbeat > 0 {
		go s.heartbeat(runCtx, p)
	}

	s.logger.Info("room session opened")
	return nil
}

// Send queues ev behind any earlier undelivered broadcasts and publishes the
// queue in order. On failure ev stays queued and a *DeliveryError is returned.
func (s *Session) Send(ctx context.Context, ev Event) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if _, err := EncodeEvent(ev); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.queue = append(s.queue, ev)
	return s.drainLocked(ctx)
}

// Flush retries queued broadcasts.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.drainLocked(ctx)
}

// Pending returns the number of undelivered broadcasts.
func (s *Session) Pending() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return len(s.queue)
}

func (s *Session) drainLocked(ctx context.Context) error {
	s.mu.Lock()
	subscribed := s.sub != nil
	s.mu.Unlock()

	for len(s.queue) > 0 {
		ev := s.queue[0]
		if !subscribed {
			return &DeliveryError{Type: ev.Type, Err: broker.ErrNotSubscribed}
		}

		raw, err := EncodeEvent(ev)
		if err != nil {
			s.queue = s.queue[1:]
			return err
		}
		if err := s.transport.Publish(ctx, s.topic, raw); err != nil {
			metrics.DeliveryFailures.Inc()
			s.signalRetry()
			return &DeliveryError{Type: ev.Type, Err: err}
		}

		s.queue = s.queue[1:]
		family, _ := ev.Type.Family()
		metrics.EventsTotal.WithLabelValues(string(family), string(ev.Type), "out").Inc()
	}
	return nil
}

func (s *Session) signalRetry() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) retryLoop(ctx context.Context) {
	backoff := infra.NewBackoff(s.opts.RetryInterval, 30*time.Second, 2)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		for s.Pending() > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff.Next()):
			}
			if err := s.Flush(ctx); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return
				}
				s.logger.Debug("retry broadcast failed", "attempt", backoff.Attempts(), "error", err)
				// drainLocked re-armed kick; the inner loop keeps going.
				select {
				case <-s.kick:
				default:
				}
				continue
			}
		}
		backoff.Reset()
	}
}

// readLoop dispatches inbound frames. When the transport drops the
// subscription it resubscribes until the session is closed.
func (s *Session) readLoop(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				if msgs = s.resubscribe(ctx); msgs == nil {
					return
				}
				continue
			}
			s.dispatch(ctx, raw)
		}
	}
}

// resubscribe replaces a subscription the transport closed. It returns nil
// once the session is closed.
func (s *Session) resubscribe(ctx context.Context) <-chan []byte {
	if ctx.Err() != nil || s.closed.Load() {
		return nil
	}
	s.logger.Warn("room subscription dropped, resubscribing")

	backoff := infra.NewBackoff(200*time.Millisecond, 10*time.Second, 2)
	for {
		sub, err := s.transport.Subscribe(ctx, s.topic)
		if err == nil {
			s.mu.Lock()
			if s.closed.Load() {
				s.mu.Unlock()
				sub.Close()
				return nil
			}
			s.sub = sub
			s.mu.Unlock()

			s.logger.Info("room subscription restored", "attempts", backoff.Attempts()+1)
			// Broadcasts queued while we were deaf go out now.
			s.signalRetry()
			return sub.Messages()
		}

		wait := backoff.Next()
		s.logger.Warn("room resubscribe failed", "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Session) dispatch(ctx context.Context, raw []byte) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			metrics.EventsDropped.WithLabelValues("unknown_type").Inc()
			s.logger.Debug("dropping unknown event", "error", err)
			return
		}
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		s.logger.Warn("dropping malformed event", "error", err)
		return
	}

	family, _ := ev.Type.Family()
	metrics.EventsTotal.WithLabelValues(string(family), string(ev.Type), "in").Inc()

	s.mu.Lock()
	h := s.handlers[family]
	s.mu.Unlock()
	if h == nil {
		return
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.closed.Load() {
		return
	}
	h(ctx, ev)
}

func (s *Session) heartbeat(ctx context.Context, p broker.Presence) {
	ttl := 2 * s.opts.Heartbeat
	track := func() {
		if err := p.Track(ctx, s.topic, s.self.ID, ttl); err != nil && ctx.Err() == nil {
			s.logger.Warn("presence heartbeat failed", "error", err)
		}
	}

	track()
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			track()
		}
	}
}

// Members lists participants currently present, when the transport tracks presence.
func (s *Session) Members(ctx context.Context) ([]string, error) {
	p, ok := s.transport.(broker.Presence)
	if !ok {
		return nil, nil
	}
	return p.Members(ctx, s.topic)
}

// Close announces user_left best-effort and unsubscribes. No handler runs
// after Close returns. It must not be called from inside a handler.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.dispatchMu.Lock()
		s.closed.Store(true)
		s.dispatchMu.Unlock()

		s.mu.Lock()
		sub, cancel := s.sub, s.cancel
		s.sub = nil
		s.mu.Unlock()

		s.sendMu.Lock()
		if len(s.queue) > 0 {
			s.logger.Warn("closing with undelivered broadcasts", "count", len(s.queue))
		}
		s.queue = nil
		if sub != nil {
			raw, encErr := EncodeEvent(NewEvent(TypeUserLeft, s.self, UserPresence{}))
			if encErr == nil {
				if pubErr := s.transport.Publish(ctx, s.topic, raw); pubErr != nil {
					s.logger.Warn("announce leave failed", "error", pubErr)
				}
			}
		}
		s.sendMu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sub != nil {
			err = sub.Close()
		}
		s.logger.Info("room session closed")
	})
	return err
}
