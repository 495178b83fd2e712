package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const roomsExchange = "rooms.topic"

// RabbitMQ routes room broadcasts through a topic exchange. Each subscription
// gets its own exclusive, auto-deleted queue bound to the room's routing key.
type RabbitMQ struct {
	conn      *amqp.Connection
	publishCh *amqp.Channel
	publishMu sync.Mutex
	logger    *slog.Logger
	closed    chan *amqp.Error
	healthy   atomic.Bool
	closeOnce sync.Once
}

var _ Transport = (*RabbitMQ)(nil)

// NewRabbitMQ connects, declares the rooms exchange and enables Publisher Confirms.
func NewRabbitMQ(url string, l *slog.Logger) (*RabbitMQ, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(roomsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare rooms exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	r := &RabbitMQ{
		conn:      c,
		publishCh: ch,
		logger:    l,
		closed:    make(chan *amqp.Error, 1),
	}
	r.healthy.Store(true)
	c.NotifyClose(r.closed)

	go func() {
		if err, ok := <-r.closed; ok {
			r.healthy.Store(false)
			l.Warn("RabbitMQ connection closed", "error", err)
		}
	}()

	l.Info("Connected to RabbitMQ", "exchange", roomsExchange)
	return r, nil
}

func (r *RabbitMQ) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if !r.IsHealthy() {
		return nil, ErrClosed
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare room queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, topic, roomsExchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind room queue: %w", err)
	}

	// The consumer outlives ctx; it is cancelled by Subscription.Close.
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	sub := &amqpSubscription{
		channel: ch,
		out:     make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	go sub.pump(deliveries)

	r.logger.Debug("Bound room queue", "queue", q.Name, "routing_key", topic)
	return sub, nil
}

// Publish blocks until the broker confirms the message.
func (r *RabbitMQ) Publish(ctx context.Context, topic string, payload []byte) error {
	if !r.IsHealthy() {
		return ErrClosed
	}

	r.publishMu.Lock()
	deferred, err := r.publishCh.PublishWithDeferredConfirmWithContext(
		ctx,
		roomsExchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        payload,
		},
	)
	r.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received for %s", topic)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("publisher confirm timeout")
	}
}

func (r *RabbitMQ) IsHealthy() bool {
	return r.healthy.Load()
}

func (r *RabbitMQ) Close() error {
	r.closeOnce.Do(func() {
		r.healthy.Store(false)
		r.publishCh.Close()
		r.conn.Close()
	})
	return nil
}

type amqpSubscription struct {
	channel *amqp.Channel
	out     chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *amqpSubscription) pump(deliveries <-chan amqp.Delivery) {
	defer close(s.out)
	for d := range deliveries {
		select {
		case s.out <- d.Body:
		case <-s.done:
			return
		}
	}
}

func (s *amqpSubscription) Messages() <-chan []byte { return s.out }

func (s *amqpSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.channel.Close()
	})
	return err
}
