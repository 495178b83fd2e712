package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const presencePrefix = "presence:"

// Redis fans room broadcasts out through Redis Pub/Sub so participants attached
// to different processes see the same topic.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

var (
	_ Transport = (*Redis)(nil)
	_ Presence  = (*Redis)(nil)
)

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so nothing published after this
	// call returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go sub.pump()

	r.logger.Debug("Subscribed to redis topic", "topic", topic)
	return sub, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Track(ctx context.Context, topic, memberID string, ttl time.Duration) error {
	key := presencePrefix + topic + ":" + memberID
	return r.client.Set(ctx, key, time.Now().Unix(), ttl).Err()
}

func (r *Redis) Members(ctx context.Context, topic string) ([]string, error) {
	prefix := presencePrefix + topic + ":"

	var members []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		members = append(members, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)

	ch := s.pubsub.Channel()
	for msg := range ch {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
