// Package broker carries room broadcasts between participants. Every
// implementation delivers a published payload to all current subscribers of
// the topic, including the publisher's own subscription.
package broker

import (
	"context"
	"errors"
	"strings"
	"time"
)

const roomTopicPrefix = "room:"

var (
	ErrNotSubscribed = errors.New("broker: topic not subscribed")
	ErrClosed        = errors.New("broker: transport closed")
)

// Subscription is a live feed of payloads for one topic.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type Transport interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Presence is implemented by transports that can track who is attached to a topic.
type Presence interface {
	Track(ctx context.Context, topic, memberID string, ttl time.Duration) error
	Members(ctx context.Context, topic string) ([]string, error)
}

// RoomTopic derives the realtime topic name for a room.
func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

// RoomFromTopic is the inverse of RoomTopic.
func RoomFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, roomTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, roomTopicPrefix)
	return id, id != ""
}
