// Package relay bridges websocket participants onto broker room topics.
package relay

import (
	"context"
	"log/slog"
	"time"

	"go-traderoom/internal/broker"
	"go-traderoom/internal/infra"
	"go-traderoom/internal/metrics"
)

type roomMessage struct {
	roomID  string
	payload []byte
}

type roomState struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
	// ready is closed once the room's broker subscription is live.
	ready chan struct{}
}

// Hub owns the set of attached clients. Only Run touches rooms.
type Hub struct {
	rooms      map[string]*roomState
	broadcast  chan roomMessage // broker -> clients
	register   chan *Client
	unregister chan *Client
	transport  broker.Transport
	logger     *slog.Logger
	done       chan struct{}
}

func NewHub(transport broker.Transport, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*roomState),
		broadcast:  make(chan roomMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		transport:  transport,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// attach registers c and returns a channel closed once its room receives
// broker traffic.
func (h *Hub) attach(c *Client) (<-chan struct{}, error) {
	c.attached = make(chan (<-chan struct{}), 1)
	select {
	case h.register <- c:
	case <-h.done:
		return nil, broker.ErrClosed
	}
	return <-c.attached, nil
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, rs := range h.rooms {
				rs.cancel()
				for c := range rs.clients {
					close(c.send)
				}
			}
			h.rooms = map[string]*roomState{}
			h.updateGauges()
			return

		case c := <-h.register:
			rs, ok := h.rooms[c.roomID]
			if !ok {
				followCtx, cancel := context.WithCancel(ctx)
				rs = &roomState{clients: make(map[*Client]bool), cancel: cancel, ready: make(chan struct{})}
				h.rooms[c.roomID] = rs
				go h.follow(followCtx, c.roomID, rs.ready)
			}
			rs.clients[c] = true
			c.attached <- rs.ready
			h.updateGauges()
			h.logger.Info("relay client attached", "room_id", c.roomID, "user_id", c.userID)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			rs, ok := h.rooms[msg.roomID]
			if !ok {
				continue
			}
			for c := range rs.clients {
				select {
				case c.send <- msg.payload:
				default:
					h.logger.Warn("dropping slow relay client", "room_id", c.roomID, "user_id", c.userID)
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	rs, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	if _, ok := rs.clients[c]; !ok {
		return
	}
	delete(rs.clients, c)
	close(c.send)

	if len(rs.clients) == 0 {
		rs.cancel()
		delete(h.rooms, c.roomID)
	}
	h.updateGauges()
}

func (h *Hub) updateGauges() {
	clients := 0
	for _, rs := range h.rooms {
		clients += len(rs.clients)
	}
	metrics.RelayClients.Set(float64(clients))
	metrics.RelayRooms.Set(float64(len(h.rooms)))
}

// follow keeps one broker subscription open for a room while it has clients,
// resubscribing after broker failures.
func (h *Hub) follow(ctx context.Context, roomID string, ready chan struct{}) {
	topic := broker.RoomTopic(roomID)
	backoff := infra.NewBackoff(200*time.Millisecond, 10*time.Second, 2)
	live := false

	for ctx.Err() == nil {
		sub, err := h.transport.Subscribe(ctx, topic)
		if err != nil {
			wait := backoff.Next()
			h.logger.Warn("relay subscribe failed", "room_id", roomID, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		backoff.Reset()
		if !live {
			close(ready)
			live = true
		}

		h.pump(ctx, roomID, sub)
		sub.Close()
	}
}

func (h *Hub) pump(ctx context.Context, roomID string, sub broker.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				h.logger.Warn("relay subscription ended", "room_id", roomID)
				return
			}
			select {
			case h.broadcast <- roomMessage{roomID: roomID, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// publish forwards a client frame to the room topic.
func (h *Hub) publish(ctx context.Context, roomID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return h.transport.Publish(ctx, broker.RoomTopic(roomID), payload)
}
