package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the relay.
	pongWait       = 60 * time.Second // Time allowed to read the next message or ping from the relay.
	maxMessageSize = 64 * 1024        // Receipt payloads are larger than chat lines.
)

// WebSocket attaches to the relay server's /ws endpoint, one connection per
// subscribed room. It is what a participant uses when it has no direct broker access.
type WebSocket struct {
	endpoint string // e.g. ws://localhost:8080/ws
	token    string
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*wsSubscription
}

var _ Transport = (*WebSocket)(nil)

func NewWebSocket(endpoint, token string, logger *slog.Logger) *WebSocket {
	return &WebSocket{
		endpoint: endpoint,
		token:    token,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		conns:    make(map[string]*wsSubscription),
	}
}

func (w *WebSocket) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	roomID, ok := RoomFromTopic(topic)
	if !ok {
		return nil, fmt.Errorf("websocket transport only carries room topics, got %q", topic)
	}

	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+w.token)

	conn, _, err := w.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	sub := &wsSubscription{
		conn: conn,
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
		onClose: func(s *wsSubscription) {
			w.mu.Lock()
			if w.conns[topic] == s {
				delete(w.conns, topic)
			}
			w.mu.Unlock()
		},
	}

	w.mu.Lock()
	if old, exists := w.conns[topic]; exists {
		old.Close()
	}
	w.conns[topic] = sub
	w.mu.Unlock()

	go sub.readPump(w.logger)
	return sub, nil
}

func (w *WebSocket) Publish(ctx context.Context, topic string, payload []byte) error {
	w.mu.Lock()
	sub, ok := w.conns[topic]
	w.mu.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	return sub.write(ctx, payload)
}

type wsSubscription struct {
	conn    *websocket.Conn
	out     chan []byte
	done    chan struct{} // closed by Close; unblocks readPump when nobody drains out
	writeMu sync.Mutex
	once    sync.Once
	onClose func(*wsSubscription)
}

// readPump pumps messages from the relay connection to Messages().
func (s *wsSubscription) readPump(logger *slog.Logger) {
	defer func() {
		close(s.out)
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(appData string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Relay connection lost", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case s.out <- message:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) write(ctx context.Context, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscription) Messages() <-chan []byte { return s.out }

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.onClose(s)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
