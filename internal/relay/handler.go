package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	myMiddleware "go-traderoom/internal/middleware"
	"go-traderoom/internal/store"

	"github.com/gorilla/websocket"
)

const subscribeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Native clients send no Origin; auth is by token.
	},
}

// Rooms looks up which accounts may attach to a room.
type Rooms interface {
	GetTransaction(ctx context.Context, id string) (*store.Transaction, error)
}

type Handler struct {
	hub   *Hub
	rooms Rooms
	// ctx bounds the pumps; it outlives the upgrade request.
	ctx context.Context
}

func NewHandler(ctx context.Context, hub *Hub, rooms Rooms) *Handler {
	return &Handler{hub: hub, rooms: rooms, ctx: ctx}
}

// ServeWs attaches an authenticated participant to ?room=<id>.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	tx, err := h.rooms.GetTransaction(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load room", http.StatusInternalServerError)
		return
	}
	if !tx.HasParticipant(userID) {
		http.Error(w, "not a participant of this room", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		roomID: roomID,
		userID: userID,
	}
	ready, err := h.hub.attach(client)
	if err != nil {
		conn.Close()
		return
	}

	go client.writePump()

	// Frames published before the room subscription is live would never be
	// echoed back to this relay's clients.
	select {
	case <-ready:
	case <-time.After(subscribeWait):
		h.hub.logger.Warn("room subscription not ready, reading anyway", "room_id", roomID)
	}
	go client.readPump(h.ctx)
}
