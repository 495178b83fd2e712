package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Receipt payloads carry URLs and references.
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	roomID string
	userID string
	// attached receives the room's ready channel from the hub.
	attached chan (<-chan struct{})
}

type envelopeHeader struct {
	SenderID string `json:"sender_id"`
}

// readPump forwards frames from the participant to the room topic. Frames
// claiming another sender are dropped.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("relay read failed", "room_id", c.roomID, "user_id", c.userID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var hdr envelopeHeader
		if err := json.Unmarshal(message, &hdr); err != nil || hdr.SenderID != c.userID {
			c.hub.logger.Warn("relay dropped frame", "room_id", c.roomID, "user_id", c.userID, "claimed_sender", hdr.SenderID)
			continue
		}

		if err := c.hub.publish(ctx, c.roomID, message); err != nil {
			c.hub.logger.Error("relay publish failed", "room_id", c.roomID, "error", err)
		}
	}
}

// writePump sends room broadcasts to the participant, one frame per event.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
