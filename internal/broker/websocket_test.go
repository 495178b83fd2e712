package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebSocketPublishEchoes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("room") != "r1" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}
	}))
	defer srv.Close()

	ws := NewWebSocket(wsURL(srv), "tok", quietLogger())
	ctx := context.Background()

	if err := ws.Publish(ctx, RoomTopic("r1"), []byte("early")); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Publish() before Subscribe error = %v, want ErrNotSubscribed", err)
	}

	sub, err := ws.Subscribe(ctx, RoomTopic("r1"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if err := ws.Publish(ctx, RoomTopic("r1"), []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := string(receive(t, sub)); got != "hello" {
		t.Fatalf("received %q, want hello", got)
	}

	if _, err := ws.Subscribe(ctx, "presence"); err == nil {
		t.Fatal("Subscribe() to a non-room topic should fail")
	}
}

func TestWebSocketReadPumpExitsOnCloseWithoutReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 8; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("frame")); err != nil {
				return
			}
		}
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	sub := &wsSubscription{
		conn:    conn,
		out:     make(chan []byte, 1),
		done:    make(chan struct{}),
		onClose: func(*wsSubscription) {},
	}
	exited := make(chan struct{})
	go func() {
		sub.readPump(quietLogger())
		close(exited)
	}()

	// Nobody drains Messages(): the pump fills the buffer and blocks on the next frame.
	deadline := time.Now().Add(2 * time.Second)
	for len(sub.out) < cap(sub.out) {
		if time.Now().After(deadline) {
			t.Fatal("buffer never filled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sub.Close()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("readPump still blocked after Close")
	}
}
