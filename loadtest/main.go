package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go-traderoom/internal/room"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 100 // ⚠️ Each pair opens a room, so this is also the number of transaction rows.
	MsgCount  = 20  // Messages per participant
)

type AuthResponse struct {
	Token       string `json:"access_token"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type RoomResponse struct {
	RoomID string `json:"room_id"`
}

var received atomic.Int64

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Rooms, %d Messages per participant...", PairCount, MsgCount)
	start := time.Now()
	var wg sync.WaitGroup

	// Pair i: merchant m_i serves client c_i.
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Printf("✅ LOAD TEST COMPLETE in %s, %d frames delivered", time.Since(start).Round(time.Millisecond), received.Load())
}

func runPair(pairID int) {
	pass := "password123"

	// 1. Register & Login
	merchant := authenticate(fmt.Sprintf("m_%d", pairID), pass)
	client := authenticate(fmt.Sprintf("c_%d", pairID), pass)
	if merchant == nil || client == nil {
		return
	}

	// 2. Client lines up, merchant accepts and opens the room
	if _, err := call(client.Token, http.MethodPost, "/api/merchants/"+merchant.ID+"/requests", nil); err != nil {
		log.Printf("❌ Queue Failed [%d]: %v", pairID, err)
		return
	}
	if _, err := call(merchant.Token, http.MethodPost, "/api/queue/"+client.ID+"/accept", nil); err != nil {
		log.Printf("❌ Accept Failed [%d]: %v", pairID, err)
		return
	}
	var opened RoomResponse
	if _, err := call(merchant.Token, http.MethodPost, "/api/queue/"+client.ID+"/room", &opened); err != nil {
		log.Printf("❌ Open Room Failed [%d]: %v", pairID, err)
		return
	}

	// 3. Both sides chat over the relay
	var wsWg sync.WaitGroup
	wsWg.Add(2)

	go spamRoom(&wsWg, merchant, opened.RoomID)
	go spamRoom(&wsWg, client, opened.RoomID)

	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(username, password string) *AuthResponse {
	postJSON("/register", map[string]string{"username": username, "password": password, "display_name": username})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ Login Failed [%s]: %s", username, resp.Status)
		return nil
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil
	}
	return &data
}

func call(token, method, path string, out any) (*http.Response, error) {
	req, _ := http.NewRequest(method, BaseURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		return resp, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp, nil
}

func spamRoom(wg *sync.WaitGroup, who *AuthResponse, roomID string) {
	defer wg.Done()

	header := http.Header{"Authorization": {"Bearer " + who.Token}}
	conn, _, err := websocket.DefaultDialer.Dial(WSURL+"?room="+roomID, header)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", who.DisplayName, err)
		return
	}
	defer conn.Close()

	// Drain echoes so the relay never marks us as a slow client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	self := room.Participant{ID: who.ID, Name: who.DisplayName}
	for i := 0; i < MsgCount; i++ {
		ev := room.NewEvent(room.TypeMessage, self, room.Message{Text: fmt.Sprintf("LoadTest Msg %d from %s", i, self.Name)})
		frame, err := room.EncodeEvent(ev)
		if err != nil {
			log.Printf("❌ Encode Fail [%s]: %v", self.Name, err)
			break
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", self.Name, err)
			break
		}
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", self.Name, MsgCount)

	// Give the peer's last frames time to arrive, then hang up.
	time.Sleep(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	<-done
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
