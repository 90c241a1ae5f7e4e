package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("SubscriberCount = %d, want %d", hub.SubscriberCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub, srv := startHub(t)
	conn := dialHub(t, srv)
	waitForSubscribers(t, hub, 1)

	hub.Broadcast(EventCallRegistered, map[string]string{"phone": "00123456", "call_chk_sum": "a1b2c3d4"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if msg.Type != EventCallRegistered {
		t.Errorf("type = %q, want %q", msg.Type, EventCallRegistered)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", msg.Data)
	}
	if data["phone"] != "00123456" {
		t.Errorf("phone = %v", data["phone"])
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestHubCountsSubscribers(t *testing.T) {
	hub, srv := startHub(t)

	if n := hub.SubscriberCount(); n != 0 {
		t.Fatalf("initial count = %d, want 0", n)
	}

	c1 := dialHub(t, srv)
	dialHub(t, srv)
	waitForSubscribers(t, hub, 2)

	c1.Close()
	waitForSubscribers(t, hub, 1)
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub, _ := startHub(t)
	// Must not block or panic with nobody listening.
	hub.Broadcast(EventCycleClosed, map[string]string{"call_chk_sum": "a1b2c3d4"})
}
