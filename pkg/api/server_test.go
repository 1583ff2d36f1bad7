package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/channels"
	"github.com/miniware/assistbot/pkg/flow"
)

func newTestServer(t *testing.T) (*Server, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	s := NewServer("", "assistbot", channels.NewManager(mb), flow.NewStore(), nil, mb)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.hub.handleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.hub.run(ctx)

	return s, mb, srv
}

func TestHealthz(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	s, _, srv := newTestServer(t)
	s.sessions.Get("chat-1", "test")
	s.sessions.Get("chat-2", "test")

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Bot != "assistbot" {
		t.Errorf("bot = %q", body.Bot)
	}
	if body.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", body.Sessions)
	}
}

func TestWebSocketStreamsSystemEvents(t *testing.T) {
	_, mb, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(20 * time.Millisecond)
	mb.PublishSystem(bus.SystemEvent{Type: "delivery.failed", Source: "scheduler"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev wsEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	if ev.Type != "delivery.failed" || ev.Source != "scheduler" {
		t.Errorf("event = %+v", ev)
	}
}
