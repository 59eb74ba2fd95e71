package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/rrh1441/agentops-replay/internal/port/broadcast"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    broadcast.SessionUpdated,
		Payload: []byte(`{"sessionId":"s1","status":"completed"}`),
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON; log and drop, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel}
	hub.remove(c)
}

func TestHubBroadcastNeverWaitsOnSlowClient(t *testing.T) {
	hub := NewHub()

	// A client with a full send queue and no writer draining it.
	c := &conn{send: make(chan []byte), cancel: func() {}}
	hub.mu.Lock()
	hub.conns[c] = struct{}{}
	hub.mu.Unlock()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(context.Background(), Message{
			Type:    broadcast.SessionUpdated,
			Payload: []byte(`{"sessionId":"s1"}`),
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast waited on a client that is not draining")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversToClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	// The hub registers the connection during the HTTP handler; wait
	// for it to appear.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastEvent(ctx, broadcast.SessionUpdated, map[string]string{
		"sessionId": "s1",
		"status":    "completed",
	})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != broadcast.SessionUpdated {
		t.Fatalf("type = %s, want %s", msg.Type, broadcast.SessionUpdated)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["sessionId"] != "s1" {
		t.Fatalf("payload = %v", payload)
	}
}
