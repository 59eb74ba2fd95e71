// Package ws implements the WebSocket adapter pushing recorded trace
// activity to connected live-monitor clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	// sendQueueSize bounds how far a client may fall behind before it
	// is dropped.
	sendQueueSize = 16
	writeTimeout  = 5 * time.Second
)

// conn wraps a single WebSocket connection. Outbound messages go
// through send so broadcasting never waits on the socket.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active live-monitor connections and fans broadcast
// messages out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection and keeps it
// subscribed until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, send: make(chan []byte, sendQueueSize), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("monitor connected", "remote", r.RemoteAddr)

	// Write loop. Each write carries its own deadline so one stuck
	// socket only ever costs this goroutine, never the broadcaster.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-c.send:
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := ws.Write(wctx, websocket.MessageText, data)
				wcancel()
				if err != nil {
					slog.Debug("websocket write failed", "error", err)
					h.remove(c)
					return
				}
			}
		}
	}()

	// Read loop, to detect disconnects and consume pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast queues a message for all connected clients. A client whose
// send queue is full is dropped, never waited on.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			slog.Debug("websocket client not draining, dropping")
			go h.remove(c)
		}
	}
}

// BroadcastEvent marshals payload and broadcasts it under eventType.
// It implements the broadcast port; recording never blocks on it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("monitor disconnected")
	}
}
