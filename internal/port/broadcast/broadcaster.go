// Package broadcast defines the port for pushing recorded trace
// activity to connected live-monitor clients.
package broadcast

import "context"

// Message types carried over the broadcast channel.
const (
	EventRecorded  = "session.event"
	SessionUpdated = "session.status"
)

// Broadcaster sends real-time messages to all connected clients.
// Implementations must not block the recorder; delivery is best-effort.
type Broadcaster interface {
	// BroadcastEvent sends a typed message to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
