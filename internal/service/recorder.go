// Package service implements the trace recorder, span tracker,
// analysis pipeline, and replay engine.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
	"github.com/rrh1441/agentops-replay/internal/port/broadcast"
	"github.com/rrh1441/agentops-replay/internal/port/store"
)

// Recorder appends events to one session's durable log and keeps the
// session summary in sync. A Recorder is bound to exactly one session
// for its lifetime and is the only writer of that session's log.
type Recorder struct {
	mu          sync.Mutex
	store       store.Store
	broadcaster broadcast.Broadcaster
	sessionID   string
	count       int
	lastStamp   time.Time
	now         func() time.Time // for testing
}

// NewRecorder creates a Recorder owning the given session's log. The
// session must already exist in the store.
func NewRecorder(st store.Store, sessionID string) *Recorder {
	return &Recorder{
		store:     st,
		sessionID: sessionID,
		now:       time.Now,
	}
}

// SetBroadcaster attaches a live-monitor broadcaster. Recorded events
// are published after, and only after, the durable write succeeds.
func (r *Recorder) SetBroadcaster(b broadcast.Broadcaster) {
	r.broadcaster = b
}

// SessionID returns the session this recorder is bound to.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Record creates an event from the entry with a fresh unique ID and the
// current timestamp, durably appends it, and bumps the session's event
// count. Timestamps are stamped here, never by the caller, and are
// non-decreasing in append order even if the wall clock steps back.
func (r *Recorder) Record(ctx context.Context, e trace.Entry) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now()
	if ts.Before(r.lastStamp) {
		ts = r.lastStamp
	}

	ev := &trace.Event{
		SessionID: r.sessionID,
		EventID:   uuid.NewString(),
		ParentID:  e.ParentID,
		Timestamp: ts,
		Type:      e.Type,
		Name:      e.Name,
		Input:     e.Input,
		Output:    e.Output,
		Metadata:  e.Metadata,
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}

	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("append event %s/%s: %w", r.sessionID, e.Name, err)
	}

	r.lastStamp = ts
	r.count++

	// The count is progress information, not correctness; a failed
	// bump must not lose the already-durable event.
	if err := r.store.SetEventCount(ctx, r.sessionID, r.count); err != nil {
		slog.Warn("event count update failed", "session_id", r.sessionID, "error", err)
	}

	if r.broadcaster != nil {
		r.broadcaster.BroadcastEvent(ctx, broadcast.EventRecorded, ev)
	}

	return ev.EventID, nil
}

// EventCount returns the number of events recorded so far.
func (r *Recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Finalize sets the session's terminal status and freezes its
// aggregates. The first terminal state wins: a second call is flagged
// at debug level and its status transition ignored.
func (r *Recorder) Finalize(ctx context.Context, status session.Status, res *session.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !status.Terminal() {
		return fmt.Errorf("%w: finalize requires a terminal status, got %q", domain.ErrValidation, status)
	}

	applied, err := r.store.FinalizeSession(ctx, r.sessionID, status, res)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", r.sessionID, err)
	}
	if !applied {
		slog.Debug("finalize ignored: session already terminal",
			"session_id", r.sessionID, "status", status)
		return nil
	}

	if r.broadcaster != nil {
		r.broadcaster.BroadcastEvent(ctx, broadcast.SessionUpdated, map[string]any{
			"sessionId": r.sessionID,
			"status":    status,
		})
	}
	return nil
}
