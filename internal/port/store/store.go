// Package store defines the port interface for session and trace
// persistence.
package store

import (
	"context"

	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
)

// Store is the persistence collaborator for sessions and their
// append-only event logs. Implementations must return events from
// ListEvents in exactly the order they were appended.
type Store interface {
	// CreateSession persists a new session in running state.
	CreateSession(ctx context.Context, s *session.Session) error

	// GetSession returns a session by ID, or domain.ErrNotFound.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]session.Session, error)

	// SetEventCount updates the session's running event count.
	SetEventCount(ctx context.Context, id string, count int) error

	// FinalizeSession sets a terminal status and freezes the aggregates.
	// It reports false without error when the session is already
	// terminal: the first terminal state wins.
	FinalizeSession(ctx context.Context, id string, status session.Status, res *session.Result) (bool, error)

	// AppendEvent durably appends one event to its session's log. The
	// event is not considered durable until AppendEvent returns nil.
	AppendEvent(ctx context.Context, ev *trace.Event) error

	// ListEvents returns a session's events in append order, or
	// domain.ErrNotFound when the session does not exist.
	ListEvents(ctx context.Context, sessionID string) ([]trace.Event, error)
}
