// Package cached wraps a store with an in-process ristretto cache.
// Only terminal sessions and their event logs are cached: a terminal
// session is immutable, so a hit can never serve stale data.
package cached

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
	"github.com/rrh1441/agentops-replay/internal/port/store"
)

const cacheTTL = time.Hour

// Store is a read-through cache over another store.Store.
type Store struct {
	inner store.Store
	cache *ristretto.Cache[string, []byte]
}

// New wraps inner with a cache of at most maxCostBytes of encoded
// entries.
func New(inner store.Store, maxCostBytes int64) (*Store, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, cache: c}, nil
}

// Close releases the cache resources.
func (s *Store) Close() {
	s.cache.Close()
}

func sessionKey(id string) string { return "session:" + id }
func eventsKey(id string) string  { return "events:" + id }

// CreateSession passes through; a new session is running and uncached.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	return s.inner.CreateSession(ctx, sess)
}

// GetSession serves terminal sessions from cache when possible.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	if data, ok := s.cache.Get(sessionKey(id)); ok {
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err == nil {
			return &sess, nil
		}
		s.cache.Del(sessionKey(id))
	}

	sess, err := s.inner.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		s.put(sessionKey(id), sess)
	}
	return sess, nil
}

// ListSessions always reads through; the listing changes on every run.
func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	return s.inner.ListSessions(ctx)
}

// SetEventCount passes through; counts only change while running.
func (s *Store) SetEventCount(ctx context.Context, id string, count int) error {
	return s.inner.SetEventCount(ctx, id, count)
}

// FinalizeSession passes through and drops any cached entries so the
// next read observes the terminal state.
func (s *Store) FinalizeSession(ctx context.Context, id string, status session.Status, res *session.Result) (bool, error) {
	applied, err := s.inner.FinalizeSession(ctx, id, status, res)
	if err == nil {
		s.cache.Del(sessionKey(id))
		s.cache.Del(eventsKey(id))
	}
	return applied, err
}

// AppendEvent passes through and invalidates the session's cached log.
func (s *Store) AppendEvent(ctx context.Context, ev *trace.Event) error {
	if err := s.inner.AppendEvent(ctx, ev); err != nil {
		return err
	}
	s.cache.Del(eventsKey(ev.SessionID))
	return nil
}

// ListEvents serves the logs of terminal sessions from cache.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]trace.Event, error) {
	if data, ok := s.cache.Get(eventsKey(sessionID)); ok {
		var events []trace.Event
		if err := json.Unmarshal(data, &events); err == nil {
			return events, nil
		}
		s.cache.Del(eventsKey(sessionID))
	}

	events, err := s.inner.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.inner.GetSession(ctx, sessionID)
	if err == nil && sess.Status.Terminal() {
		s.put(eventsKey(sessionID), events)
	}
	return events, nil
}

func (s *Store) put(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.cache.SetWithTTL(key, data, int64(len(data)), cacheTTL)
}
