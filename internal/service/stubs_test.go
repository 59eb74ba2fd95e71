package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
	"github.com/rrh1441/agentops-replay/internal/port/llm"
)

// memStore is an in-memory store.Store for tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	order    []string
	events   map[string][]trace.Event

	appendErr error // forced AppendEvent failure
	countErr  error // forced SetEventCount failure
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*session.Session),
		events:   make(map[string][]trace.Event),
	}
}

func (m *memStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("%w: session %s", domain.ErrConflict, s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.order = append(m.order, s.ID)
	m.events[s.ID] = nil
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSessions(_ context.Context) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Session, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, *m.sessions[m.order[i]])
	}
	return out, nil
}

func (m *memStore) SetEventCount(_ context.Context, id string, count int) error {
	if m.countErr != nil {
		return m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	s.EventCount = count
	return nil
}

func (m *memStore) FinalizeSession(_ context.Context, id string, status session.Status, res *session.Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	if s.Status.Terminal() {
		return false, nil
	}
	s.Status = status
	if res != nil {
		s.Result = *res
	}
	return true, nil
}

func (m *memStore) AppendEvent(_ context.Context, ev *trace.Event) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[ev.SessionID]; !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, ev.SessionID)
	}
	m.events[ev.SessionID] = append(m.events[ev.SessionID], *ev)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, sessionID string) ([]trace.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs, ok := m.events[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	out := make([]trace.Event, len(evs))
	copy(out, evs)
	return out, nil
}

// mustCreate seeds a session directly.
func (m *memStore) mustCreate(s *session.Session) {
	if err := m.CreateSession(context.Background(), s); err != nil {
		panic(err)
	}
}

// stubCaller returns canned responses, or fails for the first failCalls
// invocations.
type stubCaller struct {
	mu        sync.Mutex
	calls     int
	failCalls int
	failWith  error
	responses []llm.Response // cycled; last one repeats
}

func (c *stubCaller) Call(_ context.Context, _, _ string) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failCalls {
		err := c.failWith
		if err == nil {
			err = errors.New("stub call failed")
		}
		return nil, err
	}
	if len(c.responses) == 0 {
		return nil, errors.New("stub caller has no responses")
	}
	i := c.calls - c.failCalls - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	resp := c.responses[i]
	return &resp, nil
}

// stubCatalog maps keys to configurations.
type stubCatalog map[string]llm.Config

func (c stubCatalog) Config(key string) (llm.Config, error) {
	cfg, ok := c[key]
	if !ok {
		return llm.Config{}, fmt.Errorf("%w: %q", llm.ErrUnknownModel, key)
	}
	return cfg, nil
}

// captureBroadcaster records every broadcast.
type captureBroadcaster struct {
	mu       sync.Mutex
	messages []capturedMessage
}

type capturedMessage struct {
	eventType string
	payload   any
}

func (b *captureBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, capturedMessage{eventType: eventType, payload: payload})
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func floatPtr(f float64) *float64 { return &f }
