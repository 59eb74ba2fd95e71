// Package tracefile implements the store port on plain files: one
// append-only JSONL log per session plus a single JSON index of
// session summaries. The layout is durable across restarts and
// readable with standard line tools.
package tracefile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
)

const (
	sessionsDir = "sessions"
	indexFile   = "index.json"
)

// Store persists sessions and their event logs under a base directory:
//
//	<dir>/index.json            session summaries
//	<dir>/sessions/<id>.jsonl   one event per line, append order
type Store struct {
	mu       sync.Mutex
	dir      string
	sessions map[string]*session.Session
}

// New opens (or initializes) a file store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, sessionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	s := &Store{
		dir:      dir,
		sessions: make(map[string]*session.Session),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFile)
}

func (s *Store) logPath(sessionID string) string {
	return filepath.Join(s.dir, sessionsDir, sessionID+".jsonl")
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	var sessions []session.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	for i := range sessions {
		s.sessions[sessions[i].ID] = &sessions[i]
	}
	return nil
}

// writeIndex persists the session summaries atomically. Caller holds
// the lock.
func (s *Store) writeIndex() error {
	sessions := s.sortedLocked()
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

// sortedLocked returns all sessions newest first. Caller holds the lock.
func (s *Store) sortedLocked() []session.Session {
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CreateSession persists a new session and creates its empty log file.
func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", domain.ErrConflict, sess.ID)
	}

	f, err := os.OpenFile(s.logPath(sess.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create session log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create session log: %w", err)
	}

	cp := *sess
	s.sessions[sess.ID] = &cp
	return s.writeIndex()
}

// GetSession returns a session by ID.
func (s *Store) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(_ context.Context) ([]session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(), nil
}

// SetEventCount updates a session's running event count.
func (s *Store) SetEventCount(_ context.Context, id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	sess.EventCount = count
	return s.writeIndex()
}

// FinalizeSession sets a terminal status. The first terminal state
// wins; a later call reports false and changes nothing.
func (s *Store) FinalizeSession(_ context.Context, id string, status session.Status, res *session.Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	if sess.Status.Terminal() {
		return false, nil
	}

	sess.Status = status
	if res != nil {
		sess.Result = *res
	}
	if err := s.writeIndex(); err != nil {
		return false, err
	}
	return true, nil
}

// AppendEvent appends one event line to its session's log. The write
// is flushed before AppendEvent returns.
func (s *Store) AppendEvent(_ context.Context, ev *trace.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[ev.SessionID]; !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, ev.SessionID)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	f, err := os.OpenFile(s.logPath(ev.SessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return f.Sync()
}

// ListEvents reads a session's log back in append order.
func (s *Store) ListEvents(_ context.Context, sessionID string) ([]trace.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}

	f, err := os.Open(s.logPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var events []trace.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev trace.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event line %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	return events, nil
}
