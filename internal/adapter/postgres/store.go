package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/kpi"
	"github.com/rrh1441/agentops-replay/internal/domain/rating"
	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
)

// Store implements the store port on PostgreSQL. Event logs are
// append-only; ordering is the insertion sequence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const sessionColumns = `id, created_at, model, temperature, status,
	COALESCE(parent_session_id, ''), event_count, kpis, valid, cost,
	latency_ms, input_tokens, output_tokens, rating`

// scanSession scans one sessions row.
func scanSession(scanner interface{ Scan(dest ...any) error }, s *session.Session) error {
	var kpisJSON, ratingJSON []byte
	if err := scanner.Scan(
		&s.ID, &s.CreatedAt, &s.Model, &s.Temperature, &s.Status,
		&s.ParentSessionID, &s.EventCount, &kpisJSON, &s.Valid, &s.Cost,
		&s.LatencyMS, &s.InputTokens, &s.OutputTokens, &ratingJSON,
	); err != nil {
		return err
	}
	if len(kpisJSON) > 0 {
		s.KPIs = &kpi.KPIs{}
		if err := json.Unmarshal(kpisJSON, s.KPIs); err != nil {
			return fmt.Errorf("decode kpis: %w", err)
		}
	}
	if len(ratingJSON) > 0 {
		s.Rating = &rating.Rating{}
		if err := json.Unmarshal(ratingJSON, s.Rating); err != nil {
			return fmt.Errorf("decode rating: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, created_at, model, temperature, status, parent_session_id, event_count)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		sess.ID, sess.CreatedAt, sess.Model, sess.Temperature, sess.Status,
		sess.ParentSessionID, sess.EventCount)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns), id)

	var sess session.Session
	if err := scanSession(row, &sess); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM sessions ORDER BY created_at DESC, id DESC`, sessionColumns))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		var sess session.Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetEventCount updates the session's running event count.
func (s *Store) SetEventCount(ctx context.Context, id string, count int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET event_count = $2 WHERE id = $1`, id, count)
	if err != nil {
		return fmt.Errorf("set event count %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return nil
}

// FinalizeSession sets a terminal status with a compare-and-set on the
// running state, so the first terminal state wins under concurrency.
func (s *Store) FinalizeSession(ctx context.Context, id string, status session.Status, res *session.Result) (bool, error) {
	var (
		kpisJSON   []byte
		ratingJSON []byte
		err        error
	)
	r := res
	if r == nil {
		r = &session.Result{}
	}
	if r.KPIs != nil {
		if kpisJSON, err = json.Marshal(r.KPIs); err != nil {
			return false, fmt.Errorf("encode kpis: %w", err)
		}
	}
	if r.Rating != nil {
		if ratingJSON, err = json.Marshal(r.Rating); err != nil {
			return false, fmt.Errorf("encode rating: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, kpis = $3, valid = $4, cost = $5, latency_ms = $6,
		     input_tokens = $7, output_tokens = $8, rating = $9
		 WHERE id = $1 AND status = $10`,
		id, status, kpisJSON, r.Valid, r.Cost, r.LatencyMS,
		r.InputTokens, r.OutputTokens, ratingJSON, session.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("finalize session %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish "already terminal" from "no such session".
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("finalize session %s: %w", id, err)
	}
	if !exists {
		return false, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return false, nil
}

// AppendEvent inserts one event; its position is the insertion sequence.
func (s *Store) AppendEvent(ctx context.Context, ev *trace.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	var mdJSON []byte
	if ev.Metadata != nil {
		var err error
		if mdJSON, err = json.Marshal(ev.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (session_id, event_id, parent_id, ts, event_type, name, input, output, metadata)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		ev.SessionID, ev.EventID, ev.ParentID, ev.Timestamp, ev.Type, ev.Name,
		[]byte(ev.Input), []byte(ev.Output), mdJSON)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.EventID, err)
	}
	return nil
}

// ListEvents returns a session's events in append order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]trace.Event, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("list events %s: %w", sessionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, event_id, COALESCE(parent_id, ''), ts, event_type, name, input, output, metadata
		 FROM events WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []trace.Event
	for rows.Next() {
		var (
			ev     trace.Event
			mdJSON []byte
		)
		if err := rows.Scan(
			&ev.SessionID, &ev.EventID, &ev.ParentID, &ev.Timestamp,
			&ev.Type, &ev.Name, &ev.Input, &ev.Output, &mdJSON,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(mdJSON) > 0 {
			ev.Metadata = &trace.Metadata{}
			if err := json.Unmarshal(mdJSON, ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
