// Package session defines the Session entity, the unit of replay and
// aggregation.
package session

import (
	"fmt"
	"time"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/kpi"
	"github.com/rrh1441/agentops-replay/internal/domain/rating"
)

// Status represents the current state of a session. A session starts
// running and transitions exactly once to a terminal state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result holds the aggregates frozen at finalization.
type Result struct {
	KPIs         *kpi.KPIs      `json:"kpis,omitempty"`
	Valid        bool           `json:"valid"`
	Cost         float64        `json:"cost"`
	LatencyMS    int64          `json:"latency"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	Rating       *rating.Rating `json:"rating,omitempty"`
}

// Session is the unit of replay and aggregation. Temperature is a
// pointer: an unset temperature is a configuration error, never
// treated as zero.
type Session struct {
	ID              string    `json:"sessionId"`
	CreatedAt       time.Time `json:"createdAt"`
	Model           string    `json:"model"`
	Temperature     *float64  `json:"temperature,omitempty"`
	Status          Status    `json:"status"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
	EventCount      int       `json:"eventCount"`
	Result
}

// Validate checks the fields required before the session is persisted.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: sessionId is required", domain.ErrValidation)
	}
	if s.Model == "" {
		return fmt.Errorf("%w: model is required", domain.ErrValidation)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, s.Status)
	}
	if s.Temperature != nil && *s.Temperature < 0 {
		return fmt.Errorf("%w: temperature must be >= 0", domain.ErrValidation)
	}
	return nil
}

// Deterministic reports whether the session's configuration reproduces
// identical outputs. Only temperature exactly zero counts; an unset
// temperature is a configuration error, not a default.
func (s *Session) Deterministic() (bool, error) {
	if s.Temperature == nil {
		return false, fmt.Errorf("%w: session %s has no temperature", domain.ErrInvalidConfig, s.ID)
	}
	return *s.Temperature == 0, nil
}
