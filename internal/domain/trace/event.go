// Package trace defines the immutable trace event recorded during
// analysis and replay runs.
package trace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rrh1441/agentops-replay/internal/domain"
)

// Type classifies a trace event. The set is closed; an event's type
// never changes after creation.
type Type string

const (
	TypeStart      Type = "start"
	TypeParse      Type = "parse"
	TypeLLMCall    Type = "llm_call"
	TypeValidation Type = "validation"
	TypeOutput     Type = "output"
	TypeError      Type = "error"
)

// Valid reports whether t is one of the closed set of event types.
func (t Type) Valid() bool {
	switch t {
	case TypeStart, TypeParse, TypeLLMCall, TypeValidation, TypeOutput, TypeError:
		return true
	}
	return false
}

// Naming convention for span events. A span's opening event carries the
// SuffixStart suffix and its closing event the SuffixEnd suffix on the
// same base name.
const (
	SuffixStart = "_start"
	SuffixEnd   = "_end"
)

// Event is one immutable record of something that happened during a run.
// Input and Output are captured verbatim and never interpreted, except
// for llm_call outputs (a KPI-shaped numeric record) and validation
// outputs.
type Event struct {
	SessionID string          `json:"sessionId"`
	EventID   string          `json:"eventId"`
	ParentID  string          `json:"parentId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Type      Type            `json:"type"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Metadata  *Metadata       `json:"metadata,omitempty"`
}

// Validate checks the fields the store relies on before an append.
func (e *Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", domain.ErrValidation)
	}
	if e.EventID == "" {
		return fmt.Errorf("%w: eventId is required", domain.ErrValidation)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, e.Type)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	return nil
}

// Entry holds the caller-supplied parts of an event. The recorder fills
// in the session ID, event ID, and timestamp.
type Entry struct {
	Type     Type
	Name     string
	ParentID string
	Input    json.RawMessage
	Output   json.RawMessage
	Metadata *Metadata
}
