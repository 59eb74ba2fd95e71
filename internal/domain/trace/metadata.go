package trace

import "encoding/json"

// TokenUsage holds the token counts reported for a model call.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total,omitempty"`
}

// Compliance is the per-call compliance record attached to model-call
// events.
type Compliance struct {
	Deterministic    bool `json:"deterministic"`
	NoPII            bool `json:"no_pii"`
	WithinTokenLimit bool `json:"within_token_limit"`
}

// Metadata carries the well-known optional fields the engine reads,
// plus an open extension map for anything else. On the wire the extra
// keys are flattened into the same JSON object as the typed fields, so
// a re-read log reconstructs exactly what was written.
type Metadata struct {
	DurationMS      *int64
	Model           string
	Temperature     *float64
	Tokens          *TokenUsage
	Cost            *float64
	Compliance      *Compliance
	Replayed        bool
	OriginalEventID string
	Variance        *float64
	ReplayError     bool

	Extra map[string]any
}

// metadataWire mirrors Metadata's typed fields for JSON round-trips.
type metadataWire struct {
	DurationMS      *int64      `json:"duration_ms,omitempty"`
	Model           string      `json:"model,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
	Tokens          *TokenUsage `json:"tokens,omitempty"`
	Cost            *float64    `json:"cost,omitempty"`
	Compliance      *Compliance `json:"compliance,omitempty"`
	Replayed        bool        `json:"replayed,omitempty"`
	OriginalEventID string      `json:"originalEventId,omitempty"`
	Variance        *float64    `json:"variance,omitempty"`
	ReplayError     bool        `json:"replayError,omitempty"`
}

var wireKeys = []string{
	"duration_ms", "model", "temperature", "tokens", "cost",
	"compliance", "replayed", "originalEventId", "variance", "replayError",
}

// MarshalJSON flattens the typed fields and the Extra map into a single
// JSON object. Typed fields win on key collision.
func (m Metadata) MarshalJSON() ([]byte, error) {
	wire := metadataWire{
		DurationMS:      m.DurationMS,
		Model:           m.Model,
		Temperature:     m.Temperature,
		Tokens:          m.Tokens,
		Cost:            m.Cost,
		Compliance:      m.Compliance,
		Replayed:        m.Replayed,
		OriginalEventID: m.OriginalEventID,
		Variance:        m.Variance,
		ReplayError:     m.ReplayError,
	}

	typed, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	if len(m.Extra) == 0 {
		return typed, nil
	}

	merged := make(map[string]json.RawMessage, len(m.Extra)+len(wireKeys))
	for k, v := range m.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}

	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, err
	}
	for k, v := range typedMap {
		merged[k] = v
	}

	return json.Marshal(merged)
}

// UnmarshalJSON splits a JSON object into the typed fields and the
// Extra map holding every unrecognized key.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var wire metadataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range wireKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}

	*m = Metadata{
		DurationMS:      wire.DurationMS,
		Model:           wire.Model,
		Temperature:     wire.Temperature,
		Tokens:          wire.Tokens,
		Cost:            wire.Cost,
		Compliance:      wire.Compliance,
		Replayed:        wire.Replayed,
		OriginalEventID: wire.OriginalEventID,
		Variance:        wire.Variance,
		ReplayError:     wire.ReplayError,
		Extra:           all,
	}
	return nil
}

// Clone returns a deep copy of m. A nil receiver yields nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.DurationMS != nil {
		d := *m.DurationMS
		out.DurationMS = &d
	}
	if m.Temperature != nil {
		t := *m.Temperature
		out.Temperature = &t
	}
	if m.Tokens != nil {
		tk := *m.Tokens
		out.Tokens = &tk
	}
	if m.Cost != nil {
		c := *m.Cost
		out.Cost = &c
	}
	if m.Compliance != nil {
		cp := *m.Compliance
		out.Compliance = &cp
	}
	if m.Variance != nil {
		v := *m.Variance
		out.Variance = &v
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
