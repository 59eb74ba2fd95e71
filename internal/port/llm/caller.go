// Package llm defines the port interface for the model-call
// collaborator and its classified failure modes.
package llm

import (
	"context"
	"errors"
)

// Classified model-call failures. Callers map these to recovery
// behavior; during replay every one of them is recovered locally.
var (
	ErrRateLimited   = errors.New("model call rate limited")
	ErrUnauthorized  = errors.New("model call unauthorized")
	ErrUnavailable   = errors.New("model service unavailable")
	ErrTimeout       = errors.New("model call timed out")
	ErrInputTooLarge = errors.New("model call input too large")
	ErrUnknownModel  = errors.New("unknown model configuration")
)

// Response is the outcome of one successful model call.
type Response struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	Cost         float64 `json:"cost"`
	LatencyMS    int64   `json:"latencyMs"`
}

// Config describes a named model configuration from the catalog.
type Config struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// Caller invokes the upstream model with a prompt under a named
// configuration. The caller-supplied context carries the only timeout
// honored during replay.
type Caller interface {
	Call(ctx context.Context, prompt, modelKey string) (*Response, error)
}

// Catalog resolves model configuration keys.
type Catalog interface {
	// Config returns the configuration for key, or ErrUnknownModel.
	Config(key string) (Config, error)
}
