package openai

import (
	"fmt"
	"sort"

	"github.com/rrh1441/agentops-replay/internal/port/llm"
)

// modelSpec is one named model configuration with its per-1k-token
// pricing in USD.
type modelSpec struct {
	Model       string
	Temperature float64
	MaxTokens   int
	InputRate   float64 // USD per 1k input tokens
	OutputRate  float64 // USD per 1k output tokens
}

// cost prices one call from its token usage.
func (m modelSpec) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*m.InputRate + float64(outputTokens)/1000*m.OutputRate
}

// catalog maps the configuration keys exposed to clients. Extraction
// defaults to temperature zero; the one creative entry exists to
// demonstrate non-deterministic replay.
var catalog = map[string]modelSpec{
	"gpt-4.1": {
		Model:      "gpt-4.1",
		MaxTokens:  4096,
		InputRate:  0.002,
		OutputRate: 0.008,
	},
	"gpt-4.1-mini": {
		Model:      "gpt-4.1-mini",
		MaxTokens:  4096,
		InputRate:  0.0004,
		OutputRate: 0.0016,
	},
	"gpt-4o": {
		Model:      "gpt-4o",
		MaxTokens:  4096,
		InputRate:  0.0025,
		OutputRate: 0.010,
	},
	"gpt-4o-mini": {
		Model:      "gpt-4o-mini",
		MaxTokens:  4096,
		InputRate:  0.00015,
		OutputRate: 0.0006,
	},
	"gpt-4o-mini-creative": {
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   4096,
		InputRate:   0.00015,
		OutputRate:  0.0006,
	},
}

// DefaultModelKey is used when a request names no model.
const DefaultModelKey = "gpt-4o-mini"

func modelConfig(key string) (modelSpec, error) {
	mc, ok := catalog[key]
	if !ok {
		return modelSpec{}, fmt.Errorf("%w: %q", llm.ErrUnknownModel, key)
	}
	return mc, nil
}

// Config implements the catalog port.
func (c *Client) Config(key string) (llm.Config, error) {
	mc, err := modelConfig(key)
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		Model:       mc.Model,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxTokens,
	}, nil
}

// ModelKeys returns all configuration keys, sorted.
func ModelKeys() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
