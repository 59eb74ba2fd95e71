// Package openai implements the model-call port against an
// OpenAI-compatible chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rrh1441/agentops-replay/internal/config"
	"github.com/rrh1441/agentops-replay/internal/port/llm"
	"github.com/rrh1441/agentops-replay/internal/resilience"
)

const systemPrompt = "You are a financial analyst. Respond with JSON only."

// Client calls the chat completions endpoint and maps transport and
// status failures to the port's classified errors.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a Client from OpenAI configuration.
func New(cfg config.OpenAI) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetBreaker wraps all outbound calls in the given circuit breaker.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Call invokes the model named by modelKey with the prompt and returns
// its content plus usage, cost, and latency.
func (c *Client) Call(ctx context.Context, prompt, modelKey string) (*llm.Response, error) {
	mc, err := modelConfig(modelKey)
	if err != nil {
		return nil, err
	}

	var resp *llm.Response
	call := func() error {
		var callErr error
		resp, callErr = c.doCall(ctx, prompt, mc)
		return callErr
	}

	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doCall(ctx context.Context, prompt string, mc modelSpec) (*llm.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model: mc.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    mc.Temperature,
		MaxTokens:      mc.MaxTokens,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", llm.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()
	latency := time.Since(start).Milliseconds()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, raw)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	return &llm.Response{
		Content:      cr.Choices[0].Message.Content,
		Model:        cr.Model,
		Temperature:  mc.Temperature,
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
		TotalTokens:  cr.Usage.TotalTokens,
		Cost:         mc.cost(cr.Usage.PromptTokens, cr.Usage.CompletionTokens),
		LatencyMS:    latency,
	}, nil
}

// classifyStatus maps an error status to the port's sentinel errors.
func classifyStatus(status int, body []byte) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", llm.ErrRateLimited, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", llm.ErrUnauthorized, msg)
	case status == http.StatusBadRequest &&
		(apiErr.Error.Code == "context_length_exceeded" || strings.Contains(msg, "maximum context length")):
		return fmt.Errorf("%w: %s", llm.ErrInputTooLarge, msg)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", llm.ErrUnavailable, status, msg)
	default:
		return fmt.Errorf("chat completion failed: status %d: %s", status, msg)
	}
}
