package openai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rrh1441/agentops-replay/internal/config"
	"github.com/rrh1441/agentops-replay/internal/port/llm"
	"github.com/rrh1441/agentops-replay/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.OpenAI{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}
}

func TestClient_Call(t *testing.T) {
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(completionBody(`{"revenue":1000}`)) //nolint:errcheck
	})

	resp, err := c.Call(context.Background(), "extract", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Content != `{"revenue":1000}` {
		t.Fatalf("content = %s", resp.Content)
	}
	if resp.TotalTokens != 150 {
		t.Fatalf("tokens = %d, want 150", resp.TotalTokens)
	}

	// 100/1000*0.00015 + 50/1000*0.0006
	wantCost := 0.000015 + 0.00003
	if math.Abs(resp.Cost-wantCost) > 1e-12 {
		t.Fatalf("cost = %v, want %v", resp.Cost, wantCost)
	}

	if gotReq.Model != "gpt-4o-mini" || gotReq.Temperature != 0 {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("response format = %+v", gotReq.ResponseFormat)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "extract" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
}

func TestClient_Call_CreativeKeyUsesWarmTemperature(t *testing.T) {
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)                 //nolint:errcheck
		json.NewEncoder(w).Encode(completionBody(`{"ok":true}`)) //nolint:errcheck
	})

	resp, err := c.Call(context.Background(), "p", "gpt-4o-mini-creative")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotReq.Model != "gpt-4o-mini" || gotReq.Temperature != 0.7 {
		t.Fatalf("request = %+v", gotReq)
	}
	if resp.Temperature != 0.7 {
		t.Fatalf("response temperature = %v", resp.Temperature)
	}
}

func TestClient_Call_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited},
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, llm.ErrUnauthorized},
		{"forbidden", 403, `{"error":{"message":"no access"}}`, llm.ErrUnauthorized},
		{"server error", 500, `oops`, llm.ErrUnavailable},
		{"overloaded", 503, `{"error":{"message":"overloaded"}}`, llm.ErrUnavailable},
		{"input too large", 400, `{"error":{"message":"maximum context length exceeded","code":"context_length_exceeded"}}`, llm.ErrInputTooLarge},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body)) //nolint:errcheck
		})
		_, err := c.Call(context.Background(), "p", "gpt-4o-mini")
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestClient_Call_UnknownModel(t *testing.T) {
	c := New(config.OpenAI{BaseURL: "http://unreachable", Timeout: time.Second})
	if _, err := c.Call(context.Background(), "p", "nope"); !errors.Is(err, llm.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

func TestClient_Call_BreakerOpensAfterFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := c.Call(context.Background(), "p", "gpt-4o-mini"); !errors.Is(err, llm.ErrUnavailable) {
			t.Fatalf("call %d: err = %v, want ErrUnavailable", i, err)
		}
	}
	if _, err := c.Call(context.Background(), "p", "gpt-4o-mini"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestClient_Config(t *testing.T) {
	c := New(config.OpenAI{})

	cfg, err := c.Config("gpt-4o-mini-creative")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Model != "gpt-4o-mini" || cfg.Temperature != 0.7 {
		t.Fatalf("config = %+v", cfg)
	}

	if _, err := c.Config("nope"); !errors.Is(err, llm.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

func TestModelKeys(t *testing.T) {
	keys := ModelKeys()
	if len(keys) != len(catalog) {
		t.Fatalf("got %d keys, want %d", len(keys), len(catalog))
	}
	seen := false
	for _, k := range keys {
		if k == DefaultModelKey {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("default key %q missing from %v", DefaultModelKey, keys)
	}
}
