package trace

import (
	"errors"
	"testing"
	"time"

	"github.com/rrh1441/agentops-replay/internal/domain"
)

func TestType_Valid(t *testing.T) {
	for _, typ := range []Type{TypeStart, TypeParse, TypeLLMCall, TypeValidation, TypeOutput, TypeError} {
		if !typ.Valid() {
			t.Fatalf("%s not valid", typ)
		}
	}
	if Type("checkpoint").Valid() {
		t.Fatal("unknown type accepted")
	}
	if TypeLLMCall != "llm_call" {
		t.Fatalf("llm call type = %q", TypeLLMCall)
	}
}

func TestEvent_Validate(t *testing.T) {
	good := Event{
		SessionID: "s1",
		EventID:   "e1",
		Timestamp: time.Now(),
		Type:      TypeParse,
		Name:      "csv_parse_start",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing session", func(e *Event) { e.SessionID = "" }},
		{"missing event id", func(e *Event) { e.EventID = "" }},
		{"unknown type", func(e *Event) { e.Type = "bogus" }},
		{"missing name", func(e *Event) { e.Name = "" }},
	}
	for _, tc := range cases {
		ev := good
		tc.mutate(&ev)
		if err := ev.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}
}
