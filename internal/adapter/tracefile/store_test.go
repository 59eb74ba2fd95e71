package tracefile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/kpi"
	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
)

func testSession(id string, created time.Time) *session.Session {
	temp := 0.0
	return &session.Session{
		ID:          id,
		CreatedAt:   created,
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		Status:      session.StatusRunning,
	}
}

func testEvent(sessionID, eventID, name string) *trace.Event {
	return &trace.Event{
		SessionID: sessionID,
		EventID:   eventID,
		Timestamp: time.Now().UTC(),
		Type:      trace.TypeParse,
		Name:      name,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	sess := testSession("s1", time.Now().UTC())
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	temp := 0.0
	md := &trace.Metadata{
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		Extra:       map[string]any{"source": "upload"},
	}
	ev := testEvent("s1", "e1", "extract_kpis_end")
	ev.Type = trace.TypeLLMCall
	ev.Output = json.RawMessage(`{"revenue":1000,"cogs":400,"opex":300,"ebitda":300}`)
	ev.Metadata = md
	if err := st.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendEvent(context.Background(), testEvent("s1", "e2", "report_generated")); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A reopened store reads back exactly what was written.
	st2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := st2.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Model != "gpt-4o-mini" || got.Status != session.StatusRunning {
		t.Fatalf("session = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Fatalf("temperature = %v, want explicit 0", got.Temperature)
	}

	events, err := st2.ListEvents(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventID != "e1" || events[1].EventID != "e2" {
		t.Fatalf("order = %s, %s", events[0].EventID, events[1].EventID)
	}
	back := events[0].Metadata
	if back == nil || back.Model != "gpt-4o-mini" || back.Extra["source"] != "upload" {
		t.Fatalf("metadata lost on reread: %+v", back)
	}
}

func TestStore_LogIsJSONL(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir)
	st.CreateSession(context.Background(), testSession("s1", time.Now())) //nolint:errcheck
	for _, id := range []string{"e1", "e2", "e3"} {
		if err := st.AppendEvent(context.Background(), testEvent("s1", id, "step")); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, "sessions", "s1.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, line := range lines {
		var ev trace.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d not valid JSON: %v", i, err)
		}
	}
}

func TestStore_NotFound(t *testing.T) {
	st, _ := New(t.TempDir())

	if _, err := st.GetSession(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get err = %v, want ErrNotFound", err)
	}
	if _, err := st.ListEvents(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("list err = %v, want ErrNotFound", err)
	}
	if err := st.AppendEvent(context.Background(), testEvent("missing", "e1", "step")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("append err = %v, want ErrNotFound", err)
	}
}

func TestStore_DuplicateSession(t *testing.T) {
	st, _ := New(t.TempDir())
	sess := testSession("s1", time.Now())
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateSession(context.Background(), sess); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestStore_FinalizeFirstWins(t *testing.T) {
	st, _ := New(t.TempDir())
	st.CreateSession(context.Background(), testSession("s1", time.Now())) //nolint:errcheck

	res := &session.Result{
		KPIs:  &kpi.KPIs{Revenue: 1000, COGS: 400, Opex: 300, EBITDA: 300},
		Valid: true,
		Cost:  0.0004,
	}
	applied, err := st.FinalizeSession(context.Background(), "s1", session.StatusCompleted, res)
	if err != nil || !applied {
		t.Fatalf("first finalize: applied=%v err=%v", applied, err)
	}
	applied, err = st.FinalizeSession(context.Background(), "s1", session.StatusFailed, nil)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if applied {
		t.Fatal("second terminal state applied")
	}

	got, _ := st.GetSession(context.Background(), "s1")
	if got.Status != session.StatusCompleted || !got.Valid || got.KPIs == nil {
		t.Fatalf("session = %+v", got)
	}
}

func TestStore_ListSessionsNewestFirst(t *testing.T) {
	st, _ := New(t.TempDir())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := st.CreateSession(context.Background(), testSession(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	sessions, err := st.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "mid", "old"}
	for i, w := range want {
		if sessions[i].ID != w {
			t.Fatalf("position %d = %s, want %s", i, sessions[i].ID, w)
		}
	}
}
