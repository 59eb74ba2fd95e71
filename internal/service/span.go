package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
)

// openSpan is the bookkeeping kept between StartSpan and EndSpan.
type openSpan struct {
	typ       trace.Type
	name      string // base name, without the _start/_end suffix
	startedAt time.Time
}

// SpanTracker pairs a start event with its matching end event and
// measures the duration between them. Spans do not nest beyond one
// level and may close in any order.
type SpanTracker struct {
	mu   sync.Mutex
	rec  *Recorder
	open map[string]openSpan
	now  func() time.Time // for testing
}

// NewSpanTracker creates a SpanTracker recording through rec.
func NewSpanTracker(rec *Recorder) *SpanTracker {
	return &SpanTracker{
		rec:  rec,
		open: make(map[string]openSpan),
		now:  time.Now,
	}
}

// StartSpan records a start-suffixed event and returns its event ID as
// the span handle.
func (t *SpanTracker) StartSpan(ctx context.Context, typ trace.Type, name string, input json.RawMessage) (string, error) {
	spanID, err := t.rec.Record(ctx, trace.Entry{
		Type:  typ,
		Name:  name + trace.SuffixStart,
		Input: input,
	})
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.open[spanID] = openSpan{typ: typ, name: name, startedAt: t.now()}
	t.mu.Unlock()

	return spanID, nil
}

// EndSpan records the matching end-suffixed event with the measured
// duration merged into md, and releases the span. An unknown or
// already-closed spanID records nothing and returns ErrStaleSpan; it
// never fabricates a duration from a stale handle.
func (t *SpanTracker) EndSpan(ctx context.Context, spanID string, output json.RawMessage, md *trace.Metadata) (string, error) {
	t.mu.Lock()
	sp, ok := t.open[spanID]
	if ok {
		delete(t.open, spanID)
	}
	t.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("end span %s: %w", spanID, domain.ErrStaleSpan)
	}

	duration := t.now().Sub(sp.startedAt).Milliseconds()
	merged := md.Clone()
	if merged == nil {
		merged = &trace.Metadata{}
	}
	merged.DurationMS = &duration

	return t.rec.Record(ctx, trace.Entry{
		Type:     sp.typ,
		Name:     sp.name + trace.SuffixEnd,
		ParentID: spanID,
		Output:   output,
		Metadata: merged,
	})
}

// OpenSpans returns the number of spans started but not yet ended. A
// span left open never blocks finalization; it simply contributes no
// duration.
func (t *SpanTracker) OpenSpans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
