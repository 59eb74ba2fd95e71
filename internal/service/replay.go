package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rrh1441/agentops-replay/internal/domain/kpi"
	"github.com/rrh1441/agentops-replay/internal/domain/rating"
	"github.com/rrh1441/agentops-replay/internal/domain/session"
	"github.com/rrh1441/agentops-replay/internal/domain/trace"
	"github.com/rrh1441/agentops-replay/internal/port/broadcast"
	"github.com/rrh1441/agentops-replay/internal/port/llm"
	"github.com/rrh1441/agentops-replay/internal/port/store"
)

// replayState names the phase a replay invocation is in, for logging.
type replayState string

const (
	stateLoadingOriginal replayState = "loading_original"
	stateCreatingDerived replayState = "creating_derived_session"
	stateReplayingEvents replayState = "replaying_events"
	stateValidating      replayState = "validating"
	stateFinalizing      replayState = "finalizing"
	stateDone            replayState = "done"
	stateFailed          replayState = "failed"
)

// ReplayEngine reproduces or re-derives a recorded session into a new
// derived session and reports how much the output diverged.
type ReplayEngine struct {
	store       store.Store
	caller      llm.Caller
	broadcaster broadcast.Broadcaster
	pacing      time.Duration
	callTimeout time.Duration
}

// NewReplayEngine creates a ReplayEngine. Pacing and the per-call
// timeout default to zero (disabled).
func NewReplayEngine(st store.Store, caller llm.Caller) *ReplayEngine {
	return &ReplayEngine{store: st, caller: caller}
}

// SetBroadcaster attaches a live-monitor broadcaster to derived
// sessions.
func (e *ReplayEngine) SetBroadcaster(b broadcast.Broadcaster) {
	e.broadcaster = b
}

// SetPacing sets a fixed inter-event delay. It exists for live
// observability only and carries no correctness meaning.
func (e *ReplayEngine) SetPacing(d time.Duration) {
	e.pacing = d
}

// SetCallTimeout bounds each model re-invocation. A timeout is treated
// like any other model-call failure: the original output is reused and
// the event flagged, and the replay continues.
func (e *ReplayEngine) SetCallTimeout(d time.Duration) {
	e.callTimeout = d
}

// ReplayResult is the outcome of one replay invocation.
type ReplayResult struct {
	SessionID        string  `json:"sessionId"`
	IsDeterministic  bool    `json:"isDeterministic"`
	VarianceDetected bool    `json:"varianceDetected"`
	Variance         float64 `json:"variance"`
}

// Replay loads a recorded session's event log and produces a derived
// session. Deterministic configurations (temperature zero) reuse every
// original output bit-for-bit; non-deterministic ones re-invoke the
// model for each recorded model call and measure the drift.
func (e *ReplayEngine) Replay(ctx context.Context, sessionID string) (*ReplayResult, error) {
	state := stateLoadingOriginal
	orig, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay %s (%s): %w", sessionID, state, err)
	}
	events, err := e.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay %s (%s): %w", sessionID, state, err)
	}

	// Fixed once per replay; never re-evaluated per event.
	deterministic, err := orig.Deterministic()
	if err != nil {
		return nil, fmt.Errorf("replay %s (%s): %w", sessionID, state, err)
	}

	state = stateCreatingDerived
	derived := &session.Session{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now(),
		Model:           orig.Model,
		Temperature:     orig.Temperature,
		Status:          session.StatusRunning,
		ParentSessionID: orig.ID,
	}
	if err := e.store.CreateSession(ctx, derived); err != nil {
		return nil, fmt.Errorf("replay %s (%s): %w", sessionID, state, err)
	}

	rec := NewRecorder(e.store, derived.ID)
	rec.SetBroadcaster(e.broadcaster)

	slog.Info("replay started",
		"original", orig.ID, "derived", derived.ID,
		"events", len(events), "deterministic", deterministic)

	result, err := e.replayEvents(ctx, rec, orig, derived.ID, events, deterministic)
	if err != nil {
		e.markFailed(ctx, rec)
		return nil, fmt.Errorf("replay %s (%s): %w", sessionID, stateFailed, err)
	}
	return result, nil
}

// replayEvents runs the REPLAYING_EVENTS through FINALIZING phases.
func (e *ReplayEngine) replayEvents(ctx context.Context, rec *Recorder, orig *session.Session, derivedID string, events []trace.Event, deterministic bool) (*ReplayResult, error) {
	state := stateReplayingEvents

	idMap := make(map[string]string, len(events))
	var (
		finalKPIs    *kpi.KPIs
		finalCost    = orig.Cost
		finalLatency = orig.LatencyMS
		finalInTok   = orig.InputTokens
		finalOutTok  = orig.OutputTokens
		lastPrompt   string
	)

	for i := range events {
		ev := &events[i]

		if p := promptOf(ev); p != "" {
			lastPrompt = p
		}

		entry := trace.Entry{
			Type:     ev.Type,
			Name:     ev.Name,
			ParentID: idMap[ev.ParentID],
			Input:    ev.Input,
			Output:   ev.Output,
		}
		md := ev.Metadata.Clone()
		if md == nil {
			md = &trace.Metadata{}
		}
		md.Replayed = true
		md.OriginalEventID = ev.EventID

		replayable := ev.Type == trace.TypeLLMCall && len(ev.Output) > 0
		switch {
		case replayable && !deterministic:
			origKPIs := kpisOf(ev.Output)
			resp, callErr := e.reinvoke(ctx, lastPrompt, orig.Model)
			var fresh *kpi.KPIs
			if callErr == nil {
				fresh, callErr = kpi.Parse([]byte(resp.Content))
			}
			if callErr != nil {
				// Recovered locally: reuse the original output and
				// keep going.
				slog.Warn("model re-invocation failed, reusing original output",
					"derived", derivedID, "original_event", ev.EventID, "error", callErr)
				md.ReplayError = true
				finalKPIs = origKPIs
			} else {
				entry.Output = json.RawMessage(resp.Content)
				md.Model = resp.Model
				md.Tokens = &trace.TokenUsage{
					Input:  resp.InputTokens,
					Output: resp.OutputTokens,
					Total:  resp.TotalTokens,
				}
				cost := resp.Cost
				md.Cost = &cost
				lat := resp.LatencyMS
				md.DurationMS = &lat
				v := rating.Variance(origKPIs, fresh)
				md.Variance = &v
				finalKPIs = fresh
				finalCost = resp.Cost
				finalLatency = resp.LatencyMS
				finalInTok = resp.InputTokens
				finalOutTok = resp.OutputTokens
			}
		case replayable:
			// Deterministic path: the original output is the output.
			finalKPIs = kpisOf(ev.Output)
		}

		entry.Metadata = md
		newID, err := rec.Record(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", state, err)
		}
		idMap[ev.EventID] = newID

		if e.pacing > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", state, ctx.Err())
			case <-time.After(e.pacing):
			}
		}
	}

	state = stateValidating
	valid := finalKPIs != nil && finalKPIs.ValidEBITDA()
	rate := rating.Rate(finalLatency, finalCost, *orig.Temperature, valid)
	variance := rating.Variance(orig.KPIs, finalKPIs)

	state = stateFinalizing
	res := &session.Result{
		KPIs:         finalKPIs,
		Valid:        valid,
		Cost:         finalCost,
		LatencyMS:    finalLatency,
		InputTokens:  finalInTok,
		OutputTokens: finalOutTok,
		Rating:       &rate,
	}
	if err := rec.Finalize(ctx, session.StatusCompleted, res); err != nil {
		return nil, fmt.Errorf("%s: %w", state, err)
	}

	slog.Info("replay finished", "derived", derivedID, "state", stateDone,
		"variance", variance, "valid", valid)

	return &ReplayResult{
		SessionID:        derivedID,
		IsDeterministic:  deterministic,
		VarianceDetected: !deterministic && variance > 0,
		Variance:         variance,
	}, nil
}

// reinvoke calls the model with the caller-supplied timeout applied.
func (e *ReplayEngine) reinvoke(ctx context.Context, prompt, modelKey string) (*llm.Response, error) {
	if prompt == "" {
		return nil, fmt.Errorf("no recorded prompt for model call")
	}
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	return e.caller.Call(ctx, prompt, modelKey)
}

// markFailed tries to leave the derived session failed rather than
// running indefinitely.
func (e *ReplayEngine) markFailed(ctx context.Context, rec *Recorder) {
	if err := rec.Finalize(ctx, session.StatusFailed, nil); err != nil {
		slog.Error("derived session not marked failed",
			"session_id", rec.SessionID(), "error", err)
	}
}

// promptOf extracts a recorded prompt from a model-call input payload.
func promptOf(ev *trace.Event) string {
	if ev.Type != trace.TypeLLMCall || len(ev.Input) == 0 {
		return ""
	}
	var in struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(ev.Input, &in); err != nil {
		return ""
	}
	return in.Prompt
}

// kpisOf parses a KPI record from an output payload, or nil.
func kpisOf(raw json.RawMessage) *kpi.KPIs {
	k, err := kpi.Parse(raw)
	if err != nil {
		return nil
	}
	return k
}
