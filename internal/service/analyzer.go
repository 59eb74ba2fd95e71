package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
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

// extractionPrompt is the template sent to the model. {{DATA}} is
// replaced with a JSON sample of the parsed rows.
const extractionPrompt = `Extract financial KPIs from this CSV data.
Return JSON with: revenue, cogs, opex, ebitda, year_over_year_growth
Data: {{DATA}}`

// promptSampleRows caps how many parsed rows are embedded in the prompt.
const promptSampleRows = 5

// tokenLimit is the usage level above which a call is flagged as
// outside the compliance token limit.
const tokenLimit = 50000

// Analyzer runs one KPI extraction over tabular input, tracing every
// step of the run into a new session.
type Analyzer struct {
	store       store.Store
	caller      llm.Caller
	catalog     llm.Catalog
	broadcaster broadcast.Broadcaster
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(st store.Store, caller llm.Caller, catalog llm.Catalog) *Analyzer {
	return &Analyzer{store: st, caller: caller, catalog: catalog}
}

// SetBroadcaster attaches a live-monitor broadcaster to all sessions
// this analyzer creates.
func (a *Analyzer) SetBroadcaster(b broadcast.Broadcaster) {
	a.broadcaster = b
}

// AnalysisRequest describes one extraction run.
type AnalysisRequest struct {
	Filename string
	Data     io.Reader
	ModelKey string
}

// AnalysisResult is the outcome of a completed run.
type AnalysisResult struct {
	SessionID string        `json:"sessionId"`
	KPIs      kpi.KPIs      `json:"kpis"`
	Valid     bool          `json:"valid"`
	Cost      float64       `json:"cost"`
	LatencyMS int64         `json:"latency"`
	Rating    rating.Rating `json:"rating"`
}

// Analyze parses the input, extracts KPIs through the model-call
// collaborator, validates the EBITDA identity, and finalizes the
// session with its aggregates and rating. A failed run leaves the
// session failed with whatever partial trace was durably written.
func (a *Analyzer) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	cfg, err := a.catalog.Config(req.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	temp := cfg.Temperature
	sess := &session.Session{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now(),
		Model:       req.ModelKey,
		Temperature: &temp,
		Status:      session.StatusRunning,
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("analyze: create session: %w", err)
	}

	rec := NewRecorder(a.store, sess.ID)
	rec.SetBroadcaster(a.broadcaster)
	spans := NewSpanTracker(rec)

	result, err := a.run(ctx, rec, spans, req, cfg)
	if err != nil {
		errOut, _ := json.Marshal(map[string]string{"error": err.Error()})
		if _, recErr := rec.Record(ctx, trace.Entry{
			Type:   trace.TypeError,
			Name:   "analysis_error",
			Output: errOut,
		}); recErr != nil {
			slog.Error("error event not recorded", "session_id", sess.ID, "error", recErr)
		}
		if finErr := rec.Finalize(ctx, session.StatusFailed, nil); finErr != nil {
			slog.Error("failed session not finalized", "session_id", sess.ID, "error", finErr)
		}
		return nil, fmt.Errorf("analyze session %s: %w", sess.ID, err)
	}

	return result, nil
}

// run executes the traced pipeline. The caller owns failure handling.
func (a *Analyzer) run(ctx context.Context, rec *Recorder, spans *SpanTracker, req AnalysisRequest, cfg llm.Config) (*AnalysisResult, error) {
	startIn, _ := json.Marshal(map[string]string{"file": req.Filename})
	if _, err := rec.Record(ctx, trace.Entry{
		Type:  trace.TypeStart,
		Name:  "analysis_start",
		Input: startIn,
	}); err != nil {
		return nil, err
	}

	// Parse
	parseSpan, err := spans.StartSpan(ctx, trace.TypeParse, "csv_parse", nil)
	if err != nil {
		return nil, err
	}
	rows, columns, err := parseCSV(req.Data)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	var sample map[string]string
	if len(rows) > 0 {
		sample = rows[0]
	}
	parseOut, _ := json.Marshal(map[string]any{
		"rows":    len(rows),
		"columns": columns,
		"sample":  sample,
	})
	if _, err := spans.EndSpan(ctx, parseSpan, parseOut, nil); err != nil {
		return nil, err
	}

	// Model call
	prompt := buildPrompt(rows)
	callIn, _ := json.Marshal(map[string]string{"prompt": prompt})
	llmSpan, err := spans.StartSpan(ctx, trace.TypeLLMCall, "extract_kpis", callIn)
	if err != nil {
		return nil, err
	}
	resp, err := a.caller.Call(ctx, prompt, req.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("extract kpis: %w", err)
	}
	kpis, err := kpi.Parse([]byte(resp.Content))
	if err != nil {
		return nil, fmt.Errorf("extract kpis: %w", err)
	}
	cost := resp.Cost
	callTemp := cfg.Temperature
	if _, err := spans.EndSpan(ctx, llmSpan, json.RawMessage(resp.Content), &trace.Metadata{
		Model:       resp.Model,
		Temperature: &callTemp,
		Tokens: &trace.TokenUsage{
			Input:  resp.InputTokens,
			Output: resp.OutputTokens,
			Total:  resp.TotalTokens,
		},
		Cost: &cost,
		Compliance: &trace.Compliance{
			Deterministic:    cfg.Temperature == 0,
			NoPII:            true,
			WithinTokenLimit: resp.TotalTokens <= tokenLimit,
		},
	}); err != nil {
		return nil, err
	}

	// Validation
	valIn, _ := json.Marshal(kpis)
	valSpan, err := spans.StartSpan(ctx, trace.TypeValidation, "validate_kpis", valIn)
	if err != nil {
		return nil, err
	}
	expected := kpis.ExpectedEBITDA()
	valid := kpis.ValidEBITDA()
	valOut, _ := json.Marshal(map[string]any{
		"valid":           valid,
		"checks":          []string{"ebitda_formula"},
		"expected_ebitda": expected,
		"actual_ebitda":   kpis.EBITDA,
	})
	if _, err := spans.EndSpan(ctx, valSpan, valOut, nil); err != nil {
		return nil, err
	}

	// Output
	reportOut, _ := json.Marshal(map[string]any{"kpis": kpis, "valid": valid})
	if _, err := rec.Record(ctx, trace.Entry{
		Type:   trace.TypeOutput,
		Name:   "report_generated",
		Output: reportOut,
	}); err != nil {
		return nil, err
	}

	rate := rating.Rate(resp.LatencyMS, resp.Cost, cfg.Temperature, valid)
	res := &session.Result{
		KPIs:         kpis,
		Valid:        valid,
		Cost:         resp.Cost,
		LatencyMS:    resp.LatencyMS,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Rating:       &rate,
	}
	if err := rec.Finalize(ctx, session.StatusCompleted, res); err != nil {
		return nil, err
	}

	return &AnalysisResult{
		SessionID: rec.SessionID(),
		KPIs:      *kpis,
		Valid:     valid,
		Cost:      resp.Cost,
		LatencyMS: resp.LatencyMS,
		Rating:    rate,
	}, nil
}

// parseCSV reads header-keyed rows from r.
func parseCSV(r io.Reader) ([]map[string]string, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

// buildPrompt embeds a bounded row sample into the extraction prompt.
func buildPrompt(rows []map[string]string) string {
	n := len(rows)
	if n > promptSampleRows {
		n = promptSampleRows
	}
	data, _ := json.Marshal(rows[:n])
	return strings.Replace(extractionPrompt, "{{DATA}}", string(data), 1)
}
