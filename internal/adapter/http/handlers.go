package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rrh1441/agentops-replay/internal/adapter/otel"
	"github.com/rrh1441/agentops-replay/internal/adapter/ws"
	"github.com/rrh1441/agentops-replay/internal/port/store"
	"github.com/rrh1441/agentops-replay/internal/service"
)

// maxUploadBytes bounds the accepted CSV upload size.
const maxUploadBytes = 10 << 20

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	Store           store.Store
	Analyzer        *service.Analyzer
	Comparator      *service.Comparator
	Replay          *service.ReplayEngine
	Hub             *ws.Hub
	Metrics         *otel.Metrics
	DefaultModelKey string
}

// readUpload pulls the uploaded file and its name out of a multipart
// form.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return nil, "", false
	}
	return data, header.Filename, true
}

// Analyze runs one KPI extraction over an uploaded CSV.
// POST /api/v1/analyze
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := readUpload(w, r)
	if !ok {
		return
	}

	modelKey := r.FormValue("model")
	if modelKey == "" {
		modelKey = h.DefaultModelKey
	}

	ctx := r.Context()
	start := time.Now()
	h.Metrics.AnalysesStarted.Add(ctx, 1)

	res, err := h.Analyzer.Analyze(ctx, service.AnalysisRequest{
		Filename: filename,
		Data:     bytes.NewReader(data),
		ModelKey: modelKey,
	})
	if err != nil {
		h.Metrics.AnalysesFailed.Add(ctx, 1)
		writeDomainError(w, err, "analysis failed")
		return
	}

	h.Metrics.AnalysesCompleted.Add(ctx, 1)
	h.Metrics.RunDuration.Record(ctx, time.Since(start).Seconds())
	h.Metrics.RunCost.Record(ctx, res.Cost)

	writeJSON(w, http.StatusOK, res)
}

// Compare runs one upload across several model configurations.
// POST /api/v1/analyze/compare
func (h *Handlers) Compare(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := readUpload(w, r)
	if !ok {
		return
	}

	var modelKeys []string
	for _, v := range r.Form["models"] {
		for _, key := range strings.Split(v, ",") {
			if key = strings.TrimSpace(key); key != "" {
				modelKeys = append(modelKeys, key)
			}
		}
	}
	if len(modelKeys) == 0 {
		writeError(w, http.StatusBadRequest, "models field is required")
		return
	}

	cmp, err := h.Comparator.Compare(r.Context(), data, filename, modelKeys)
	if err != nil {
		writeDomainError(w, err, "comparison failed")
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// ListSessions returns all sessions, newest first.
// GET /api/v1/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListSessions(r.Context())
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession returns one session by ID.
// GET /api/v1/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListEvents returns a session's event log in append order.
// GET /api/v1/sessions/{id}/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.Store.ListEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ReplaySession replays a recorded session into a derived one.
// POST /api/v1/sessions/{id}/replay
func (h *Handlers) ReplaySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx := r.Context()
	h.Metrics.ReplaysStarted.Add(ctx, 1)

	res, err := h.Replay.Replay(ctx, id)
	if err != nil {
		h.Metrics.ReplaysFailed.Add(ctx, 1)
		writeDomainError(w, err, "session not found")
		return
	}

	h.Metrics.ReplaysCompleted.Add(ctx, 1)
	writeJSON(w, http.StatusOK, res)
}

// Health reports liveness and the number of live-monitor clients.
// GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"monitors": h.Hub.ConnectionCount(),
	})
}
