package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rrh1441/agentops-replay/internal/domain"
	"github.com/rrh1441/agentops-replay/internal/port/llm"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified by another request")
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, llm.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "upstream model rate limited")
	case errors.Is(err, llm.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, "upstream model rejected credentials")
	case errors.Is(err, llm.ErrUnavailable), errors.Is(err, llm.ErrTimeout):
		writeError(w, http.StatusBadGateway, "upstream model unavailable")
	case errors.Is(err, llm.ErrInputTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "input exceeds the model context window")
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
