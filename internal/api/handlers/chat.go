// Package handlers implements the Aegis HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dvloznov/aegis/internal/api/middleware"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/orchestrator"
)

// Runner runs one conversational turn.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error)
}

// ChatHandler streams model events as newline-delimited JSON.
type ChatHandler struct {
	runner Runner
}

// NewChatHandler creates a chat handler.
func NewChatHandler(runner Runner) *ChatHandler {
	return &ChatHandler{runner: runner}
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "messages are required")
		return
	}
	req.AuthToken = middleware.TokenFromContext(r.Context())
	if req.ExecutionID == "" {
		req.ExecutionID = middleware.RequestIDFromContext(r.Context())
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	var mu sync.Mutex
	emit := func(e orchestrator.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(e); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	outcome, err := h.runner.Run(r.Context(), req, emit)
	log := logger.FromContext(r.Context())
	if err != nil {
		log.Warn().Err(err).Str("execution_id", req.ExecutionID).Msg("Chat turn ended with an error")
		return
	}
	log.Info().
		Str("execution_id", outcome.ExecutionID).
		Str("route", outcome.Route).
		Strs("databases", outcome.Databases).
		Msg("Chat turn completed")
}
