// Package api wires the Aegis HTTP routes and middleware chain.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/aegis/internal/api/handlers"
	"github.com/dvloznov/aegis/internal/api/middleware"
	"github.com/dvloznov/aegis/internal/metrics"
)

// Handlers groups the endpoint handlers. A nil handler leaves its routes out.
type Handlers struct {
	Chat    *handlers.ChatHandler
	Banks   *handlers.BanksHandler
	Reports *handlers.ReportsHandler
	Jobs    *handlers.JobsHandler
}

// Options configure NewRouter.
type Options struct {
	// RequireAuth rejects API requests without a bearer token.
	RequireAuth bool
}

// NewRouter registers every route and wraps them in, from the outside in,
// Recovery, RequestID, Logger, CORS and Auth.
func NewRouter(h Handlers, log zerolog.Logger, opts Options) http.Handler {
	r := mux.NewRouter()

	if h.Chat != nil {
		r.HandleFunc("/api/chat", h.Chat.Chat).Methods(http.MethodPost)
	}
	if h.Banks != nil {
		r.HandleFunc("/api/banks", h.Banks.ListBanks).Methods(http.MethodGet)
	}
	if h.Reports != nil {
		r.HandleFunc("/api/reports", h.Reports.ListReports).Methods(http.MethodGet)
		r.HandleFunc("/api/reports/{id}", h.Reports.GetReport).Methods(http.MethodGet)
	}
	if h.Jobs != nil {
		r.HandleFunc("/api/etl/jobs", h.Jobs.CreateJob).Methods(http.MethodPost)
		r.HandleFunc("/api/etl/jobs", h.Jobs.ListJobs).Methods(http.MethodGet)
		r.HandleFunc("/api/etl/jobs/{id}", h.Jobs.GetJob).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(opts.RequireAuth, "/health", "/metrics")(r),
				),
			),
		),
	)
}
