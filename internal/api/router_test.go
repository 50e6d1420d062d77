package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/api/handlers"
	"github.com/dvloznov/aegis/internal/orchestrator"
)

type runnerFunc func(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error) {
	return f(ctx, req, emit)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	chat := handlers.NewChatHandler(runnerFunc(func(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error) {
		emit(orchestrator.Event{Type: orchestrator.EventDone, Content: req.ExecutionID})
		return &orchestrator.Outcome{ExecutionID: req.ExecutionID}, nil
	}))
	srv := httptest.NewServer(NewRouter(Handlers{Chat: chat}, zerolog.Nop(), Options{RequireAuth: true}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter(t *testing.T) {
	srv := newServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"chat needs a token", http.MethodPost, "/api/chat", "", http.StatusUnauthorized},
		{"chat", http.MethodPost, "/api/chat", "tok", http.StatusOK},
		{"wrong method", http.MethodGet, "/api/chat", "tok", http.StatusMethodNotAllowed},
		{"unregistered route", http.MethodGet, "/api/reports", "tok", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
			require.NoError(t, err)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}
