package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/logger"
)

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		required   bool
		path       string
		header     string
		wantStatus int
		wantToken  string
	}{
		{"bearer token", true, "/api/chat", "Bearer abc123", http.StatusOK, "abc123"},
		{"lowercase scheme", true, "/api/chat", "bearer abc123", http.StatusOK, "abc123"},
		{"missing token", true, "/api/chat", "", http.StatusUnauthorized, ""},
		{"basic auth", true, "/api/chat", "Basic dXNlcg==", http.StatusUnauthorized, ""},
		{"public path", true, "/health", "", http.StatusOK, ""},
		{"optional", false, "/api/chat", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Auth(tt.required, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = TokenFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantToken, got)
		})
	}
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-1", got)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "req-1", got)
}

func TestRecoveryAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)
	h := RequestID(Logger(log)(Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/banks", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "Panic recovered")
	assert.Contains(t, buf.String(), `"status":500`)
	assert.Contains(t, buf.String(), `"request_id"`)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Userf("op", "bad input"), http.StatusBadRequest},
		{apperr.Model("op", 3, errors.New("invalid")), http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteAppError(w, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
