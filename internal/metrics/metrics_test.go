package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersExported(t *testing.T) {
	LLMRequests.WithLabelValues("gpt-test", "success").Inc()
	ToolCallRetries.WithLabelValues("route").Add(2)
	ObserveStage("router", time.Now().Add(-time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(ToolCallRetries.WithLabelValues("route")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `aegis_llm_requests_total{model="gpt-test",outcome="success"} 1`)
	assert.Contains(t, body, `aegis_stage_duration_seconds_count{stage="router"} 1`)
}
