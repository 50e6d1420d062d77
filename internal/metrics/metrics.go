// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Name:      "llm_requests_total",
		Help:      "LLM API calls by model and outcome.",
	}, []string{"model", "outcome"})

	LLMTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Name:      "llm_tokens_total",
		Help:      "Tokens consumed by model and kind (prompt, completion).",
	}, []string{"model", "kind"})

	ToolCallRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Name:      "tool_call_retries_total",
		Help:      "Tool-call attempts that had to be retried.",
	}, []string{"tool"})

	ETLRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Name:      "etl_runs_total",
		Help:      "ETL pipeline runs by pipeline and final status.",
	}, []string{"etl", "status"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegis",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aegis",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		LLMRequests,
		LLMTokens,
		ToolCallRetries,
		ETLRuns,
		HTTPRequests,
		StageDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// Handler serves the Aegis registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
