// Package summarizer merges per-database research into the final answer.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/prompts"
)

// ErrAllFailed is returned when no database produced output.
var ErrAllFailed = errors.New("every database query failed")

// Output is one subagent's result.
type Output struct {
	Database string
	Content  string
	Err      error
}

// Result is the summarizer outcome.
type Result struct {
	Content string
	// Skipped is set when a single database answered and its output stands.
	Skipped bool
	Usage   llm.Usage
}

// Summarizer streams the merged answer.
type Summarizer struct {
	prompts     *prompts.Loader
	model       string
	temperature float64
}

// New creates a summarizer.
func New(loader *prompts.Loader, model string, temperature float64) *Summarizer {
	return &Summarizer{prompts: loader, model: model, temperature: temperature}
}

// Summarize merges outputs for intent, streaming the merged text through emit.
func (s *Summarizer) Summarize(ctx context.Context, client llm.Client, intent string, outputs []Output, emit func(string)) (*Result, error) {
	defer metrics.ObserveStage("summarizer", time.Now())

	var ok []Output
	var failed []string
	for _, o := range outputs {
		if o.Err != nil || strings.TrimSpace(o.Content) == "" {
			failed = append(failed, o.Database)
			continue
		}
		ok = append(ok, o)
	}
	switch len(ok) {
	case 0:
		return nil, apperr.System("summarizer.Summarize", ErrAllFailed)
	case 1:
		return &Result{Content: ok[0].Content, Skipped: true}, nil
	}

	system, err := s.prompts.System(ctx, prompts.LayerAgent, "summarizer", map[string]string{
		"intent":  intent,
		"results": formatResults(ok, failed),
	})
	if err != nil {
		return nil, apperr.System("summarizer.prompt", err)
	}

	resp, err := client.Stream(ctx, llm.Request{
		Model:       s.model,
		Messages:    []llm.Message{llm.System(system), llm.User(intent)},
		Temperature: llm.Float(s.temperature),
	}, emit)
	if err != nil {
		return nil, apperr.System("summarizer.Summarize", err)
	}
	return &Result{Content: resp.Content, Usage: resp.Usage}, nil
}

func formatResults(ok []Output, failed []string) string {
	var sb strings.Builder
	for _, o := range ok {
		fmt.Fprintf(&sb, "<database name=%q>\n%s\n</database>\n", o.Database, strings.TrimSpace(o.Content))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "Unavailable: %s\n", strings.Join(failed, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
