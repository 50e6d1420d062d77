// Package response answers messages that need no database research.
package response

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/prompts"
)

// Responder streams direct answers.
type Responder struct {
	prompts     *prompts.Loader
	model       string
	temperature float64
}

// New creates a responder.
func New(loader *prompts.Loader, model string, temperature float64) *Responder {
	return &Responder{prompts: loader, model: model, temperature: temperature}
}

// Respond streams the answer through emit and returns the full text.
func (r *Responder) Respond(ctx context.Context, client llm.Client, conv *conversation.Conversation, emit func(string)) (string, llm.Usage, error) {
	defer metrics.ObserveStage("response", time.Now())

	system, err := r.prompts.System(ctx, prompts.LayerAgent, "response", nil)
	if err != nil {
		return "", llm.Usage{}, apperr.System("response.Respond", fmt.Errorf("load prompt: %w", err))
	}

	resp, err := client.Stream(ctx, llm.Request{
		Model:       r.model,
		Messages:    append([]llm.Message{llm.System(system)}, conv.LLMMessages()...),
		Temperature: llm.Float(r.temperature),
	}, emit)
	if err != nil {
		return "", llm.Usage{}, apperr.System("response.Respond", err)
	}
	return resp.Content, resp.Usage, nil
}
