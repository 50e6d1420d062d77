// Package router decides whether a message needs the research workflow.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/prompts"
)

// Routes.
const (
	RouteDirectResponse   = "direct_response"
	RouteResearchWorkflow = "research_workflow"
)

// MaxAttempts bounds the tool-call retries.
const MaxAttempts = 3

// Decision is the routing outcome.
type Decision struct {
	Route     string `json:"route"`
	Rationale string `json:"rationale,omitempty"`
	// Attempts counts tool calls the model answered; zero when none did.
	Attempts int `json:"attempts"`
	// Fallback is set when the route is the default after LLM failure.
	Fallback bool `json:"fallback"`
}

type routeArgs struct {
	R         int    `json:"r" jsonschema:"enum=0,enum=1,description=0 = answer directly from the conversation; 1 = research the databases"`
	Rationale string `json:"rationale,omitempty" jsonschema:"description=One short sentence explaining the choice"`
}

var routeTool = llm.NewTool[routeArgs]("route", "Route the latest user message.")

// Router classifies messages with one tool call.
type Router struct {
	prompts *prompts.Loader
	model   string
}

// New creates a router using model.
func New(loader *prompts.Loader, model string) *Router {
	return &Router{prompts: loader, model: model}
}

// Route classifies the latest message. It never fails: prompt, transport or
// tool-call errors fall back to the research workflow.
func (r *Router) Route(ctx context.Context, client llm.Client, conv *conversation.Conversation) Decision {
	defer metrics.ObserveStage("router", time.Now())
	log := logger.FromContext(ctx)

	system, err := r.prompts.System(ctx, prompts.LayerAgent, "router", nil)
	if err != nil {
		log.Warn().Err(err).Msg("Router prompt unavailable, defaulting to research workflow")
		return Decision{Route: RouteResearchWorkflow, Fallback: true}
	}

	req := llm.Request{
		Model:       r.model,
		Messages:    append([]llm.Message{llm.System(system)}, conv.LLMMessages()...),
		Temperature: llm.Float(0),
	}
	res, err := llm.CallTool[routeArgs](ctx, client, req, routeTool, MaxAttempts, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Routing failed, defaulting to research workflow")
		d := Decision{Route: RouteResearchWorkflow, Fallback: true}
		var mb *apperr.ModelBehaviorError
		if errors.As(err, &mb) {
			d.Attempts = mb.Attempts
		}
		return d
	}

	d := Decision{Route: RouteResearchWorkflow, Rationale: res.Value.Rationale, Attempts: res.Attempts}
	if res.Value.R == 0 {
		d.Route = RouteDirectResponse
	}
	log.Info().Str("route", d.Route).Int("attempts", d.Attempts).Msg("Routed message")
	return d
}
