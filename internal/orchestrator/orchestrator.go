// Package orchestrator runs the conversational pipeline: router, clarifier,
// planner, subagents and summarizer.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/aegis/internal/agents/clarifier"
	"github.com/dvloznov/aegis/internal/agents/planner"
	"github.com/dvloznov/aegis/internal/agents/response"
	"github.com/dvloznov/aegis/internal/agents/router"
	"github.com/dvloznov/aegis/internal/agents/summarizer"
	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/subagents"
)

// Event types.
const (
	EventAgent    = "agent"
	EventSubagent = "subagent"
	EventError    = "error"
	EventDone     = "done"
)

// Event is one streamed piece of output.
type Event struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
}

// Request is one chat turn.
type Request struct {
	Messages    []conversation.Message `json:"messages"`
	DBNames     []string               `json:"db_names,omitempty"`
	AuthToken   string                 `json:"-"`
	ExecutionID string                 `json:"execution_id,omitempty"`
}

// Outcome summarizes a finished run.
type Outcome struct {
	ExecutionID string
	Route       string
	Combos      []domain.BankPeriodCombination
	Databases   []string
	Answer      string
}

// Clients resolves the per-caller LLM client.
type Clients interface {
	Get(token string) (llm.Client, error)
}

// Deps are the pipeline stages.
type Deps struct {
	Clients      Clients
	Router       *router.Router
	Responder    *response.Responder
	Clarifier    *clarifier.Clarifier
	Planner      *planner.Planner
	Subagents    *subagents.Registry
	Summarizer   *summarizer.Summarizer
	HistoryLimit int
}

// Model is the conversational model.
type Model struct {
	deps Deps
}

// New creates the model.
func New(deps Deps) *Model {
	return &Model{deps: deps}
}

// Run executes the pipeline for req, streaming events through emit. A done
// event is always emitted last. The returned error is the one reported in the
// error event, if any.
func (m *Model) Run(ctx context.Context, req Request, emit func(Event)) (*Outcome, error) {
	start := time.Now()
	defer metrics.ObserveStage("model", start)

	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	log := logger.FromContext(stageContext(ctx, req.ExecutionID, "model"))
	out := &Outcome{ExecutionID: req.ExecutionID}

	err := m.run(ctx, req, out, emit)
	if err != nil {
		log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("Model run failed")
		emit(Event{Type: EventError, Content: apperr.Message(err)})
	}
	emit(Event{Type: EventDone, Content: req.ExecutionID})
	log.Info().Str("route", out.Route).Strs("databases", out.Databases).Dur("elapsed", time.Since(start)).Msg("Model run finished")
	return out, err
}

func (m *Model) run(ctx context.Context, req Request, out *Outcome, emit func(Event)) error {
	conv, err := conversation.Process(req.Messages, m.deps.HistoryLimit)
	if err != nil {
		return err
	}
	for _, db := range req.DBNames {
		if !slices.Contains(domain.AllDatabases, db) {
			return apperr.Userf("orchestrator.Run", "unknown database %q", db)
		}
	}
	client, err := m.deps.Clients.Get(req.AuthToken)
	if err != nil {
		return apperr.System("orchestrator.client", err)
	}

	agentEmit := func(name string) func(string) {
		return func(text string) { emit(Event{Type: EventAgent, Name: name, Content: text}) }
	}

	decision := m.deps.Router.Route(stageContext(ctx, req.ExecutionID, "router"), client, conv)
	out.Route = decision.Route
	if decision.Route == router.RouteDirectResponse {
		answer, _, err := m.deps.Responder.Respond(stageContext(ctx, req.ExecutionID, "response"), client, conv, agentEmit("response"))
		out.Answer = answer
		return err
	}

	clar, err := m.deps.Clarifier.Clarify(stageContext(ctx, req.ExecutionID, "clarifier"), client, conv, req.DBNames)
	if err != nil {
		return err
	}
	if clar.NeedsClarification() {
		out.Answer = strings.Join(clar.Clarifications, "\n")
		agentEmit("clarifier")(out.Answer)
		return nil
	}
	out.Combos = clar.Combos

	intent := clar.QueryIntent
	if intent == "" {
		intent = conv.LatestMessage
	}
	plan, err := m.deps.Planner.Plan(stageContext(ctx, req.ExecutionID, "planner"), client, intent, clar.Combos, req.DBNames)
	if err != nil {
		return err
	}
	if plan.NoData {
		out.Answer = plan.Message
		agentEmit("planner")(plan.Message)
		return nil
	}
	out.Databases = plan.Databases

	inputs := make([]subagents.Input, len(plan.Databases))
	for i, db := range plan.Databases {
		inputs[i] = subagents.Input{
			Conversation:  conv,
			LatestMessage: conv.LatestMessage,
			Combos:        plan.Combos[db],
			BasicIntent:   clar.QueryIntent,
			FullIntent:    FullIntent(intent, plan.Combos[db]),
			DatabaseID:    db,
			ExecutionID:   req.ExecutionID,
			Client:        client,
		}
	}
	results := subagents.RunAll(ctx, m.deps.Subagents, inputs, func(db, text string) {
		emit(Event{Type: EventSubagent, Name: db, Content: text})
	})

	outputs := make([]summarizer.Output, len(results))
	for i, r := range results {
		outputs[i] = summarizer.Output{Database: r.Database, Content: r.Content, Err: r.Err}
	}
	sum, err := m.deps.Summarizer.Summarize(stageContext(ctx, req.ExecutionID, "summarizer"), client, intent, outputs, agentEmit("summarizer"))
	if err != nil {
		return err
	}
	out.Answer = sum.Content
	return nil
}

// FullIntent appends the resolved bank-periods to intent.
func FullIntent(intent string, combos []domain.BankPeriodCombination) string {
	if len(combos) == 0 {
		return intent
	}
	labels := make([]string, len(combos))
	for i, c := range combos {
		labels[i] = c.Label()
	}
	return fmt.Sprintf("%s\n\nBanks and periods: %s", intent, strings.Join(labels, ", "))
}

func stageContext(ctx context.Context, executionID, stage string) context.Context {
	return logger.WithStage(ctx, executionID, stage)
}
