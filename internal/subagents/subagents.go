// Package subagents defines the per-database research agents and runs them in
// parallel.
package subagents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
)

// Input is what every subagent receives.
type Input struct {
	Conversation  *conversation.Conversation
	LatestMessage string
	Combos        []domain.BankPeriodCombination
	BasicIntent   string
	FullIntent    string
	DatabaseID    string
	ExecutionID   string
	Client        llm.Client
}

// Intent returns the full intent, falling back to the basic one and then the
// latest message.
func (in Input) Intent() string {
	switch {
	case in.FullIntent != "":
		return in.FullIntent
	case in.BasicIntent != "":
		return in.BasicIntent
	default:
		return in.LatestMessage
	}
}

// Emit streams text to the caller.
type Emit func(text string)

// Subagent researches one database.
type Subagent interface {
	Name() string
	Run(ctx context.Context, in Input, emit Emit) error
}

// Registry maps database ids to subagents.
type Registry struct {
	agents map[string]Subagent
}

// NewRegistry registers agents under their names.
func NewRegistry(agents ...Subagent) *Registry {
	r := &Registry{agents: make(map[string]Subagent, len(agents))}
	for _, a := range agents {
		r.agents[a.Name()] = a
	}
	return r
}

// Get returns the subagent for database.
func (r *Registry) Get(database string) (Subagent, bool) {
	a, ok := r.agents[database]
	return a, ok
}

// Names returns the registered database ids, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.agents))
	for n := range r.agents {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Result is the outcome of one subagent run.
type Result struct {
	Database string
	Content  string
	Err      error
	Duration time.Duration
}

// RunAll runs the subagent of every input in parallel. A failing subagent
// emits an error line for its database; the others keep running. emit is
// serialized. Results are returned in input order.
func RunAll(ctx context.Context, reg *Registry, inputs []Input, emit func(database, text string)) []Result {
	results := make([]Result, len(inputs))
	var mu sync.Mutex
	send := func(db, text string) {
		mu.Lock()
		defer mu.Unlock()
		emit(db, text)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = runOne(gctx, reg, in, send)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runOne(ctx context.Context, reg *Registry, in Input, send func(db, text string)) Result {
	start := time.Now()
	defer metrics.ObserveStage("subagent_"+in.DatabaseID, start)
	log := logger.FromContext(ctx).With().
		Str("execution_id", in.ExecutionID).
		Str("stage", "subagent").
		Str("database_id", in.DatabaseID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	res := Result{Database: in.DatabaseID}
	agent, ok := reg.Get(in.DatabaseID)
	if !ok {
		res.Err = apperr.System("subagents.RunAll", fmt.Errorf("no subagent for database %q", in.DatabaseID))
	} else {
		var sb strings.Builder
		res.Err = agent.Run(ctx, in, func(text string) {
			sb.WriteString(text)
			send(in.DatabaseID, text)
		})
		res.Content = sb.String()
	}
	res.Duration = time.Since(start)

	if res.Err != nil {
		log.Error().Err(res.Err).Msg("Subagent failed")
		send(in.DatabaseID, fmt.Sprintf("\n\nUnable to retrieve %s data: %s\n", in.DatabaseID, apperr.Message(res.Err)))
		return res
	}
	log.Info().Dur("elapsed", res.Duration).Int("chars", len(res.Content)).Msg("Subagent finished")
	return res
}

// Models are the model names a subagent uses.
type Models struct {
	Select      string
	Synthesis   string
	Temperature float64
}

// Synthesize streams an answer to system over content and returns the text.
func Synthesize(ctx context.Context, client llm.Client, m Models, system, content string, emit Emit) (string, error) {
	resp, err := client.Stream(ctx, llm.Request{
		Model:       m.Synthesis,
		Messages:    []llm.Message{llm.System(system), llm.User(content)},
		Temperature: llm.Float(m.Temperature),
	}, emit)
	if err != nil {
		return "", apperr.System("subagents.Synthesize", err)
	}
	return resp.Content, nil
}

// Header renders the Markdown heading for a combination.
func Header(c domain.BankPeriodCombination) string {
	return fmt.Sprintf("### %s (%s) %d %s\n\n", c.BankName, c.BankSymbol, c.FiscalYear, c.Quarter)
}
