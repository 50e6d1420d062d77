// Package planner chooses which databases answer a clarified request.
package planner

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/prompts"
)

// MaxAttempts bounds the tool-call retries.
const MaxAttempts = 3

// Availability is the slice of the availability repository the planner reads.
type Availability interface {
	ListAvailability(ctx context.Context, bankIDs []int) ([]domain.Availability, error)
}

// Plan is the planner's decision.
type Plan struct {
	// Databases are the selected databases in display order.
	Databases []string
	// Available is every database with data for at least one combination.
	Available []string
	// Combos maps each selected database to the combinations it has data for.
	Combos map[string][]domain.BankPeriodCombination
	NoData bool
	// Message explains a NoData plan to the user.
	Message  string
	Fallback bool
	Usage    llm.Usage
}

type databasesSelected struct {
	Databases []string `json:"databases" jsonschema:"description=Database ids to query"`
}

var selectTool = llm.NewTool[databasesSelected]("databases_selected", "Select the databases to query.")

// Planner selects databases with one tool call.
type Planner struct {
	prompts      *prompts.Loader
	availability Availability
	model        string
}

// New creates a planner.
func New(loader *prompts.Loader, availability Availability, model string) *Planner {
	return &Planner{prompts: loader, availability: availability, model: model}
}

// Plan selects databases for combos. dbNames, when non-empty, restricts the
// candidates.
func (p *Planner) Plan(ctx context.Context, client llm.Client, intent string, combos []domain.BankPeriodCombination, dbNames []string) (*Plan, error) {
	defer metrics.ObserveStage("planner", time.Now())
	log := logger.FromContext(ctx)

	perDB, err := p.availableCombos(ctx, combos, dbNames)
	if err != nil {
		return nil, err
	}
	available := orderedKeys(perDB)
	if len(available) == 0 {
		return &Plan{NoData: true, Message: noDataMessage(combos, dbNames)}, nil
	}

	system, err := p.prompts.System(ctx, prompts.LayerAgent, "planner", map[string]string{
		"intent":              intent,
		"combos":              formatCombos(combos),
		"available_databases": strings.Join(available, ", "),
	})
	if err != nil {
		return nil, apperr.System("planner.prompt", err)
	}

	req := llm.Request{
		Model:       p.model,
		Messages:    []llm.Message{llm.System(system), llm.User(intent)},
		Temperature: llm.Float(0),
	}
	check := func(v *databasesSelected) error {
		if len(v.Databases) == 0 {
			return fmt.Errorf("select at least one database")
		}
		for _, db := range v.Databases {
			if !slices.Contains(domain.AllDatabases, db) {
				return fmt.Errorf("unknown database %q; choose from %s", db, strings.Join(available, ", "))
			}
		}
		return nil
	}

	plan := &Plan{Available: available}
	var selected []string
	res, err := llm.CallTool(ctx, client, req, selectTool, MaxAttempts, check)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindSystem && ctx.Err() != nil {
			return nil, err
		}
		log.Warn().Err(err).Msg("Planner failed, querying every available database")
		selected = available
		plan.Fallback = true
	} else {
		selected = res.Value.Databases
		plan.Usage = res.Usage
	}

	plan.Combos = map[string][]domain.BankPeriodCombination{}
	for _, db := range available {
		if slices.Contains(selected, db) {
			plan.Databases = append(plan.Databases, db)
			plan.Combos[db] = perDB[db]
		}
	}
	if len(plan.Databases) == 0 {
		plan.NoData = true
		plan.Message = fmt.Sprintf("The databases needed for this question (%s) have no data for %s. Available: %s.",
			strings.Join(selected, ", "), labels(combos), strings.Join(available, ", "))
	}

	log.Info().Strs("databases", plan.Databases).Bool("fallback", plan.Fallback).Msg("Planned databases")
	return plan, nil
}

func (p *Planner) availableCombos(ctx context.Context, combos []domain.BankPeriodCombination, dbNames []string) (map[string][]domain.BankPeriodCombination, error) {
	var ids []int
	for _, c := range combos {
		if !slices.Contains(ids, c.BankID) {
			ids = append(ids, c.BankID)
		}
	}
	rows, err := p.availability.ListAvailability(ctx, ids)
	if err != nil {
		return nil, apperr.System("planner.ListAvailability", err)
	}

	out := map[string][]domain.BankPeriodCombination{}
	for _, c := range combos {
		for _, a := range rows {
			if a.BankID != c.BankID || a.FiscalYear != c.FiscalYear || a.Quarter != c.Quarter {
				continue
			}
			for _, db := range a.Databases {
				if len(dbNames) > 0 && !slices.Contains(dbNames, db) {
					continue
				}
				if !slices.Contains(out[db], c) {
					out[db] = append(out[db], c)
				}
			}
		}
	}
	return out, nil
}

func orderedKeys(m map[string][]domain.BankPeriodCombination) []string {
	var out []string
	for _, db := range domain.AllDatabases {
		if len(m[db]) > 0 {
			out = append(out, db)
		}
	}
	return out
}

func noDataMessage(combos []domain.BankPeriodCombination, dbNames []string) string {
	if len(dbNames) > 0 {
		return fmt.Sprintf("No data is available for %s in %s.", labels(combos), strings.Join(dbNames, ", "))
	}
	return fmt.Sprintf("No data is available for %s.", labels(combos))
}

func labels(combos []domain.BankPeriodCombination) string {
	out := make([]string, len(combos))
	for i, c := range combos {
		out[i] = c.Label()
	}
	return strings.Join(out, ", ")
}

func formatCombos(combos []domain.BankPeriodCombination) string {
	var sb strings.Builder
	for _, c := range combos {
		fmt.Fprintf(&sb, "- %s (%s) %d %s\n", c.BankName, c.BankSymbol, c.FiscalYear, c.Quarter)
	}
	return strings.TrimRight(sb.String(), "\n")
}
