// Package sectioned answers questions from sectioned regulatory filings. The
// rts and pillar3 databases share this agent over different tables.
package sectioned

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/bigquery"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/prompts"
	"github.com/dvloznov/aegis/internal/subagents"
)

const (
	// MaxAttempts bounds the section-selection retries.
	MaxAttempts = 3
	// MaxSections caps a selection.
	MaxSections = 10
)

// Repository is a section store.
type Repository interface {
	ListSections(ctx context.Context, combos []domain.BankPeriodCombination) ([]bigquery.SectionRow, error)
	GetSections(ctx context.Context, ids []string) ([]bigquery.SectionRow, error)
}

type selectSections struct {
	SectionIDs []string `json:"section_ids" jsonschema:"description=Section ids from the catalogue, most relevant first"`
}

var selectTool = llm.NewTool[selectSections]("select_sections", "Select the sections that answer the request.")

// Agent is a sectioned-document subagent.
type Agent struct {
	database string
	repo     Repository
	prompts  *prompts.Loader
	models   subagents.Models
}

// New creates the subagent for database.
func New(database string, repo Repository, loader *prompts.Loader, models subagents.Models) *Agent {
	return &Agent{database: database, repo: repo, prompts: loader, models: models}
}

// NewRTS creates the rts subagent.
func NewRTS(repo Repository, loader *prompts.Loader, models subagents.Models) *Agent {
	return New(domain.DatabaseRTS, repo, loader, models)
}

// NewPillar3 creates the pillar3 subagent.
func NewPillar3(repo Repository, loader *prompts.Loader, models subagents.Models) *Agent {
	return New(domain.DatabasePillar3, repo, loader, models)
}

// Name implements subagents.Subagent.
func (a *Agent) Name() string { return a.database }

// Run implements subagents.Subagent.
func (a *Agent) Run(ctx context.Context, in subagents.Input, emit subagents.Emit) error {
	log := logger.FromContext(ctx)

	catalogue, err := a.repo.ListSections(ctx, in.Combos)
	if err != nil {
		return fmt.Errorf("sectioned.Run %s: list sections: %w", a.database, err)
	}
	if len(catalogue) == 0 {
		emit(fmt.Sprintf("No %s sections are available for these periods.\n\n", a.database))
		return nil
	}

	ids, err := a.selectSections(ctx, in, catalogue)
	if err != nil {
		return err
	}
	log.Info().Strs("section_ids", ids).Msg("Selected sections")

	sections, err := a.repo.GetSections(ctx, ids)
	if err != nil {
		return fmt.Errorf("sectioned.Run %s: get sections: %w", a.database, err)
	}
	if len(sections) == 0 {
		emit(fmt.Sprintf("The selected %s sections could not be loaded.\n\n", a.database))
		return nil
	}

	system, err := a.prompts.System(ctx, prompts.LayerSubagent, "sectioned_synthesis", map[string]string{
		"database": a.database,
		"intent":   in.Intent(),
	})
	if err != nil {
		return fmt.Errorf("sectioned.Run %s: prompt: %w", a.database, err)
	}
	if _, err := subagents.Synthesize(ctx, in.Client, a.models, system, Format(order(sections, ids), in.Combos), emit); err != nil {
		return err
	}
	emit("\n\n")
	return nil
}

func (a *Agent) selectSections(ctx context.Context, in subagents.Input, catalogue []bigquery.SectionRow) ([]string, error) {
	system, err := a.prompts.System(ctx, prompts.LayerSubagent, "sectioned_select", map[string]string{
		"database":  a.database,
		"intent":    in.Intent(),
		"catalogue": FormatCatalogue(catalogue, in.Combos),
	})
	if err != nil {
		return nil, fmt.Errorf("sectioned.selectSections: prompt: %w", err)
	}

	known := make(map[string]bool, len(catalogue))
	for _, s := range catalogue {
		known[s.SectionID] = true
	}
	check := func(v *selectSections) error {
		if len(v.SectionIDs) == 0 {
			return fmt.Errorf("select at least one section")
		}
		if len(v.SectionIDs) > MaxSections {
			return fmt.Errorf("select at most %d sections, got %d", MaxSections, len(v.SectionIDs))
		}
		for _, id := range v.SectionIDs {
			if !known[id] {
				return fmt.Errorf("section %q is not in the catalogue", id)
			}
		}
		return nil
	}

	res, err := llm.CallTool(ctx, in.Client, llm.Request{
		Model:       a.models.Select,
		Messages:    []llm.Message{llm.System(system), llm.User(in.LatestMessage)},
		Temperature: llm.Float(0),
	}, selectTool, MaxAttempts, check)
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := map[string]bool{}
	for _, id := range res.Value.SectionIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// order returns sections in the order of ids.
func order(sections []bigquery.SectionRow, ids []string) []bigquery.SectionRow {
	byID := make(map[string]bigquery.SectionRow, len(sections))
	for _, s := range sections {
		byID[s.SectionID] = s
	}
	out := make([]bigquery.SectionRow, 0, len(sections))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func bankLabel(bankID int64, combos []domain.BankPeriodCombination) string {
	for _, c := range combos {
		if int64(c.BankID) == bankID {
			return c.BankSymbol
		}
	}
	return fmt.Sprintf("bank %d", bankID)
}

// FormatCatalogue renders one line per section for selection.
func FormatCatalogue(rows []bigquery.SectionRow, combos []domain.BankPeriodCombination) string {
	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "- %s: %s %d %s | %s", r.SectionID, bankLabel(r.BankID, combos), r.FiscalYear, r.Quarter, r.SectionTitle)
		if r.Summary.Valid && r.Summary.StringVal != "" {
			fmt.Fprintf(&sb, " | %s", r.Summary.StringVal)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Format renders the selected sections for synthesis.
func Format(rows []bigquery.SectionRow, combos []domain.BankPeriodCombination) string {
	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "## %s (%s %d %s", r.SectionTitle, bankLabel(r.BankID, combos), r.FiscalYear, r.Quarter)
		if r.PageStart.Valid {
			fmt.Fprintf(&sb, ", p. %d", r.PageStart.Int64)
		}
		sb.WriteString(")\n\n")
		sb.WriteString(strings.TrimSpace(r.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

var _ subagents.Subagent = (*Agent)(nil)
