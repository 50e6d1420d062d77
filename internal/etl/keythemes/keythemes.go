// Package keythemes builds the key themes report: analyst Q&A exchanges are
// classified, grouped into themes and rendered in call order.
package keythemes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/categories"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/etl"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/prompts"
)

// Name is the pipeline and report type.
const Name = domain.ReportTypeKeyThemes

// Repository is the transcript store.
type Repository interface {
	ListQAGroups(ctx context.Context, combo domain.BankPeriodCombination) ([]domain.QAGroup, error)
}

// Exchange is a classified Q&A group.
type Exchange struct {
	QAID             int    `json:"qa_id"`
	Category         string `json:"category_name"`
	Summary          string `json:"summary"`
	FormattedContent string `json:"formatted_content"`
}

type classifyArgs struct {
	IsValid          bool   `json:"is_valid"`
	CategoryName     string `json:"category_name,omitempty"`
	Summary          string `json:"summary,omitempty"`
	FormattedContent string `json:"formatted_content,omitempty"`
}

type groupArgs struct {
	ThemeGroups []domain.ThemeGroup `json:"theme_groups"`
}

var (
	classifyTool = llm.NewTool[classifyArgs]("classify_qa", "Classify one Q&A exchange.")
	groupTool    = llm.NewTool[groupArgs]("group_themes", "Group the classified exchanges into themes.")
)

// State is shared across the steps.
type State struct {
	Combo      domain.BankPeriodCombination
	Client     llm.Client
	Run        *etl.Run
	Categories *categories.Set
	Groups     []domain.QAGroup
	Exchanges  []Exchange
	Themes     []domain.ThemeGroup
	// Fallback is set when the themes were grouped by category.
	Fallback bool
	Report   *domain.Report
}

// Pipeline is the key_themes generator.
type Pipeline struct {
	runner   *etl.Runner
	banks    etl.Banks
	pipeline *etl.Pipeline[State]
}

// New creates the key_themes generator.
func New(runner *etl.Runner, banks etl.Banks, repo Repository, loader *prompts.Loader, opts etl.Options) *Pipeline {
	return &Pipeline{
		runner: runner,
		banks:  banks,
		pipeline: etl.NewPipeline[State](Name,
			&loadGroupsStep{repo: repo},
			&classifyStep{prompts: loader, opts: opts},
			&groupStep{prompts: loader, opts: opts},
			&assembleStep{},
		),
	}
}

// Generate implements etl.Generator.
func (p *Pipeline) Generate(ctx context.Context, client llm.Client, job *jobs.ETLJob) (*domain.Report, error) {
	combos, err := etl.ResolveCombos(ctx, p.banks, job.BankIDs, job.FiscalYear, job.Quarter)
	if err != nil {
		return nil, err
	}
	if len(combos) != 1 {
		return nil, apperr.Userf("keythemes.Generate", "key_themes takes one bank, got %d", len(combos))
	}
	return p.runner.Execute(ctx, Name, job.BankIDs, job.FiscalYear, job.Quarter, func(ctx context.Context, run *etl.Run) (*domain.Report, error) {
		state := &State{Combo: combos[0], Client: client, Run: run}
		if err := p.pipeline.Execute(ctx, state); err != nil {
			return nil, err
		}
		return state.Report, nil
	})
}

type loadGroupsStep struct {
	repo Repository
}

func (s *loadGroupsStep) Name() string { return "load_qa_groups" }

func (s *loadGroupsStep) Execute(ctx context.Context, state *State) error {
	set, err := categories.ForBankType(state.Combo.BankType)
	if err != nil {
		return err
	}
	state.Categories = set

	groups, err := s.repo.ListQAGroups(ctx, state.Combo)
	if err != nil {
		return apperr.System("keythemes.load", err)
	}
	if len(groups) == 0 {
		return apperr.Userf("keythemes.load", "no Q&A exchanges for %s", state.Combo.Label())
	}
	state.Groups = groups
	return nil
}

type classifyStep struct {
	prompts *prompts.Loader
	opts    etl.Options
}

func (s *classifyStep) Name() string { return "classify_qa" }

func (s *classifyStep) Execute(ctx context.Context, state *State) error {
	system, err := s.prompts.System(ctx, prompts.LayerETL, "key_themes_classify", map[string]string{
		"bank_name":   state.Combo.BankName,
		"fiscal_year": strconv.Itoa(state.Combo.FiscalYear),
		"quarter":     state.Combo.Quarter,
		"categories":  state.Categories.Format(),
	})
	if err != nil {
		return apperr.System("keythemes.classify", err)
	}

	check := func(v *classifyArgs) error {
		if !v.IsValid {
			return nil
		}
		if _, ok := state.Categories.ByName(v.CategoryName); !ok {
			return fmt.Errorf("category_name %q is not one of: %s", v.CategoryName, strings.Join(state.Categories.Names(), ", "))
		}
		if strings.TrimSpace(v.FormattedContent) == "" {
			return fmt.Errorf("formatted_content is required when is_valid is true")
		}
		return nil
	}

	classified := make([]*Exchange, len(state.Groups))
	err = etl.ForEach(ctx, len(state.Groups), s.opts.Concurrency, func(ctx context.Context, i int) error {
		g := state.Groups[i]
		res, err := llm.CallTool(ctx, state.Client, s.opts.Request(llm.System(system), llm.User(g.Content)), classifyTool, s.opts.Attempts(), check)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Int("qa_id", g.ID).Msg("Classification failed, dropping exchange")
			return nil
		}
		state.Run.Record(ctx, "classify_qa_"+strconv.Itoa(g.ID), s.opts.Model, classifyTool.Name, res.Arguments, res.Attempts, res.Usage)
		if !res.Value.IsValid {
			return nil
		}
		cat, _ := state.Categories.ByName(res.Value.CategoryName)
		classified[i] = &Exchange{
			QAID:             g.ID,
			Category:         cat.Name,
			Summary:          strings.TrimSpace(res.Value.Summary),
			FormattedContent: strings.TrimSpace(res.Value.FormattedContent),
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range classified {
		if e != nil {
			state.Exchanges = append(state.Exchanges, *e)
		}
	}
	if len(state.Exchanges) == 0 {
		return apperr.Model("keythemes.classify", 0, fmt.Errorf("no valid Q&A exchanges among %d", len(state.Groups)))
	}
	return nil
}

type groupStep struct {
	prompts *prompts.Loader
	opts    etl.Options
}

func (s *groupStep) Name() string { return "group_themes" }

func (s *groupStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	ids := make([]int, len(state.Exchanges))
	for i, e := range state.Exchanges {
		ids[i] = e.QAID
	}

	system, err := s.prompts.System(ctx, prompts.LayerETL, "key_themes_group", map[string]string{
		"bank_name":   state.Combo.BankName,
		"fiscal_year": strconv.Itoa(state.Combo.FiscalYear),
		"quarter":     state.Combo.Quarter,
		"exchanges":   formatExchanges(state.Exchanges),
	})
	if err == nil {
		check := func(v *groupArgs) error { return ValidateGroups(v.ThemeGroups, ids) }
		var res *llm.ToolResult[groupArgs]
		res, err = llm.CallTool(ctx, state.Client, s.opts.Request(llm.System(system), llm.User("Group the exchanges.")), groupTool, s.opts.Attempts(), check)
		if err == nil {
			state.Run.Record(ctx, "group_themes", s.opts.Model, groupTool.Name, res.Arguments, res.Attempts, res.Usage)
			state.Themes = res.Value.ThemeGroups
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	log.Warn().Err(err).Msg("Theme grouping failed, grouping by category")
	state.Themes = GroupByCategory(state.Exchanges)
	state.Fallback = true
	return nil
}

// ValidateGroups checks that every id in ids appears in exactly one group,
// that no other ids are used and that no group is empty.
func ValidateGroups(groups []domain.ThemeGroup, ids []int) error {
	valid := make(map[int]bool, len(ids))
	for _, id := range ids {
		valid[id] = true
	}
	seen := map[int]bool{}
	for i, g := range groups {
		if strings.TrimSpace(g.Title) == "" {
			return fmt.Errorf("group %d has no group_title", i)
		}
		if len(g.QAIDs) == 0 {
			return fmt.Errorf("group %q is empty", g.Title)
		}
		for _, id := range g.QAIDs {
			if !valid[id] {
				return fmt.Errorf("group %q uses unknown qa_id %d", g.Title, id)
			}
			if seen[id] {
				return fmt.Errorf("qa_id %d appears in more than one group", id)
			}
			seen[id] = true
		}
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, strconv.Itoa(id))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("qa_ids not assigned to any group: %s", strings.Join(missing, ", "))
	}
	return nil
}

// GroupByCategory groups exchanges by their category, categories in order of
// their first exchange.
func GroupByCategory(exchanges []Exchange) []domain.ThemeGroup {
	var out []domain.ThemeGroup
	pos := map[string]int{}
	for _, e := range exchanges {
		i, ok := pos[e.Category]
		if !ok {
			i = len(out)
			pos[e.Category] = i
			out = append(out, domain.ThemeGroup{Title: e.Category})
		}
		out[i].QAIDs = append(out[i].QAIDs, e.QAID)
	}
	return out
}

// Order sorts the ids within each group and the groups by their first id.
func Order(groups []domain.ThemeGroup) []domain.ThemeGroup {
	out := make([]domain.ThemeGroup, len(groups))
	for i, g := range groups {
		g.QAIDs = append([]int(nil), g.QAIDs...)
		sort.Ints(g.QAIDs)
		out[i] = g
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QAIDs[0] < out[j].QAIDs[0] })
	return out
}

type assembleStep struct{}

func (s *assembleStep) Name() string { return "assemble" }

func (s *assembleStep) Execute(ctx context.Context, state *State) error {
	themes := Order(state.Themes)
	payload, err := json.Marshal(map[string]any{
		"bank":      state.Combo,
		"exchanges": state.Exchanges,
		"themes":    themes,
		"fallback":  state.Fallback,
	})
	if err != nil {
		return fmt.Errorf("assemble: marshal payload: %w", err)
	}
	state.Report = &domain.Report{
		ID:         uuid.NewString(),
		BankID:     state.Combo.BankID,
		BankName:   state.Combo.BankName,
		BankSymbol: state.Combo.BankSymbol,
		FiscalYear: state.Combo.FiscalYear,
		Quarter:    state.Combo.Quarter,
		ReportType: Name,
		Title:      fmt.Sprintf("%s %d %s Key Themes", state.Combo.BankName, state.Combo.FiscalYear, state.Combo.Quarter),
		Payload:    payload,
	}
	state.Report.Markdown = Markdown(state.Report.Title, themes, state.Exchanges)
	return nil
}

// Markdown renders ordered themes with their exchanges.
func Markdown(title string, themes []domain.ThemeGroup, exchanges []Exchange) string {
	byID := make(map[int]Exchange, len(exchanges))
	for _, e := range exchanges {
		byID[e.QAID] = e
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", title)
	for i, t := range themes {
		fmt.Fprintf(&sb, "\n## Theme %d: %s\n", i+1, t.Title)
		for _, id := range t.QAIDs {
			e := byID[id]
			if e.Summary != "" {
				fmt.Fprintf(&sb, "\n*%s*\n", e.Summary)
			}
			fmt.Fprintf(&sb, "\n%s\n", e.FormattedContent)
		}
	}
	return sb.String()
}

func formatExchanges(exchanges []Exchange) string {
	var sb strings.Builder
	for _, e := range exchanges {
		fmt.Fprintf(&sb, "qa_id %d [%s]: %s\n", e.QAID, e.Category, e.Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}
