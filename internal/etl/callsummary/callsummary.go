// Package callsummary builds the structured earnings-call summary report: a
// research plan, per-category extraction, cross-category deduplication and
// Markdown assembly.
package callsummary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/dvloznov/aegis/internal/subagents/transcripts"
)

// Name is the pipeline and report type.
const Name = domain.ReportTypeCallSummary

// Repository is the transcript store.
type Repository interface {
	ListChunks(ctx context.Context, combo domain.BankPeriodCombination, sections []string) ([]domain.TranscriptChunk, error)
}

// CategoryPlan is one entry of the research plan.
type CategoryPlan struct {
	Index              int    `json:"index"`
	Name               string `json:"name"`
	ExtractionStrategy string `json:"extraction_strategy"`
	CrossCategoryNotes string `json:"cross_category_notes,omitempty"`
}

type researchPlan struct {
	CategoryPlans []CategoryPlan `json:"category_plans"`
}

type evidenceArgs struct {
	Type    string `json:"type" jsonschema:"enum=quote,enum=paraphrase"`
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

type statementArgs struct {
	Statement      string         `json:"statement"`
	RelevanceScore int            `json:"relevance_score" jsonschema:"minimum=1,maximum=10"`
	Evidence       []evidenceArgs `json:"evidence"`
}

type extractArgs struct {
	Rejected        bool            `json:"rejected"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Title           string          `json:"title,omitempty"`
	Statements      []statementArgs `json:"statements,omitempty"`
}

var (
	planTool    = llm.NewTool[researchPlan]("research_plan", "Plan the extraction for each category.")
	extractTool = llm.NewTool[extractArgs]("extract_category", "Report the findings for one category.")
	dedupTool   = llm.NewTool[Dedup]("deduplication_analysis", "Report duplicated statements and evidence.")
)

// State is shared across the steps.
type State struct {
	Combo      domain.BankPeriodCombination
	Client     llm.Client
	Run        *etl.Run
	Categories *categories.Set
	// Sections holds the formatted transcript per section (MD, QA, ALL).
	Sections map[string]string
	Plans    map[int]CategoryPlan
	Results  []domain.CategoryResult
	Dedup    DedupStats
	Report   *domain.Report
}

// Pipeline is the call_summary generator.
type Pipeline struct {
	runner   *etl.Runner
	banks    etl.Banks
	pipeline *etl.Pipeline[State]
}

// New creates the call_summary generator.
func New(runner *etl.Runner, banks etl.Banks, repo Repository, loader *prompts.Loader, opts etl.Options) *Pipeline {
	return &Pipeline{
		runner: runner,
		banks:  banks,
		pipeline: etl.NewPipeline[State](Name,
			&LoadCategoriesStep{},
			&RetrieveTranscriptStep{repo: repo},
			&ResearchPlanStep{prompts: loader, opts: opts},
			&ExtractCategoriesStep{prompts: loader, opts: opts},
			&DeduplicateStep{prompts: loader, opts: opts},
			&AssembleStep{},
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
		return nil, apperr.Userf("callsummary.Generate", "call_summary takes one bank, got %d", len(combos))
	}
	combo := combos[0]
	return p.runner.Execute(ctx, Name, job.BankIDs, job.FiscalYear, job.Quarter, func(ctx context.Context, run *etl.Run) (*domain.Report, error) {
		state := &State{Combo: combo, Client: client, Run: run}
		if err := p.pipeline.Execute(ctx, state); err != nil {
			return nil, err
		}
		return state.Report, nil
	})
}

// LoadCategoriesStep loads the category set for the bank type.
type LoadCategoriesStep struct{}

func (s *LoadCategoriesStep) Name() string { return "load_categories" }

func (s *LoadCategoriesStep) Execute(ctx context.Context, state *State) error {
	set, err := categories.ForBankType(state.Combo.BankType)
	if err != nil {
		return err
	}
	state.Categories = set
	return nil
}

// RetrieveTranscriptStep loads and formats the transcript.
type RetrieveTranscriptStep struct {
	repo Repository
}

func (s *RetrieveTranscriptStep) Name() string { return "retrieve_transcript" }

func (s *RetrieveTranscriptStep) Execute(ctx context.Context, state *State) error {
	chunks, err := s.repo.ListChunks(ctx, state.Combo, nil)
	if err != nil {
		return apperr.System("callsummary.retrieve", err)
	}
	if len(chunks) == 0 {
		return apperr.Userf("callsummary.retrieve", "no transcript for %s", state.Combo.Label())
	}

	var md, qa []domain.TranscriptChunk
	for _, c := range chunks {
		if c.Section == domain.SectionQA {
			qa = append(qa, c)
		} else {
			md = append(md, c)
		}
	}
	state.Sections = map[string]string{
		categories.SectionMD:  transcripts.Format(md),
		categories.SectionQA:  transcripts.Format(qa),
		categories.SectionAll: transcripts.Format(chunks),
	}
	return nil
}

// ResearchPlanStep asks for an extraction plan per category. A failed plan is
// logged and every category is extracted with the default strategy.
type ResearchPlanStep struct {
	prompts *prompts.Loader
	opts    etl.Options
}

func (s *ResearchPlanStep) Name() string { return "research_plan" }

func (s *ResearchPlanStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	system, err := s.prompts.System(ctx, prompts.LayerETL, "call_summary_plan", bankVars(state.Combo, map[string]string{
		"categories": state.Categories.Format(),
	}))
	if err != nil {
		return apperr.System("callsummary.plan", err)
	}

	check := func(p *researchPlan) error {
		for _, cp := range p.CategoryPlans {
			if _, ok := state.Categories.ByIndex(cp.Index); !ok {
				return fmt.Errorf("category index %d does not exist", cp.Index)
			}
		}
		return nil
	}
	res, err := llm.CallTool(ctx, state.Client, s.opts.Request(llm.System(system), llm.User(state.Sections[categories.SectionAll])), planTool, s.opts.Attempts(), check)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Msg("Research plan failed, extracting every category")
		return nil
	}
	state.Run.Record(ctx, "research_plan", s.opts.Model, planTool.Name, res.Arguments, res.Attempts, res.Usage)

	state.Plans = map[int]CategoryPlan{}
	for _, cp := range res.Value.CategoryPlans {
		state.Plans[cp.Index] = cp
	}
	log.Info().Int("planned", len(state.Plans)).Int("categories", len(state.Categories.Categories)).Msg("Research plan ready")
	return nil
}

// ExtractCategoriesStep extracts every category in parallel. A category that
// keeps failing becomes a rejected result.
type ExtractCategoriesStep struct {
	prompts *prompts.Loader
	opts    etl.Options
}

func (s *ExtractCategoriesStep) Name() string { return "extract_categories" }

func (s *ExtractCategoriesStep) Execute(ctx context.Context, state *State) error {
	cats := state.Categories.Categories
	results := make([]domain.CategoryResult, len(cats))
	err := etl.ForEach(ctx, len(cats), s.opts.Concurrency, func(ctx context.Context, i int) error {
		results[i] = s.extract(ctx, state, cats[i])
		return ctx.Err()
	})
	if err != nil {
		return err
	}
	state.Results = results

	accepted := 0
	for _, r := range results {
		if !r.Rejected {
			accepted++
		}
	}
	if accepted == 0 {
		return apperr.Model("callsummary.extract", 0, errors.New("every category was rejected"))
	}
	return nil
}

func (s *ExtractCategoriesStep) extract(ctx context.Context, state *State, cat categories.Category) domain.CategoryResult {
	log := logger.FromContext(ctx).With().Int("category_index", cat.Index).Logger()
	out := domain.CategoryResult{Index: cat.Index, Name: cat.Name, ReportSection: cat.ReportSection}

	plan, planned := state.Plans[cat.Index]
	if state.Plans != nil && !planned {
		out.Rejected = true
		out.RejectionReason = "No relevant content identified in the research plan"
		return out
	}
	strategy := plan.ExtractionStrategy
	if strategy == "" {
		strategy = "Use every passage relevant to the category."
	}
	notes := plan.CrossCategoryNotes
	if notes == "" {
		notes = "None."
	}

	system, err := s.prompts.System(ctx, prompts.LayerETL, "call_summary_extract", bankVars(state.Combo, map[string]string{
		"category_index":       strconv.Itoa(cat.Index),
		"category_name":        cat.Name,
		"category_description": cat.Description,
		"extraction_strategy":  strategy,
		"cross_category_notes": notes,
	}))
	if err != nil {
		log.Error().Err(err).Msg("Extraction prompt unavailable")
		out.Rejected = true
		out.RejectionReason = "Extraction failed"
		return out
	}

	content := state.Sections[cat.Section]
	if strings.TrimSpace(content) == "" {
		out.Rejected = true
		out.RejectionReason = "No transcript content for this section"
		return out
	}

	res, err := llm.CallTool(ctx, state.Client, s.opts.Request(llm.System(system), llm.User(content)), extractTool, s.opts.Attempts(), checkExtract)
	if err != nil {
		log.Warn().Err(err).Msg("Category extraction failed, rejecting category")
		out.Rejected = true
		out.RejectionReason = "Extraction failed"
		return out
	}
	state.Run.Record(ctx, "extract_category_"+strconv.Itoa(cat.Index), s.opts.Model, extractTool.Name, res.Arguments, res.Attempts, res.Usage)

	v := res.Value
	if v.Rejected {
		out.Rejected = true
		out.RejectionReason = strings.TrimSpace(v.RejectionReason)
		return out
	}
	out.Title = strings.TrimSpace(v.Title)
	for _, st := range v.Statements {
		stmt := domain.Statement{Text: strings.TrimSpace(st.Statement), Relevance: st.RelevanceScore}
		for _, e := range st.Evidence {
			stmt.Evidence = append(stmt.Evidence, domain.Evidence{Type: e.Type, Content: strings.TrimSpace(e.Content), Speaker: e.Speaker})
		}
		out.Statements = append(out.Statements, stmt)
	}
	return out
}

func checkExtract(v *extractArgs) error {
	if v.Rejected {
		if strings.TrimSpace(v.RejectionReason) == "" {
			return fmt.Errorf("rejection_reason is required when rejected is true")
		}
		return nil
	}
	if strings.TrimSpace(v.Title) == "" {
		return fmt.Errorf("title is required when rejected is false")
	}
	if len(v.Statements) == 0 {
		return fmt.Errorf("at least one statement is required when rejected is false")
	}
	for i, s := range v.Statements {
		if strings.TrimSpace(s.Statement) == "" {
			return fmt.Errorf("statement %d is empty", i)
		}
	}
	return nil
}

// DeduplicateStep removes statements and evidence repeated across
// categories. A failed analysis leaves the results untouched.
type DeduplicateStep struct {
	prompts *prompts.Loader
	opts    etl.Options
}

func (s *DeduplicateStep) Name() string { return "deduplicate" }

func (s *DeduplicateStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	system, err := s.prompts.System(ctx, prompts.LayerETL, "call_summary_dedup", map[string]string{
		"categories": FormatForDedup(state.Results),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Dedup prompt unavailable, skipping deduplication")
		return nil
	}

	res, err := llm.CallTool[Dedup](ctx, state.Client, s.opts.Request(llm.System(system), llm.User("Identify the duplicates.")), dedupTool, s.opts.Attempts(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Msg("Deduplication failed, keeping every statement")
		return nil
	}
	state.Run.Record(ctx, "deduplication", s.opts.Model, dedupTool.Name, res.Arguments, res.Attempts, res.Usage)

	state.Dedup = ApplyDedup(state.Results, res.Value)
	log.Info().
		Int("statements_removed", state.Dedup.StatementsRemoved).
		Int("evidence_removed", state.Dedup.EvidenceRemoved).
		Int("ignored", state.Dedup.Ignored).
		Ints("emptied", state.Dedup.Emptied).
		Msg("Deduplication applied")
	return nil
}

// AssembleStep renders the report.
type AssembleStep struct{}

func (s *AssembleStep) Name() string { return "assemble" }

func (s *AssembleStep) Execute(ctx context.Context, state *State) error {
	payload, err := json.Marshal(map[string]any{
		"bank":       state.Combo,
		"categories": state.Results,
		"dedup":      state.Dedup,
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
		Title:      Title(state.Combo),
		Markdown:   Markdown(state.Combo, state.Results),
		Payload:    payload,
	}
	return nil
}

// Title is the report title.
func Title(c domain.BankPeriodCombination) string {
	return fmt.Sprintf("%s %d %s Earnings Call Summary", c.BankName, c.FiscalYear, c.Quarter)
}

// Markdown renders accepted categories grouped by report section, sections in
// order of their first category.
func Markdown(c domain.BankPeriodCombination, results []domain.CategoryResult) string {
	var sections []string
	bySection := map[string][]domain.CategoryResult{}
	for _, r := range results {
		if r.Rejected {
			continue
		}
		if _, ok := bySection[r.ReportSection]; !ok {
			sections = append(sections, r.ReportSection)
		}
		bySection[r.ReportSection] = append(bySection[r.ReportSection], r)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", Title(c))
	for _, sec := range sections {
		fmt.Fprintf(&sb, "\n## %s\n", sec)
		for _, r := range bySection[sec] {
			title := r.Title
			if title == "" {
				title = r.Name
			}
			fmt.Fprintf(&sb, "\n### %s\n\n", title)
			for _, st := range r.Statements {
				fmt.Fprintf(&sb, "- %s\n", st.Text)
				for _, e := range st.Evidence {
					if e.Type == "quote" {
						fmt.Fprintf(&sb, "  > \"%s\" (%s)\n", e.Content, e.Speaker)
					} else {
						fmt.Fprintf(&sb, "  > %s (%s)\n", e.Content, e.Speaker)
					}
				}
			}
		}
	}
	return sb.String()
}

func bankVars(c domain.BankPeriodCombination, extra map[string]string) map[string]string {
	vars := map[string]string{
		"bank_name":   c.BankName,
		"bank_symbol": c.BankSymbol,
		"fiscal_year": strconv.Itoa(c.FiscalYear),
		"quarter":     c.Quarter,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
