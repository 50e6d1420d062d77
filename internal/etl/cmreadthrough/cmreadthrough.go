// Package cmreadthrough builds the cross-bank capital markets readthrough for
// one period from each bank's outlook commentary and analyst questions.
package cmreadthrough

import (
	"context"
	"encoding/json"
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
const Name = domain.ReportTypeCMReadthrough

// BankType selects the capital markets category set.
const BankType = "Capital_Markets"

// MinRelevance is the lowest outlook relevance score kept.
const MinRelevance = 4

// AllBanksID is the bank id the readthrough is stored under.
const AllBanksID = 0

// Repository is the transcript store.
type Repository interface {
	ListChunks(ctx context.Context, combo domain.BankPeriodCombination, sections []string) ([]domain.TranscriptChunk, error)
}

// OutlookStatement is one forward-looking remark.
type OutlookStatement struct {
	Category       string `json:"category"`
	Statement      string `json:"statement"`
	RelevanceScore int    `json:"relevance_score" jsonschema:"minimum=1,maximum=10"`
	IsNewCategory  bool   `json:"is_new_category"`
}

// Question is one analyst question.
type Question struct {
	Category         string `json:"category"`
	VerbatimQuestion string `json:"verbatim_question"`
	AnalystName      string `json:"analyst_name"`
	AnalystFirm      string `json:"analyst_firm"`
}

type outlookArgs struct {
	HasContent bool               `json:"has_content"`
	Statements []OutlookStatement `json:"statements,omitempty"`
}

type questionArgs struct {
	HasContent bool       `json:"has_content"`
	Questions  []Question `json:"questions,omitempty"`
}

var (
	outlookTool   = llm.NewTool[outlookArgs]("extract_outlook", "Report the capital markets outlook statements.")
	questionsTool = llm.NewTool[questionArgs]("extract_questions", "Report the analyst questions about capital markets.")
)

// BankResult is the extraction for one bank.
type BankResult struct {
	Combo     domain.BankPeriodCombination `json:"bank"`
	Outlook   []OutlookStatement           `json:"outlook,omitempty"`
	Questions []Question                   `json:"questions,omitempty"`
}

// HasContent reports whether anything was kept for the bank.
func (b BankResult) HasContent() bool { return len(b.Outlook) > 0 || len(b.Questions) > 0 }

// State is shared across the steps.
type State struct {
	Combos     []domain.BankPeriodCombination
	Client     llm.Client
	Run        *etl.Run
	Categories *categories.Set
	Results    []BankResult
	Report     *domain.Report
}

// Pipeline is the cm_readthrough generator.
type Pipeline struct {
	runner   *etl.Runner
	banks    etl.Banks
	pipeline *etl.Pipeline[State]
}

// New creates the cm_readthrough generator.
func New(runner *etl.Runner, banks etl.Banks, repo Repository, loader *prompts.Loader, opts etl.Options) *Pipeline {
	return &Pipeline{
		runner: runner,
		banks:  banks,
		pipeline: etl.NewPipeline[State](Name,
			&extractStep{repo: repo, prompts: loader, opts: opts},
			&assembleStep{},
		),
	}
}

// Generate implements etl.Generator. An empty bank list covers every bank.
func (p *Pipeline) Generate(ctx context.Context, client llm.Client, job *jobs.ETLJob) (*domain.Report, error) {
	ids := job.BankIDs
	if len(ids) == 0 {
		all, err := p.banks.ListBanks(ctx)
		if err != nil {
			return nil, apperr.System("cmreadthrough.Generate", err)
		}
		for _, b := range all {
			ids = append(ids, b.ID)
		}
	}
	combos, err := etl.ResolveCombos(ctx, p.banks, ids, job.FiscalYear, job.Quarter)
	if err != nil {
		return nil, err
	}
	if len(combos) == 0 {
		return nil, apperr.Userf("cmreadthrough.Generate", "no banks to read through")
	}
	set, err := categories.ForBankType(BankType)
	if err != nil {
		return nil, err
	}

	return p.runner.Execute(ctx, Name, ids, job.FiscalYear, job.Quarter, func(ctx context.Context, run *etl.Run) (*domain.Report, error) {
		state := &State{Combos: combos, Client: client, Run: run, Categories: set}
		if err := p.pipeline.Execute(ctx, state); err != nil {
			return nil, err
		}
		return state.Report, nil
	})
}

type extractStep struct {
	repo    Repository
	prompts *prompts.Loader
	opts    etl.Options
}

func (s *extractStep) Name() string { return "extract_banks" }

func (s *extractStep) Execute(ctx context.Context, state *State) error {
	results := make([]BankResult, len(state.Combos))
	err := etl.ForEach(ctx, len(state.Combos), s.opts.Concurrency, func(ctx context.Context, i int) error {
		r, err := s.extractBank(ctx, state, state.Combos[i])
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.HasContent() {
			state.Results = append(state.Results, r)
		}
	}
	if len(state.Results) == 0 {
		return apperr.Userf("cmreadthrough.extract", "no capital markets content for any of %d banks", len(state.Combos))
	}
	return nil
}

// extractBank runs both extractions for one bank. A missing transcript or a
// failed extraction leaves that part empty.
func (s *extractStep) extractBank(ctx context.Context, state *State, combo domain.BankPeriodCombination) (BankResult, error) {
	log := logger.FromContext(ctx).With().Int("bank_id", combo.BankID).Logger()
	out := BankResult{Combo: combo}

	chunks, err := s.repo.ListChunks(ctx, combo, nil)
	if err != nil {
		return out, apperr.System("cmreadthrough.extract", err)
	}
	if len(chunks) == 0 {
		log.Info().Msg("No transcript, skipping bank")
		return out, nil
	}
	var qa []domain.TranscriptChunk
	for _, c := range chunks {
		if c.Section == domain.SectionQA {
			qa = append(qa, c)
		}
	}

	vars := map[string]string{
		"bank_name":   combo.BankName,
		"fiscal_year": strconv.Itoa(combo.FiscalYear),
		"quarter":     combo.Quarter,
		"categories":  state.Categories.Format(),
	}
	label := strconv.Itoa(combo.BankID)

	if system, err := s.prompts.System(ctx, prompts.LayerETL, "cm_outlook", vars); err != nil {
		log.Warn().Err(err).Msg("Outlook prompt unavailable")
	} else {
		res, err := llm.CallTool(ctx, state.Client, s.opts.Request(llm.System(system), llm.User(transcripts.Format(chunks))), outlookTool, s.opts.Attempts(), checkOutlook)
		switch {
		case err != nil && ctx.Err() != nil:
			return out, err
		case err != nil:
			log.Warn().Err(err).Msg("Outlook extraction failed")
		default:
			state.Run.Record(ctx, "extract_outlook_"+label, s.opts.Model, outlookTool.Name, res.Arguments, res.Attempts, res.Usage)
			if res.Value.HasContent {
				out.Outlook = FilterRelevant(res.Value.Statements, MinRelevance)
			}
		}
	}

	if len(qa) == 0 {
		return out, nil
	}
	if system, err := s.prompts.System(ctx, prompts.LayerETL, "cm_questions", vars); err != nil {
		log.Warn().Err(err).Msg("Questions prompt unavailable")
	} else {
		res, err := llm.CallTool(ctx, state.Client, s.opts.Request(llm.System(system), llm.User(transcripts.Format(qa))), questionsTool, s.opts.Attempts(), checkQuestions)
		switch {
		case err != nil && ctx.Err() != nil:
			return out, err
		case err != nil:
			log.Warn().Err(err).Msg("Question extraction failed")
		default:
			state.Run.Record(ctx, "extract_questions_"+label, s.opts.Model, questionsTool.Name, res.Arguments, res.Attempts, res.Usage)
			if res.Value.HasContent {
				out.Questions = res.Value.Questions
			}
		}
	}
	return out, nil
}

func checkOutlook(v *outlookArgs) error {
	if v.HasContent && len(v.Statements) == 0 {
		return fmt.Errorf("statements are required when has_content is true")
	}
	for i, s := range v.Statements {
		if strings.TrimSpace(s.Statement) == "" || strings.TrimSpace(s.Category) == "" {
			return fmt.Errorf("statement %d needs a category and text", i)
		}
	}
	return nil
}

func checkQuestions(v *questionArgs) error {
	if v.HasContent && len(v.Questions) == 0 {
		return fmt.Errorf("questions are required when has_content is true")
	}
	for i, q := range v.Questions {
		if strings.TrimSpace(q.VerbatimQuestion) == "" {
			return fmt.Errorf("question %d has no verbatim_question", i)
		}
	}
	return nil
}

// FilterRelevant keeps statements scoring at least threshold.
func FilterRelevant(statements []OutlookStatement, threshold int) []OutlookStatement {
	var out []OutlookStatement
	for _, s := range statements {
		if s.RelevanceScore >= threshold {
			out = append(out, s)
		}
	}
	return out
}

type assembleStep struct{}

func (s *assembleStep) Name() string { return "assemble" }

func (s *assembleStep) Execute(ctx context.Context, state *State) error {
	period := state.Combos[0].Period()
	payload, err := json.Marshal(map[string]any{
		"period": period,
		"banks":  state.Results,
	})
	if err != nil {
		return fmt.Errorf("assemble: marshal payload: %w", err)
	}
	title := fmt.Sprintf("Capital Markets Readthrough %s", period)
	state.Report = &domain.Report{
		ID:         uuid.NewString(),
		BankID:     AllBanksID,
		BankName:   "All Banks",
		BankSymbol: "ALL",
		FiscalYear: period.FiscalYear,
		Quarter:    period.Quarter,
		ReportType: Name,
		Title:      title,
		Markdown:   Markdown(title, state.Results),
		Payload:    payload,
	}
	return nil
}

// Markdown renders the outlook and the analyst questions per bank.
func Markdown(title string, results []BankResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", title)

	sb.WriteString("\n## Outlook\n")
	for _, r := range results {
		if len(r.Outlook) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n\n", bankName(r.Combo))
		for _, s := range r.Outlook {
			fmt.Fprintf(&sb, "- **%s:** %s\n", s.Category, s.Statement)
		}
	}

	sb.WriteString("\n## Analyst Questions\n")
	for _, r := range results {
		if len(r.Questions) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n\n", bankName(r.Combo))
		for _, q := range r.Questions {
			who := q.AnalystName
			if q.AnalystFirm != "" {
				who += ", " + q.AnalystFirm
			}
			fmt.Fprintf(&sb, "- **%s:** \"%s\" (%s)\n", q.Category, q.VerbatimQuestion, who)
		}
	}
	return sb.String()
}

func bankName(c domain.BankPeriodCombination) string {
	if c.BankSymbol == "" {
		return c.BankName
	}
	return fmt.Sprintf("%s (%s)", c.BankName, c.BankSymbol)
}
