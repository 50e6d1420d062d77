package etl

import (
	"context"
	"fmt"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
)

// Options configure the model calls of a pipeline.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	// Concurrency bounds the parallel per-item LLM calls.
	Concurrency int
	MaxAttempts int
}

// Attempts returns MaxAttempts, defaulting to 3.
func (o Options) Attempts() int {
	if o.MaxAttempts <= 0 {
		return 3
	}
	return o.MaxAttempts
}

// Request builds a model request with the configured settings.
func (o Options) Request(messages ...llm.Message) llm.Request {
	return llm.Request{
		Model:       o.Model,
		Messages:    messages,
		Temperature: llm.Float(o.Temperature),
		MaxTokens:   o.MaxTokens,
	}
}

// Generator produces the report for a job.
type Generator interface {
	Generate(ctx context.Context, client llm.Client, job *jobs.ETLJob) (*domain.Report, error)
}

// Banks looks up the bank catalogue.
type Banks interface {
	ListBanks(ctx context.Context) ([]domain.Bank, error)
}

// ResolveCombos builds the combinations of bankIDs for a period. Unknown ids
// are a UserError.
func ResolveCombos(ctx context.Context, banks Banks, bankIDs []int, fiscalYear int, quarter string) ([]domain.BankPeriodCombination, error) {
	all, err := banks.ListBanks(ctx)
	if err != nil {
		return nil, apperr.System("etl.ResolveCombos", err)
	}
	byID := make(map[int]domain.Bank, len(all))
	for _, b := range all {
		byID[b.ID] = b
	}

	combos := make([]domain.BankPeriodCombination, 0, len(bankIDs))
	for _, id := range bankIDs {
		b, ok := byID[id]
		if !ok {
			return nil, apperr.Userf("etl.ResolveCombos", "unknown bank_id %d", id)
		}
		combos = append(combos, domain.BankPeriodCombination{
			BankID:     b.ID,
			BankName:   b.Name,
			BankSymbol: b.Symbol,
			BankType:   b.Type,
			FiscalYear: fiscalYear,
			Quarter:    quarter,
		})
	}
	return combos, nil
}

// NewJobHandler returns a jobs.JobHandler that dispatches to the generator for
// the job type and records the report id on the job.
func NewJobHandler(client llm.Client, generators map[jobs.JobType]Generator) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.ETLJob) error {
		gen, ok := generators[job.Type]
		if !ok {
			return fmt.Errorf("no generator for job type %q", job.Type)
		}
		ctx = logger.WithFields(ctx, map[string]any{
			"job_id":      job.JobID,
			"job_type":    string(job.Type),
			"retry_count": job.RetryCount,
		})

		report, err := gen.Generate(ctx, client, job)
		if err != nil {
			return err
		}
		job.ReportID = report.ID
		return nil
	}
}
