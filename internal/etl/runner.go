package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/bigquery"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/storage"
)

// Ledger records runs and raw model outputs.
type Ledger interface {
	StartRun(ctx context.Context, etlType string, bankIDs []int, fiscalYear int, quarter string) (string, error)
	MarkRunFailed(ctx context.Context, runID string, runErr error)
	MarkRunSucceeded(ctx context.Context, runID, reportID string, usage bigquery.RunUsage) error
	InsertLLMOutput(ctx context.Context, row *bigquery.LLMOutputRow) error
}

// ReportStore persists generated reports.
type ReportStore interface {
	DeleteReports(ctx context.Context, combo domain.BankPeriodCombination, reportType string) (int64, error)
	InsertReport(ctx context.Context, report *domain.Report) error
}

// Runner wraps a pipeline execution with the run ledger and report publishing.
type Runner struct {
	Ledger  Ledger
	Reports ReportStore
	Storage storage.Service
	Bucket  string
}

// Run is the context of one pipeline execution.
type Run struct {
	ID    string
	Type  string
	usage llm.Tracker

	ledger Ledger
}

// Usage returns the tokens and cost consumed so far.
func (r *Run) Usage() llm.Usage { return r.usage.Total() }

// Record adds usage and writes the raw tool arguments to the audit table.
// Audit failures are logged and never fail the run.
func (r *Run) Record(ctx context.Context, stage, model, tool, arguments string, attempts int, usage llm.Usage) {
	r.usage.Add(usage)
	if r.ledger == nil {
		return
	}
	row := &bigquery.LLMOutputRow{
		OutputID:     uuid.NewString(),
		RunID:        r.ID,
		Stage:        stage,
		ModelName:    model,
		ToolName:     tool,
		Attempts:     int64(attempts),
		TokensInput:  usage.PromptTokens,
		TokensOutput: usage.CompletionTokens,
	}
	if arguments != "" {
		row.RawJSON.JSONVal = arguments
		row.RawJSON.Valid = json.Valid([]byte(arguments))
	}
	if err := r.ledger.InsertLLMOutput(ctx, row); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", r.ID).Str("stage", stage).Msg("Could not record LLM output")
	}
}

// Execute starts a ledger run, calls fn and publishes the report it returns.
// The run is marked failed when fn or publishing fails.
func (rn *Runner) Execute(ctx context.Context, etlType string, bankIDs []int, fiscalYear int, quarter string, fn func(ctx context.Context, run *Run) (*domain.Report, error)) (*domain.Report, error) {
	run := &Run{Type: etlType, ledger: rn.Ledger}
	if rn.Ledger != nil {
		id, err := rn.Ledger.StartRun(ctx, etlType, bankIDs, fiscalYear, quarter)
		if err != nil {
			return nil, fmt.Errorf("Runner.Execute: start run: %w", err)
		}
		run.ID = id
	} else {
		run.ID = uuid.NewString()
	}

	log := logger.FromContext(ctx).With().
		Str("run_id", run.ID).
		Str("etl", etlType).
		Ints("bank_ids", bankIDs).
		Int("fiscal_year", fiscalYear).
		Str("quarter", quarter).
		Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Msg("ETL run started")

	fail := func(err error) (*domain.Report, error) {
		if rn.Ledger != nil {
			rn.Ledger.MarkRunFailed(ctx, run.ID, err)
		}
		metrics.ETLRuns.WithLabelValues(etlType, "failed").Inc()
		log.Error().Err(err).Msg("ETL run failed")
		return nil, err
	}

	report, err := fn(ctx, run)
	if err != nil {
		return fail(err)
	}
	if report == nil {
		return fail(errors.New("pipeline produced no report"))
	}
	if err := rn.publish(ctx, report); err != nil {
		return fail(err)
	}

	if rn.Ledger != nil {
		u := run.Usage()
		if err := rn.Ledger.MarkRunSucceeded(ctx, run.ID, report.ID, bigquery.RunUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			Cost:             u.Cost,
		}); err != nil {
			return nil, fmt.Errorf("Runner.Execute: mark succeeded: %w", err)
		}
	}
	metrics.ETLRuns.WithLabelValues(etlType, "success").Inc()
	log.Info().Str("report_id", report.ID).Float64("cost", run.Usage().Cost).Msg("ETL run succeeded")
	return report, nil
}

// publish uploads the artifacts and replaces any previous report of the same
// type for the bank-period.
func (rn *Runner) publish(ctx context.Context, report *domain.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if rn.Storage != nil && rn.Bucket != "" {
		symbol := report.BankSymbol
		md := storage.ReportObject(report.ReportType, symbol, report.FiscalYear, report.Quarter, "md")
		uri, err := rn.Storage.UploadBytes(ctx, rn.Bucket, md, "text/markdown; charset=utf-8", []byte(report.Markdown))
		if err != nil {
			return fmt.Errorf("publish: upload markdown: %w", err)
		}
		report.ArtifactURI = uri
		if len(report.Payload) > 0 {
			js := storage.ReportObject(report.ReportType, symbol, report.FiscalYear, report.Quarter, "json")
			if _, err := rn.Storage.UploadBytes(ctx, rn.Bucket, js, "application/json", report.Payload); err != nil {
				return fmt.Errorf("publish: upload payload: %w", err)
			}
		}
	}

	if rn.Reports == nil {
		return nil
	}
	combo := domain.BankPeriodCombination{BankID: report.BankID, FiscalYear: report.FiscalYear, Quarter: report.Quarter}
	n, err := rn.Reports.DeleteReports(ctx, combo, report.ReportType)
	if err != nil {
		return fmt.Errorf("publish: delete previous: %w", err)
	}
	if err := rn.Reports.InsertReport(ctx, report); err != nil {
		return fmt.Errorf("publish: insert: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Int64("replaced", n).Str("artifact_uri", report.ArtifactURI).Msg("Report stored")
	return nil
}

// ForEach calls fn for every index in [0, n) with at most limit calls in
// flight. The first error cancels the rest and is returned.
func ForEach(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(gctx, i) })
	}
	return g.Wait()
}
