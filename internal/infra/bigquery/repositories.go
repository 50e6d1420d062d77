package bigquery

import (
	"context"

	"github.com/dvloznov/aegis/internal/domain"
)

// BenchmarkingRepository reads aegis.benchmarking with a shared client.
type BenchmarkingRepository struct {
	client *Client
}

// NewBenchmarkingRepository creates a repository over client.
func NewBenchmarkingRepository(client *Client) *BenchmarkingRepository {
	return &BenchmarkingRepository{client: client}
}

// ListMetricNames delegates to ListMetricNamesWithClient.
func (r *BenchmarkingRepository) ListMetricNames(ctx context.Context, combos []domain.BankPeriodCombination) ([]MetricName, error) {
	return ListMetricNamesWithClient(ctx, r.client, combos)
}

// QueryMetrics delegates to QueryMetricsWithClient.
func (r *BenchmarkingRepository) QueryMetrics(ctx context.Context, combos []domain.BankPeriodCombination, metricNames []string) ([]MetricRow, error) {
	return QueryMetricsWithClient(ctx, r.client, combos, metricNames)
}

// SectionRepository reads one sectioned filing table (rts_sections or
// pillar3_sections).
type SectionRepository struct {
	client *Client
	table  string
}

// NewSectionRepository creates a repository over table.
func NewSectionRepository(client *Client, table string) *SectionRepository {
	return &SectionRepository{client: client, table: table}
}

// ListSections delegates to ListSectionsWithClient.
func (r *SectionRepository) ListSections(ctx context.Context, combos []domain.BankPeriodCombination) ([]SectionRow, error) {
	return ListSectionsWithClient(ctx, r.client, r.table, combos)
}

// GetSections delegates to GetSectionsWithClient.
func (r *SectionRepository) GetSections(ctx context.Context, ids []string) ([]SectionRow, error) {
	return GetSectionsWithClient(ctx, r.client, r.table, ids)
}

// RunLedger records ETL runs and their LLM outputs.
type RunLedger struct {
	client *Client
}

// NewRunLedger creates a ledger over client.
func NewRunLedger(client *Client) *RunLedger {
	return &RunLedger{client: client}
}

// StartRun delegates to StartRunWithClient.
func (l *RunLedger) StartRun(ctx context.Context, etlType string, bankIDs []int, fiscalYear int, quarter string) (string, error) {
	return StartRunWithClient(ctx, l.client, etlType, bankIDs, fiscalYear, quarter)
}

// MarkRunFailed delegates to MarkRunFailedWithClient.
func (l *RunLedger) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	MarkRunFailedWithClient(ctx, l.client, runID, runErr)
}

// MarkRunSucceeded delegates to MarkRunSucceededWithClient.
func (l *RunLedger) MarkRunSucceeded(ctx context.Context, runID, reportID string, usage RunUsage) error {
	return MarkRunSucceededWithClient(ctx, l.client, runID, reportID, usage)
}

// InsertLLMOutput delegates to InsertLLMOutputWithClient.
func (l *RunLedger) InsertLLMOutput(ctx context.Context, row *LLMOutputRow) error {
	return InsertLLMOutputWithClient(ctx, l.client, row)
}
