// Package bigquery holds the BigQuery repositories: benchmarking metrics,
// regulatory sections, the ETL run ledger and the LLM output audit table.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/aegis/internal/domain"
)

// Table names inside the dataset.
const (
	benchmarkingTable = "benchmarking"
	etlRunsTable      = "etl_runs"
	llmOutputsTable   = "llm_outputs"

	TableRTS     = "rts_sections"
	TablePillar3 = "pillar3_sections"
)

// Client is a BigQuery client bound to the Aegis dataset.
type Client struct {
	bq      *bigquery.Client
	dataset string
}

// NewClient opens a client for project and dataset.
func NewClient(ctx context.Context, project, dataset string) (*Client, error) {
	bq, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating bigquery client: %w", err)
	}
	return &Client{bq: bq, dataset: dataset}, nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if c.bq != nil {
		return c.bq.Close()
	}
	return nil
}

// BigQuery returns the underlying client.
func (c *Client) BigQuery() *bigquery.Client { return c.bq }

// Dataset returns the dataset name.
func (c *Client) Dataset() string { return c.dataset }

func (c *Client) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.bq.Project(), c.dataset, name)
}

// runDML runs a DML statement and waits for it.
func runDML(ctx context.Context, op string, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}

// comboFilter renders an OR of (bank_id, fiscal_year, quarter) matches with
// named parameters c0_bank, c0_year, c0_quarter, ...
func comboFilter(combos []domain.BankPeriodCombination) (string, []bigquery.QueryParameter) {
	if len(combos) == 0 {
		return "FALSE", nil
	}
	conds := make([]string, 0, len(combos))
	params := make([]bigquery.QueryParameter, 0, len(combos)*3)
	for i, c := range combos {
		conds = append(conds, fmt.Sprintf(
			"(bank_id = @c%[1]d_bank AND fiscal_year = @c%[1]d_year AND quarter = @c%[1]d_quarter)", i))
		params = append(params,
			bigquery.QueryParameter{Name: fmt.Sprintf("c%d_bank", i), Value: int64(c.BankID)},
			bigquery.QueryParameter{Name: fmt.Sprintf("c%d_year", i), Value: int64(c.FiscalYear)},
			bigquery.QueryParameter{Name: fmt.Sprintf("c%d_quarter", i), Value: c.Quarter},
		)
	}
	return "(" + strings.Join(conds, " OR ") + ")", params
}
