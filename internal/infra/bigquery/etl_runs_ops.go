package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/aegis/internal/logger"
)

const maxErrorLen = 2000

// StartRunWithClient inserts a RUNNING row into etl_runs and returns its run_id.
func StartRunWithClient(ctx context.Context, c *Client, etlType string, bankIDs []int, fiscalYear int, quarter string) (string, error) {
	runID := uuid.NewString()

	ids := make([]int64, len(bankIDs))
	for i, id := range bankIDs {
		ids[i] = int64(id)
	}

	q := c.bq.Query(fmt.Sprintf(`
		INSERT %s (
			run_id, etl_type, bank_ids, fiscal_year, quarter, started_ts, status
		)
		VALUES (
			@run_id, @etl_type, @bank_ids, @fiscal_year, @quarter, @started_ts, @status
		)
	`, c.table(etlRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "etl_type", Value: etlType},
		{Name: "bank_ids", Value: ids},
		{Name: "fiscal_year", Value: int64(fiscalYear)},
		{Name: "quarter", Value: quarter},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: RunStatusRunning},
	}

	if err := runDML(ctx, "StartRun", q); err != nil {
		return "", err
	}
	return runID, nil
}

// MarkRunFailedWithClient sets status=FAILED with the truncated error. Failures
// to update are logged, not returned, so the original error stays the one
// reported.
func MarkRunFailedWithClient(ctx context.Context, c *Client, runID string, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		if len(errMsg) > maxErrorLen {
			errMsg = errMsg[:maxErrorLen]
		}
	}

	q := c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, c.table(etlRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "run_id", Value: runID},
	}

	if err := runDML(ctx, "MarkRunFailed", q); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("MarkRunFailed: could not update run")
	}
}

// MarkRunSucceededWithClient sets status=SUCCESS and records usage and the report id.
func MarkRunSucceededWithClient(ctx context.Context, c *Client, runID, reportID string, usage RunUsage) error {
	q := c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    tokens_input = @tokens_input,
		    tokens_output = @tokens_output,
		    cost_usd = @cost_usd,
		    report_id = @report_id
		WHERE run_id = @run_id
	`, c.table(etlRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "tokens_input", Value: usage.PromptTokens},
		{Name: "tokens_output", Value: usage.CompletionTokens},
		{Name: "cost_usd", Value: usage.Cost},
		{Name: "report_id", Value: reportID},
		{Name: "run_id", Value: runID},
	}
	return runDML(ctx, "MarkRunSucceeded", q)
}
