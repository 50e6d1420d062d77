package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// Run statuses in aegis.etl_runs.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// ETLRunRow is one pipeline execution in aegis.etl_runs.
type ETLRunRow struct {
	RunID      string  `bigquery:"run_id"`   // REQUIRED
	ETLType    string  `bigquery:"etl_type"` // REQUIRED
	BankIDs    []int64 `bigquery:"bank_ids"`
	FiscalYear int64   `bigquery:"fiscal_year"`
	Quarter    string  `bigquery:"quarter"`

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"`
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	TokensInput  bigquery.NullInt64   `bigquery:"tokens_input"`
	TokensOutput bigquery.NullInt64   `bigquery:"tokens_output"`
	CostUSD      bigquery.NullFloat64 `bigquery:"cost_usd"`

	ReportID bigquery.NullString `bigquery:"report_id"`
}

// RunUsage is the token and cost total recorded when a run succeeds.
type RunUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
}
