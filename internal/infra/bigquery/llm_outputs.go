package bigquery

import "cloud.google.com/go/bigquery"

// LLMOutputRow audits one validated tool call made by an ETL stage.
type LLMOutputRow struct {
	OutputID string `bigquery:"output_id"` // REQUIRED
	RunID    string `bigquery:"run_id"`    // REQUIRED
	Stage    string `bigquery:"stage"`     // REQUIRED

	ModelName string `bigquery:"model_name"`
	ToolName  string `bigquery:"tool_name"`

	RawJSON  bigquery.NullJSON `bigquery:"raw_json"`
	Attempts int64             `bigquery:"attempts"`

	TokensInput  int64 `bigquery:"tokens_input"`
	TokensOutput int64 `bigquery:"tokens_output"`

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"`
}
