package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
)

// InsertLLMOutputWithClient inserts row into llm_outputs, filling output_id and
// created_ts when unset. Uses DML INSERT to avoid streaming buffer issues.
func InsertLLMOutputWithClient(ctx context.Context, c *Client, row *LLMOutputRow) error {
	if row.OutputID == "" {
		row.OutputID = uuid.NewString()
	}
	if !row.CreatedTS.Valid {
		row.CreatedTS = bigquery.NullTimestamp{Timestamp: time.Now(), Valid: true}
	}

	raw := row.RawJSON.JSONVal
	if !row.RawJSON.Valid || raw == "" {
		raw = "{}"
	}

	q := c.bq.Query(fmt.Sprintf(`
		INSERT INTO %s (
			output_id, run_id, stage, model_name, tool_name,
			raw_json, attempts, tokens_input, tokens_output, created_ts
		)
		VALUES (
			@output_id, @run_id, @stage, @model_name, @tool_name,
			PARSE_JSON(@raw_json), @attempts, @tokens_input, @tokens_output, @created_ts
		)
	`, c.table(llmOutputsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "stage", Value: row.Stage},
		{Name: "model_name", Value: row.ModelName},
		{Name: "tool_name", Value: row.ToolName},
		{Name: "raw_json", Value: raw},
		{Name: "attempts", Value: row.Attempts},
		{Name: "tokens_input", Value: row.TokensInput},
		{Name: "tokens_output", Value: row.TokensOutput},
		{Name: "created_ts", Value: row.CreatedTS.Timestamp},
	}

	return runDML(ctx, "InsertLLMOutput", q)
}
