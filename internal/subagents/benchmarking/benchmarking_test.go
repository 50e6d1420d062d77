package benchmarking

import (
	"context"
	"strings"
	"testing"

	cloudbq "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/bigquery"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/prompts"
	"github.com/dvloznov/aegis/internal/subagents"
)

type repoFunc struct {
	names []bigquery.MetricName
	rows  []bigquery.MetricRow
	got   []string
}

func (r *repoFunc) ListMetricNames(ctx context.Context, combos []domain.BankPeriodCombination) ([]bigquery.MetricName, error) {
	return r.names, nil
}

func (r *repoFunc) QueryMetrics(ctx context.Context, combos []domain.BankPeriodCombination, metricNames []string) ([]bigquery.MetricRow, error) {
	r.got = metricNames
	return r.rows, nil
}

func row(bank string, year int64, q, metric string, v float64, unit string) bigquery.MetricRow {
	return bigquery.MetricRow{
		BankSymbol:  bank,
		FiscalYear:  year,
		Quarter:     q,
		MetricName:  metric,
		MetricValue: cloudbq.NullFloat64{Float64: v, Valid: true},
		Unit:        cloudbq.NullString{StringVal: unit, Valid: unit != ""},
	}
}

func TestTables(t *testing.T) {
	rows := []bigquery.MetricRow{
		row("TD.TO", 2024, "Q2", "CET1 Ratio", 13.1, "%"),
		row("RY.TO", 2024, "Q3", "CET1 Ratio", 13.2, "%"),
		row("TD.TO", 2024, "Q3", "CET1 Ratio", 13.0, "%"),
		row("RY.TO", 2024, "Q3", "Net Income", 4510, "CAD mm"),
		{BankSymbol: "TD.TO", FiscalYear: 2024, Quarter: "Q3", MetricName: "Net Income"},
	}
	want := "#### 2024 Q3\n\n" +
		"| Metric | RY.TO | TD.TO |\n" +
		"|---|---|---|\n" +
		"| Net Income (CAD mm) | 4510.00 | n/a |\n" +
		"| CET1 Ratio (%) | 13.20 | 13.00 |\n" +
		"\n" +
		"#### 2024 Q2\n\n" +
		"| Metric | TD.TO |\n" +
		"|---|---|\n" +
		"| CET1 Ratio (%) | 13.10 |\n" +
		"\n"
	assert.Equal(t, want, Tables(rows, []string{"Net Income", "CET1 Ratio"}))
}

func TestRun(t *testing.T) {
	store, err := prompts.NewEmbeddedStore()
	require.NoError(t, err)
	repo := &repoFunc{
		names: []bigquery.MetricName{{Name: "CET1 Ratio"}, {Name: "Net Income"}},
		rows:  []bigquery.MetricRow{row("RY.TO", 2024, "Q3", "CET1 Ratio", 13.2, "%")},
	}

	replies := []*llm.Response{
		llm.ToolResponse("select_metrics", `{"metric_names":["Tier 1 Leverage"]}`),
		llm.ToolResponse("select_metrics", `{"metric_names":["CET1 Ratio","CET1 Ratio"]}`),
	}
	calls := 0
	client := &llm.ClientFunc{
		CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			calls++
			return replies[calls-1], nil
		},
		StreamFunc: func(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error) {
			onDelta("RBC's CET1 was 13.2%.")
			return &llm.Response{Content: "RBC's CET1 was 13.2%."}, nil
		},
	}

	var out strings.Builder
	err = New(repo, prompts.NewLoader(store), subagents.Models{Select: "m", Synthesis: "l"}).Run(context.Background(), subagents.Input{
		LatestMessage: "RBC CET1",
		Combos:        []domain.BankPeriodCombination{{BankID: 1, FiscalYear: 2024, Quarter: "Q3"}},
		Client:        client,
	}, func(s string) { out.WriteString(s) })
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"CET1 Ratio"}, repo.got)
	assert.Contains(t, out.String(), "| CET1 Ratio (%) | 13.20 |")
	assert.Contains(t, out.String(), "RBC's CET1 was 13.2%.")
}

func TestRunEmptyCatalogue(t *testing.T) {
	store, err := prompts.NewEmbeddedStore()
	require.NoError(t, err)
	client := &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		t.Fatal("no selection expected")
		return nil, nil
	}}
	var out strings.Builder
	err = New(&repoFunc{}, prompts.NewLoader(store), subagents.Models{}).Run(context.Background(), subagents.Input{Client: client}, func(s string) { out.WriteString(s) })
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No benchmarking metrics")
}
