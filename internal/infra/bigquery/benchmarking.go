package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/aegis/internal/domain"
)

// MetricRow is one row of aegis.benchmarking.
type MetricRow struct {
	BankID         int64                `bigquery:"bank_id"`
	BankSymbol     string               `bigquery:"bank_symbol"`
	FiscalYear     int64                `bigquery:"fiscal_year"`
	Quarter        string               `bigquery:"quarter"`
	MetricName     string               `bigquery:"metric_name"`
	MetricValue    bigquery.NullFloat64 `bigquery:"metric_value"`
	Unit           bigquery.NullString  `bigquery:"unit"`
	IsBankSpecific bool                 `bigquery:"is_bank_specific"`
}

// MetricName is a catalogue entry.
type MetricName struct {
	Name           string              `bigquery:"metric_name"`
	Unit           bigquery.NullString `bigquery:"unit"`
	IsBankSpecific bool                `bigquery:"is_bank_specific"`
}

// ListMetricNamesWithClient returns the distinct metrics recorded for combos.
func ListMetricNamesWithClient(ctx context.Context, c *Client, combos []domain.BankPeriodCombination) ([]MetricName, error) {
	filter, params := comboFilter(combos)
	q := c.bq.Query(fmt.Sprintf(`
		SELECT metric_name, ANY_VALUE(unit) AS unit, LOGICAL_OR(is_bank_specific) AS is_bank_specific
		FROM %s
		WHERE %s
		GROUP BY metric_name
		ORDER BY metric_name
	`, c.table(benchmarkingTable), filter))
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListMetricNames: query read: %w", err)
	}

	var out []MetricName
	for {
		var m MetricName
		err := it.Next(&m)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListMetricNames: iter next: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// QueryMetricsWithClient returns the values of metricNames for combos.
func QueryMetricsWithClient(ctx context.Context, c *Client, combos []domain.BankPeriodCombination, metricNames []string) ([]MetricRow, error) {
	if len(metricNames) == 0 {
		return nil, nil
	}
	filter, params := comboFilter(combos)
	q := c.bq.Query(fmt.Sprintf(`
		SELECT bank_id, bank_symbol, fiscal_year, quarter, metric_name, metric_value, unit, is_bank_specific
		FROM %s
		WHERE %s AND metric_name IN UNNEST(@metric_names)
		ORDER BY bank_id, fiscal_year, quarter, metric_name
	`, c.table(benchmarkingTable), filter))
	q.Parameters = append(params, bigquery.QueryParameter{Name: "metric_names", Value: metricNames})

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryMetrics: query read: %w", err)
	}

	var out []MetricRow
	for {
		var r MetricRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryMetrics: iter next: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
