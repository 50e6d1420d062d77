package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/aegis/internal/domain"
)

// SectionRow is one section of a regulatory filing (RTS or Pillar 3).
type SectionRow struct {
	SectionID    string              `bigquery:"section_id"`
	BankID       int64               `bigquery:"bank_id"`
	FiscalYear   int64               `bigquery:"fiscal_year"`
	Quarter      string              `bigquery:"quarter"`
	SectionTitle string              `bigquery:"section_title"`
	Summary      bigquery.NullString `bigquery:"summary"`
	PageStart    bigquery.NullInt64  `bigquery:"page_start"`
	Content      string              `bigquery:"content"`
}

// ListSectionsWithClient returns the section catalogue for combos without content.
func ListSectionsWithClient(ctx context.Context, c *Client, table string, combos []domain.BankPeriodCombination) ([]SectionRow, error) {
	filter, params := comboFilter(combos)
	q := c.bq.Query(fmt.Sprintf(`
		SELECT section_id, bank_id, fiscal_year, quarter, section_title, summary, page_start, "" AS content
		FROM %s
		WHERE %s
		ORDER BY bank_id, fiscal_year, quarter, page_start
	`, c.table(table), filter))
	q.Parameters = params

	rows, err := readSections(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListSections %s: %w", table, err)
	}
	return rows, nil
}

// GetSectionsWithClient returns the full sections with the given ids.
func GetSectionsWithClient(ctx context.Context, c *Client, table string, ids []string) ([]SectionRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := c.bq.Query(fmt.Sprintf(`
		SELECT section_id, bank_id, fiscal_year, quarter, section_title, summary, page_start, content
		FROM %s
		WHERE section_id IN UNNEST(@ids)
		ORDER BY bank_id, fiscal_year, quarter, page_start
	`, c.table(table)))
	q.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}

	rows, err := readSections(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetSections %s: %w", table, err)
	}
	return rows, nil
}

func readSections(ctx context.Context, q *bigquery.Query) ([]SectionRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var out []SectionRow
	for {
		var r SectionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
