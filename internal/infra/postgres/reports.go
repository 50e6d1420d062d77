package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/aegis/internal/domain"
)

const reportColumns = `
	id, bank_id, bank_name, bank_symbol, fiscal_year, quarter,
	report_type, title, markdown, payload, artifact_uri, created_at`

// ReportFilter narrows ListReports. Zero fields match everything.
type ReportFilter struct {
	BankIDs     []int
	FiscalYear  int
	Quarter     string
	ReportTypes []string
	Limit       int
}

// ReportRepository stores ETL reports in aegis_reports.
type ReportRepository struct {
	db Querier
}

// NewReportRepository creates a repository over db.
func NewReportRepository(db Querier) *ReportRepository {
	return &ReportRepository{db: db}
}

// InsertReport delegates to InsertReportWithDB.
func (r *ReportRepository) InsertReport(ctx context.Context, report *domain.Report) error {
	return InsertReportWithDB(ctx, r.db, report)
}

// ListReports delegates to ListReportsWithDB.
func (r *ReportRepository) ListReports(ctx context.Context, filter ReportFilter) ([]domain.Report, error) {
	return ListReportsWithDB(ctx, r.db, filter)
}

// GetReport delegates to GetReportWithDB.
func (r *ReportRepository) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	return GetReportWithDB(ctx, r.db, id)
}

// LatestReport delegates to LatestReportWithDB.
func (r *ReportRepository) LatestReport(ctx context.Context, combo domain.BankPeriodCombination, reportType string) (*domain.Report, error) {
	return LatestReportWithDB(ctx, r.db, combo, reportType)
}

// DeleteReports delegates to DeleteReportsWithDB.
func (r *ReportRepository) DeleteReports(ctx context.Context, combo domain.BankPeriodCombination, reportType string) (int64, error) {
	return DeleteReportsWithDB(ctx, r.db, combo, reportType)
}

// InsertReportWithDB inserts report, assigning ID and CreatedAt when unset.
func InsertReportWithDB(ctx context.Context, db Querier, report *domain.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	payload := []byte(report.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := db.Exec(ctx, `
		INSERT INTO aegis_reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		report.ID, report.BankID, report.BankName, report.BankSymbol, report.FiscalYear, report.Quarter,
		report.ReportType, report.Title, report.Markdown, payload, report.ArtifactURI, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertReport: %w", err)
	}
	return nil
}

// ListReportsWithDB returns reports matching filter, newest first.
func ListReportsWithDB(ctx context.Context, db Querier, filter ReportFilter) ([]domain.Report, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(filter.BankIDs) > 0 {
		add("bank_id = ANY($%d)", filter.BankIDs)
	}
	if filter.FiscalYear != 0 {
		add("fiscal_year = $%d", filter.FiscalYear)
	}
	if filter.Quarter != "" {
		add("quarter = $%d", filter.Quarter)
	}
	if len(filter.ReportTypes) > 0 {
		add("report_type = ANY($%d)", filter.ReportTypes)
	}

	sql := `SELECT ` + reportColumns + ` FROM aegis_reports`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListReports: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("ListReports: %w", err)
		}
		out = append(out, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListReports: iterate: %w", err)
	}
	return out, nil
}

// GetReportWithDB returns one report by id, or nil when it does not exist.
func GetReportWithDB(ctx context.Context, db Querier, id string) (*domain.Report, error) {
	rep, err := scanReport(db.QueryRow(ctx, `SELECT `+reportColumns+` FROM aegis_reports WHERE id = $1`, id))
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetReport: %w", err)
	}
	return rep, nil
}

// LatestReportWithDB returns the newest report of reportType for combo, or nil.
func LatestReportWithDB(ctx context.Context, db Querier, combo domain.BankPeriodCombination, reportType string) (*domain.Report, error) {
	rep, err := scanReport(db.QueryRow(ctx, `
		SELECT `+reportColumns+`
		FROM aegis_reports
		WHERE bank_id = $1 AND fiscal_year = $2 AND quarter = $3 AND report_type = $4
		ORDER BY created_at DESC
		LIMIT 1`,
		combo.BankID, combo.FiscalYear, combo.Quarter, reportType))
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestReport: %w", err)
	}
	return rep, nil
}

// DeleteReportsWithDB removes the reports of reportType for combo so a
// regenerated report replaces them.
func DeleteReportsWithDB(ctx context.Context, db Querier, combo domain.BankPeriodCombination, reportType string) (int64, error) {
	n, err := db.Exec(ctx, `
		DELETE FROM aegis_reports
		WHERE bank_id = $1 AND fiscal_year = $2 AND quarter = $3 AND report_type = $4`,
		combo.BankID, combo.FiscalYear, combo.Quarter, reportType)
	if err != nil {
		return 0, fmt.Errorf("DeleteReports: %w", err)
	}
	return n, nil
}

func scanReport(row Row) (*domain.Report, error) {
	var (
		rep     domain.Report
		payload []byte
		uri     *string
	)
	if err := row.Scan(
		&rep.ID, &rep.BankID, &rep.BankName, &rep.BankSymbol, &rep.FiscalYear, &rep.Quarter,
		&rep.ReportType, &rep.Title, &rep.Markdown, &payload, &uri, &rep.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		rep.Payload = payload
	}
	if uri != nil {
		rep.ArtifactURI = *uri
	}
	return &rep, nil
}
