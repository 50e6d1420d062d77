package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/aegis/internal/domain"
)

// AvailabilityRepository reads the bank catalogue and which databases hold
// data per bank-period.
type AvailabilityRepository struct {
	db Querier
}

// NewAvailabilityRepository creates a repository over db.
func NewAvailabilityRepository(db Querier) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListBanks delegates to ListBanksWithDB.
func (r *AvailabilityRepository) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	return ListBanksWithDB(ctx, r.db)
}

// ListAvailability delegates to ListAvailabilityWithDB.
func (r *AvailabilityRepository) ListAvailability(ctx context.Context, bankIDs []int) ([]domain.Availability, error) {
	return ListAvailabilityWithDB(ctx, r.db, bankIDs)
}

// LatestPeriod delegates to LatestPeriodWithDB.
func (r *AvailabilityRepository) LatestPeriod(ctx context.Context, bankID int, databases []string) (*domain.Period, error) {
	return LatestPeriodWithDB(ctx, r.db, bankID, databases)
}

// ListBanksWithDB returns every monitored bank ordered by id.
func ListBanksWithDB(ctx context.Context, db Querier) ([]domain.Bank, error) {
	rows, err := db.Query(ctx, `
		SELECT bank_id, bank_name, bank_symbol, bank_type
		FROM aegis_banks
		ORDER BY bank_id`)
	if err != nil {
		return nil, fmt.Errorf("ListBanks: query: %w", err)
	}
	defer rows.Close()

	var banks []domain.Bank
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.ID, &b.Name, &b.Symbol, &b.Type); err != nil {
			return nil, fmt.Errorf("ListBanks: scan: %w", err)
		}
		banks = append(banks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListBanks: iterate: %w", err)
	}
	return banks, nil
}

// ListAvailabilityWithDB returns availability rows for bankIDs (all banks when
// empty), newest period first.
func ListAvailabilityWithDB(ctx context.Context, db Querier, bankIDs []int) ([]domain.Availability, error) {
	sql := `
		SELECT a.bank_id, b.bank_name, b.bank_symbol, b.bank_type, a.fiscal_year, a.quarter, a.database_names
		FROM aegis_data_availability a
		JOIN aegis_banks b ON b.bank_id = a.bank_id`
	var args []any
	if len(bankIDs) > 0 {
		sql += ` WHERE a.bank_id = ANY($1)`
		args = append(args, bankIDs)
	}
	sql += ` ORDER BY a.bank_id, a.fiscal_year DESC, a.quarter DESC`

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListAvailability: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Availability
	for rows.Next() {
		var a domain.Availability
		if err := rows.Scan(&a.BankID, &a.BankName, &a.BankSymbol, &a.BankType, &a.FiscalYear, &a.Quarter, &a.Databases); err != nil {
			return nil, fmt.Errorf("ListAvailability: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAvailability: iterate: %w", err)
	}
	return out, nil
}

// LatestPeriodWithDB returns the most recent period with data for bankID in any
// of databases (any database when empty), or nil when there is none.
func LatestPeriodWithDB(ctx context.Context, db Querier, bankID int, databases []string) (*domain.Period, error) {
	sql := `
		SELECT fiscal_year, quarter
		FROM aegis_data_availability
		WHERE bank_id = $1`
	args := []any{bankID}
	if len(databases) > 0 {
		sql += ` AND database_names && $2::text[]`
		args = append(args, databases)
	}
	sql += ` ORDER BY fiscal_year DESC, quarter DESC LIMIT 1`

	var p domain.Period
	err := db.QueryRow(ctx, sql, args...).Scan(&p.FiscalYear, &p.Quarter)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestPeriod: %w", err)
	}
	return &p, nil
}
