package bigquery

import (
	"testing"

	"github.com/dvloznov/aegis/internal/domain"
)

func TestComboFilter(t *testing.T) {
	tests := []struct {
		name       string
		combos     []domain.BankPeriodCombination
		wantSQL    string
		wantParams int
	}{
		{name: "empty", wantSQL: "FALSE"},
		{
			name:       "one",
			combos:     []domain.BankPeriodCombination{{BankID: 1, FiscalYear: 2024, Quarter: "Q3"}},
			wantSQL:    "((bank_id = @c0_bank AND fiscal_year = @c0_year AND quarter = @c0_quarter))",
			wantParams: 3,
		},
		{
			name: "two",
			combos: []domain.BankPeriodCombination{
				{BankID: 1, FiscalYear: 2024, Quarter: "Q3"},
				{BankID: 2, FiscalYear: 2024, Quarter: "Q2"},
			},
			wantSQL: "((bank_id = @c0_bank AND fiscal_year = @c0_year AND quarter = @c0_quarter) OR " +
				"(bank_id = @c1_bank AND fiscal_year = @c1_year AND quarter = @c1_quarter))",
			wantParams: 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := comboFilter(tt.combos)
			if sql != tt.wantSQL {
				t.Errorf("comboFilter() sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(params) != tt.wantParams {
				t.Fatalf("comboFilter() params = %d, want %d", len(params), tt.wantParams)
			}
			if tt.wantParams > 3 {
				if params[3].Name != "c1_bank" || params[3].Value != int64(2) {
					t.Errorf("params[3] = %+v", params[3])
				}
			}
		})
	}
}
