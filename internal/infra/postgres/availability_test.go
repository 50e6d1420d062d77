package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAvailability(t *testing.T) {
	db := &QuerierFunc{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		assert.Contains(t, sql, "a.bank_id = ANY($1)")
		return &StaticRows{Values: [][]any{
			{1, "Royal Bank of Canada", "RY", "Canadian_Banks", 2024, "Q3", []string{"transcripts", "reports"}},
		}}, nil
	}}

	rows, err := NewAvailabilityRepository(db).ListAvailability(context.Background(), []int{1})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.True(t, rows[0].HasDatabase("reports"))
	assert.False(t, rows[0].HasDatabase("rts"))
	assert.Equal(t, "Canadian_Banks", rows[0].Bank().Type)
}

func TestLatestPeriod(t *testing.T) {
	tests := []struct {
		name      string
		databases []string
		row       *StaticRow
		wantNil   bool
	}{
		{name: "found", databases: []string{"transcripts"}, row: &StaticRow{Values: []any{2025, "Q1"}}},
		{name: "any database", row: &StaticRow{Values: []any{2024, "Q4"}}},
		{name: "no data", row: nil, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &QuerierFunc{}
			if tt.row != nil {
				db.QueryRowFunc = func(ctx context.Context, sql string, args ...any) Row {
					if len(tt.databases) > 0 {
						assert.Contains(t, sql, "database_names && $2::text[]")
					} else {
						assert.Len(t, args, 1)
					}
					return tt.row
				}
			}

			p, err := LatestPeriodWithDB(context.Background(), db, 1, tt.databases)
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.row.Values[0], p.FiscalYear)
		})
	}
}

func TestListBanks(t *testing.T) {
	db := &QuerierFunc{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		return &StaticRows{Values: [][]any{
			{1, "Royal Bank of Canada", "RY", "Canadian_Banks"},
			{2, "JPMorgan Chase", "JPM", "US_Banks"},
		}}, nil
	}}

	banks, err := ListBanksWithDB(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, "JPM", banks[1].Symbol)
}
