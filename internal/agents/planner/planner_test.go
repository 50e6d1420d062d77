package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/prompts"
)

type availabilityFunc func(ctx context.Context, bankIDs []int) ([]domain.Availability, error)

func (f availabilityFunc) ListAvailability(ctx context.Context, bankIDs []int) ([]domain.Availability, error) {
	return f(ctx, bankIDs)
}

var (
	rbcQ3 = domain.BankPeriodCombination{BankID: 1, BankName: "Royal Bank of Canada", BankSymbol: "RY.TO", FiscalYear: 2024, Quarter: "Q3"}
	tdQ3  = domain.BankPeriodCombination{BankID: 2, BankName: "Toronto-Dominion Bank", BankSymbol: "TD.TO", FiscalYear: 2024, Quarter: "Q3"}
)

func rows(ctx context.Context, bankIDs []int) ([]domain.Availability, error) {
	return []domain.Availability{
		{BankID: 1, FiscalYear: 2024, Quarter: "Q3", Databases: []string{"transcripts", "benchmarking"}},
		{BankID: 1, FiscalYear: 2024, Quarter: "Q2", Databases: []string{"rts"}},
		{BankID: 2, FiscalYear: 2024, Quarter: "Q3", Databases: []string{"benchmarking"}},
	}, nil
}

func newPlanner(t *testing.T) *Planner {
	t.Helper()
	store, err := prompts.NewEmbeddedStore()
	require.NoError(t, err)
	return New(prompts.NewLoader(store), availabilityFunc(rows), "medium")
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name         string
		combos       []domain.BankPeriodCombination
		dbNames      []string
		reply        *llm.Response
		replyErr     error
		wantDBs      []string
		wantNoData   bool
		wantFallback bool
		wantCalls    int
	}{
		{
			name:      "selection intersected with availability",
			combos:    []domain.BankPeriodCombination{rbcQ3, tdQ3},
			reply:     llm.ToolResponse("databases_selected", `{"databases":["transcripts","rts","benchmarking"]}`),
			wantDBs:   []string{"benchmarking", "transcripts"},
			wantCalls: 1,
		},
		{
			name:       "selection with no available database",
			combos:     []domain.BankPeriodCombination{tdQ3},
			reply:      llm.ToolResponse("databases_selected", `{"databases":["pillar3"]}`),
			wantNoData: true,
			wantCalls:  1,
		},
		{
			name:       "database filter empties the set",
			combos:     []domain.BankPeriodCombination{tdQ3},
			dbNames:    []string{"transcripts"},
			wantNoData: true,
		},
		{
			name:         "llm failure falls back to all available",
			combos:       []domain.BankPeriodCombination{rbcQ3},
			replyErr:     errors.New("timeout"),
			wantDBs:      []string{"benchmarking", "transcripts"},
			wantFallback: true,
			wantCalls:    MaxAttempts,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			client := &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				calls++
				if tt.replyErr != nil {
					return nil, tt.replyErr
				}
				return tt.reply, nil
			}}

			plan, err := newPlanner(t).Plan(context.Background(), client, "revenue", tt.combos, tt.dbNames)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNoData, plan.NoData)
			assert.Equal(t, tt.wantDBs, plan.Databases)
			assert.Equal(t, tt.wantFallback, plan.Fallback)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantNoData {
				assert.NotEmpty(t, plan.Message)
			}
		})
	}
}

func TestPlanCombosPerDatabase(t *testing.T) {
	client := &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return llm.ToolResponse("databases_selected", `{"databases":["benchmarking","transcripts"]}`), nil
	}}
	plan, err := newPlanner(t).Plan(context.Background(), client, "revenue", []domain.BankPeriodCombination{rbcQ3, tdQ3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.BankPeriodCombination{rbcQ3, tdQ3}, plan.Combos["benchmarking"])
	assert.Equal(t, []domain.BankPeriodCombination{rbcQ3}, plan.Combos["transcripts"])
}

func TestPlanRejectsUnknownDatabase(t *testing.T) {
	replies := []*llm.Response{
		llm.ToolResponse("databases_selected", `{"databases":["sec_filings"]}`),
		llm.ToolResponse("databases_selected", `{"databases":["benchmarking"]}`),
	}
	calls := 0
	client := &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		calls++
		return replies[calls-1], nil
	}}
	plan, err := newPlanner(t).Plan(context.Background(), client, "revenue", []domain.BankPeriodCombination{rbcQ3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"benchmarking"}, plan.Databases)
	assert.Equal(t, 2, calls)
}
