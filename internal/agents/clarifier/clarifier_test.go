package clarifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/prompts"
)

var (
	rbc = domain.Bank{ID: 1, Name: "Royal Bank of Canada", Symbol: "RY.TO", Type: "Canadian_Banks"}
	td  = domain.Bank{ID: 2, Name: "Toronto-Dominion Bank", Symbol: "TD.TO", Type: "Canadian_Banks"}
)

type fakeCatalog struct {
	banks  []domain.Bank
	latest map[int]*domain.Period
	gotDBs []string
}

func (f *fakeCatalog) ListBanks(ctx context.Context) ([]domain.Bank, error) { return f.banks, nil }

func (f *fakeCatalog) ListAvailability(ctx context.Context, bankIDs []int) ([]domain.Availability, error) {
	return []domain.Availability{
		{BankID: 1, BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", Databases: []string{"benchmarking", "transcripts"}},
	}, nil
}

func (f *fakeCatalog) LatestPeriod(ctx context.Context, bankID int, databases []string) (*domain.Period, error) {
	f.gotDBs = databases
	return f.latest[bankID], nil
}

// scripted returns the replies in order, failing when there are more calls.
func scripted(t *testing.T, replies ...*llm.Response) *llm.ClientFunc {
	t.Helper()
	n := 0
	return &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		require.Less(t, n, len(replies), "unexpected extra LLM call")
		r := replies[n]
		n++
		return r, nil
	}}
}

func newClarifier(t *testing.T, cat *fakeCatalog) *Clarifier {
	t.Helper()
	store, err := prompts.NewEmbeddedStore()
	require.NoError(t, err)
	return New(prompts.NewLoader(store), cat, "small")
}

func conv(t *testing.T) *conversation.Conversation {
	t.Helper()
	c, err := conversation.Process([]conversation.Message{{Role: "user", Content: "RBC and TD revenue Q3 2024"}}, 0)
	require.NoError(t, err)
	return c
}

func TestClarify(t *testing.T) {
	tests := []struct {
		name     string
		replies  []*llm.Response
		latest   map[int]*domain.Period
		want     []domain.BankPeriodCombination
		wantClar bool
		wantErr  apperr.Kind
	}{
		{
			name: "apply_all",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[1,2],"query_intent":"revenue"}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":2024,"quarters":["q3"]}}`),
			},
			want: []domain.BankPeriodCombination{
				{BankID: 1, BankName: rbc.Name, BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", QueryIntent: "revenue"},
				{BankID: 2, BankName: td.Name, BankSymbol: "TD.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", QueryIntent: "revenue"},
			},
		},
		{
			name: "bank_specific overrides apply_all",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[1,2],"query_intent":"revenue"}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":2024,"quarters":["Q3"]},"bank_specific":[{"bank_id":2,"fiscal_year":2024,"quarters":["Q2","Q1","Q2"]}]}`),
			},
			want: []domain.BankPeriodCombination{
				{BankID: 1, BankName: rbc.Name, BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", QueryIntent: "revenue"},
				{BankID: 2, BankName: td.Name, BankSymbol: "TD.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q1", QueryIntent: "revenue"},
				{BankID: 2, BankName: td.Name, BankSymbol: "TD.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q2", QueryIntent: "revenue"},
			},
		},
		{
			name: "unknown ids dropped",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[99,1],"query_intent":"x"}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":2024,"quarters":["Q3"]}}`),
			},
			want: []domain.BankPeriodCombination{
				{BankID: 1, BankName: rbc.Name, BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", QueryIntent: "x"},
			},
		},
		{
			name: "only unknown ids",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[99],"query_intent":"x"}`),
			},
			wantClar: true,
		},
		{
			name: "bank clarification",
			replies: []*llm.Response{
				llm.ToolResponse("clarification_needed", `{"question":"Which bank?"}`),
			},
			wantClar: true,
		},
		{
			name: "invalid quarter retried",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[1],"query_intent":"x"}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":2024,"quarters":["Q5"]}}`),
				llm.ToolResponse("periods_found", `{}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":2024,"quarters":["Q4"]}}`),
			},
			want: []domain.BankPeriodCombination{
				{BankID: 1, BankName: rbc.Name, BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q4", QueryIntent: "x"},
			},
		},
		{
			name: "implausible year exhausts retries",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[1],"query_intent":"x"}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":1999,"quarters":["Q1"]}}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":1999,"quarters":["Q1"]}}`),
				llm.ToolResponse("periods_found", `{"apply_all":{"fiscal_year":1999,"quarters":["Q1"]}}`),
			},
			wantErr: apperr.KindModel,
		},
		{
			name: "use_latest",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[1,2],"query_intent":"latest"}`),
				llm.ToolResponse("use_latest", `{}`),
			},
			latest: map[int]*domain.Period{1: {FiscalYear: 2025, Quarter: "Q1"}},
			want: []domain.BankPeriodCombination{
				{BankID: 1, BankName: rbc.Name, BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2025, Quarter: "Q1", QueryIntent: "latest"},
			},
		},
		{
			name: "use_latest without data",
			replies: []*llm.Response{
				llm.ToolResponse("banks_found", `{"bank_ids":[2],"query_intent":"latest"}`),
				llm.ToolResponse("use_latest", `{}`),
			},
			wantClar: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &fakeCatalog{banks: []domain.Bank{rbc, td}, latest: tt.latest}
			res, err := newClarifier(t, cat).Clarify(context.Background(), scripted(t, tt.replies...), conv(t), []string{"transcripts"})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			if tt.wantClar {
				assert.True(t, res.NeedsClarification())
				assert.Empty(t, res.Combos)
				return
			}
			assert.Empty(t, res.Clarifications)
			assert.Equal(t, tt.want, res.Combos)
		})
	}
}

func TestClarifyLatestUsesDatabaseFilter(t *testing.T) {
	cat := &fakeCatalog{banks: []domain.Bank{rbc}, latest: map[int]*domain.Period{1: {FiscalYear: 2024, Quarter: "Q4"}}}
	client := scripted(t,
		llm.ToolResponse("banks_found", `{"bank_ids":[1],"query_intent":"x"}`),
		llm.ToolResponse("use_latest", `{}`),
	)
	_, err := newClarifier(t, cat).Clarify(context.Background(), client, conv(t), []string{"rts"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rts"}, cat.gotDBs)
}

func TestFormatAvailability(t *testing.T) {
	rows := []domain.Availability{
		{BankSymbol: "RY.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", Databases: []string{"benchmarking", "transcripts"}},
		{BankSymbol: "TD.TO", BankType: "Canadian_Banks", FiscalYear: 2024, Quarter: "Q3", Databases: []string{"benchmarking"}},
	}
	assert.Equal(t, "- RY.TO 2024 Q3: transcripts", formatAvailability(rows, []string{"transcripts"}))
	assert.Equal(t, "No data is available for these banks.", formatAvailability(nil, nil))
}
