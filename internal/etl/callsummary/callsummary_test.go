package callsummary

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/etl"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/prompts"
)

type repoFunc func(combo domain.BankPeriodCombination) ([]domain.TranscriptChunk, error)

func (f repoFunc) ListChunks(ctx context.Context, combo domain.BankPeriodCombination, sections []string) ([]domain.TranscriptChunk, error) {
	return f(combo)
}

type banksFunc func() ([]domain.Bank, error)

func (f banksFunc) ListBanks(ctx context.Context) ([]domain.Bank, error) { return f() }

type memReports struct {
	mu      sync.Mutex
	reports []*domain.Report
}

func (m *memReports) DeleteReports(ctx context.Context, combo domain.BankPeriodCombination, reportType string) (int64, error) {
	return 0, nil
}

func (m *memReports) InsertReport(ctx context.Context, r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func intp(i int) *int { return &i }

var transcript = []domain.TranscriptChunk{
	{Section: domain.SectionManagementDiscussion, SpeakerBlockID: intp(1), Speaker: "CEO", Content: "Net income rose to $4.5 billion."},
	{Section: domain.SectionQA, QAGroupID: intp(1), Speaker: "Analyst", Content: "How is NIM trending?"},
	{Section: domain.SectionQA, QAGroupID: intp(1), Speaker: "CFO", Content: "NIM expanded 5 basis points."},
}

var banks = banksFunc(func() ([]domain.Bank, error) {
	return []domain.Bank{{ID: 1, Name: "Royal Bank of Canada", Symbol: "RY.TO", Type: "Canadian_Banks"}}, nil
})

// scriptedClient answers by tool name; extract replies are keyed by the
// "Category N:" line of the system prompt.
func scriptedClient(t *testing.T, plan, dedup string, extract map[string]string) *llm.ClientFunc {
	t.Helper()
	return &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		require.Len(t, req.Tools, 1)
		name := req.Tools[0].Name
		switch name {
		case "research_plan":
			return llm.ToolResponse(name, plan), nil
		case "deduplication_analysis":
			return llm.ToolResponse(name, dedup), nil
		case "extract_category":
			for key, args := range extract {
				if strings.Contains(req.Messages[0].Content, key) {
					return llm.ToolResponse(name, args), nil
				}
			}
			return nil, errors.New("unexpected category")
		}
		return nil, errors.New("unexpected tool " + name)
	}}
}

func newPipeline(t *testing.T, reports *memReports) *Pipeline {
	t.Helper()
	store, err := prompts.NewEmbeddedStore()
	require.NoError(t, err)
	runner := &etl.Runner{Reports: reports}
	return New(runner, banks, repoFunc(func(domain.BankPeriodCombination) ([]domain.TranscriptChunk, error) {
		return transcript, nil
	}), prompts.NewLoader(store), etl.Options{Model: "large", Concurrency: 4})
}

func TestGenerate(t *testing.T) {
	plan := `{"category_plans":[
		{"index":1,"name":"Financial Performance","extraction_strategy":"Use the CEO remarks."},
		{"index":2,"name":"Net Interest Margin","extraction_strategy":"Use the CFO answer."},
		{"index":3,"name":"Credit Quality","extraction_strategy":"Look for PCL commentary."}
	]}`
	extract := map[string]string{
		"Category 1:": `{"rejected":false,"title":"Record earnings","statements":[
			{"statement":"Net income rose to $4.5B.","relevance_score":9,"evidence":[{"type":"quote","content":"Net income rose to $4.5 billion.","speaker":"CEO"}]},
			{"statement":"NIM expanded 5 bps.","relevance_score":5,"evidence":[{"type":"paraphrase","content":"NIM was up 5 bps.","speaker":"CFO"}]}
		]}`,
		"Category 2:": `{"rejected":false,"title":"Margin expansion","statements":[
			{"statement":"NIM expanded 5 bps.","relevance_score":8,"evidence":[{"type":"quote","content":"NIM expanded 5 basis points.","speaker":"CFO"}]}
		]}`,
		"Category 3:": `{"rejected":true,"rejection_reason":"Credit was not discussed."}`,
	}
	dedup := `{"statement_duplicates":[{"category_index":1,"statement_index":1,"duplicate_of_category_index":2,"duplicate_of_statement_index":0}],"evidence_duplicates":[]}`

	reports := &memReports{}
	report, err := newPipeline(t, reports).Generate(context.Background(), scriptedClient(t, plan, dedup, extract), &jobs.ETLJob{
		Type:       jobs.JobType(Name),
		BankIDs:    []int{1},
		FiscalYear: 2024,
		Quarter:    "Q3",
	})
	require.NoError(t, err)
	require.Len(t, reports.reports, 1)

	assert.Equal(t, Name, report.ReportType)
	assert.Equal(t, "Royal Bank of Canada 2024 Q3 Earnings Call Summary", report.Title)
	assert.Contains(t, report.Markdown, "## Results Summary\n\n### Record earnings\n\n- Net income rose to $4.5B.\n  > \"Net income rose to $4.5 billion.\" (CEO)\n\n### Margin expansion")
	assert.NotContains(t, report.Markdown, "NIM was up 5 bps.")
	assert.NotContains(t, report.Markdown, "Credit")

	var payload struct {
		Categories []domain.CategoryResult `json:"categories"`
		Dedup      DedupStats              `json:"dedup"`
	}
	require.NoError(t, json.Unmarshal(report.Payload, &payload))
	assert.Len(t, payload.Categories, 10)
	assert.Equal(t, 1, payload.Dedup.StatementsRemoved)
	for _, c := range payload.Categories {
		if c.Index > 3 {
			assert.True(t, c.Rejected, "category %d", c.Index)
		}
	}
}

func TestGeneratePlanFailureExtractsEverything(t *testing.T) {
	var mu sync.Mutex
	extracted := 0
	client := &llm.ClientFunc{CompleteFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		name := req.Tools[0].Name
		switch name {
		case "research_plan":
			return nil, errors.New("upstream unavailable")
		case "extract_category":
			mu.Lock()
			extracted++
			mu.Unlock()
			return llm.ToolResponse(name, `{"rejected":false,"title":"T","statements":[{"statement":"S","relevance_score":5,"evidence":[]}]}`), nil
		}
		return llm.ToolResponse(name, `{"statement_duplicates":[],"evidence_duplicates":[]}`), nil
	}}

	report, err := newPipeline(t, &memReports{}).Generate(context.Background(), client, &jobs.ETLJob{BankIDs: []int{1}, FiscalYear: 2024, Quarter: "Q3"})
	require.NoError(t, err)
	assert.Equal(t, 10, extracted)
	assert.NotEmpty(t, report.Markdown)
}

func TestGenerateEveryCategoryRejected(t *testing.T) {
	client := scriptedClient(t, `{"category_plans":[]}`, `{}`, nil)
	_, err := newPipeline(t, &memReports{}).Generate(context.Background(), client, &jobs.ETLJob{BankIDs: []int{1}, FiscalYear: 2024, Quarter: "Q3"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindModel, apperr.KindOf(err))
}

func TestGenerateValidatesBanks(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
	}{
		{"unknown bank", []int{7}},
		{"two banks", []int{1, 1}},
		{"no bank", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPipeline(t, &memReports{}).Generate(context.Background(), &llm.ClientFunc{}, &jobs.ETLJob{BankIDs: tt.ids, FiscalYear: 2024, Quarter: "Q3"})
			require.Error(t, err)
			assert.Equal(t, apperr.KindUser, apperr.KindOf(err))
		})
	}
}

func TestCheckExtract(t *testing.T) {
	tests := []struct {
		name    string
		args    extractArgs
		wantErr bool
	}{
		{"rejected with reason", extractArgs{Rejected: true, RejectionReason: "none"}, false},
		{"rejected without reason", extractArgs{Rejected: true}, true},
		{"missing title", extractArgs{Statements: []statementArgs{{Statement: "s"}}}, true},
		{"no statements", extractArgs{Title: "t"}, true},
		{"blank statement", extractArgs{Title: "t", Statements: []statementArgs{{Statement: " "}}}, true},
		{"valid", extractArgs{Title: "t", Statements: []statementArgs{{Statement: "s"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkExtract(&tt.args)
			assert.Equal(t, tt.wantErr, err != nil, "checkExtract() error = %v", err)
		})
	}
}
