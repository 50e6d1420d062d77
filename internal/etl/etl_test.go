package etl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/bigquery"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/storage"
)

type testState struct {
	visited []string
}

type stepFunc struct {
	name string
	fn   func(s *testState) error
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Execute(ctx context.Context, state *testState) error { return s.fn(state) }

func visit(name string) stepFunc {
	return stepFunc{name: name, fn: func(s *testState) error {
		s.visited = append(s.visited, name)
		return nil
	}}
}

func TestPipelineExecute(t *testing.T) {
	p := NewPipeline[testState]("test", visit("load"), visit("extract"), visit("assemble"))
	state := &testState{}

	require.NoError(t, p.Execute(context.Background(), state))
	assert.Equal(t, []string{"load", "extract", "assemble"}, state.visited)
	assert.Equal(t, []string{"load", "extract", "assemble"}, p.Steps())
}

func TestPipelineStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPipeline[testState]("test",
		visit("load"),
		stepFunc{name: "extract", fn: func(*testState) error { return boom }},
		visit("assemble"),
	)
	state := &testState{}

	err := p.Execute(context.Background(), state)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "pipeline step 2 (extract)")
	assert.Equal(t, []string{"load"}, state.visited)
}

func TestForEachLimit(t *testing.T) {
	var inFlight, peak int32
	var mu sync.Mutex
	seen := map[int]bool{}

	err := ForEach(context.Background(), 20, 3, func(ctx context.Context, i int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 20)
	assert.LessOrEqual(t, peak, int32(3))
}

func TestForEachError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), 5, 0, func(ctx context.Context, i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

type fakeLedger struct {
	mu        sync.Mutex
	started   int
	failed    []error
	succeeded []string
	outputs   []*bigquery.LLMOutputRow
	usage     bigquery.RunUsage
}

func (l *fakeLedger) StartRun(ctx context.Context, etlType string, bankIDs []int, fiscalYear int, quarter string) (string, error) {
	l.started++
	return "run-1", nil
}

func (l *fakeLedger) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	l.failed = append(l.failed, runErr)
}

func (l *fakeLedger) MarkRunSucceeded(ctx context.Context, runID, reportID string, usage bigquery.RunUsage) error {
	l.succeeded = append(l.succeeded, reportID)
	l.usage = usage
	return nil
}

func (l *fakeLedger) InsertLLMOutput(ctx context.Context, row *bigquery.LLMOutputRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outputs = append(l.outputs, row)
	return nil
}

type fakeReports struct {
	deleted  []string
	inserted []*domain.Report
}

func (r *fakeReports) DeleteReports(ctx context.Context, combo domain.BankPeriodCombination, reportType string) (int64, error) {
	r.deleted = append(r.deleted, reportType)
	return 1, nil
}

func (r *fakeReports) InsertReport(ctx context.Context, report *domain.Report) error {
	r.inserted = append(r.inserted, report)
	return nil
}

func TestRunnerExecute(t *testing.T) {
	ledger := &fakeLedger{}
	reports := &fakeReports{}
	var uploads []string
	rn := &Runner{
		Ledger:  ledger,
		Reports: reports,
		Bucket:  "bucket",
		Storage: &storage.ServiceFunc{UploadBytesFunc: func(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
			uploads = append(uploads, object)
			return "gs://" + bucket + "/" + object, nil
		}},
	}
	before := testutil.ToFloat64(metrics.ETLRuns.WithLabelValues("call_summary", "success"))

	report, err := rn.Execute(context.Background(), "call_summary", []int{1}, 2024, "Q3", func(ctx context.Context, run *Run) (*domain.Report, error) {
		assert.Equal(t, "run-1", run.ID)
		run.Record(ctx, "extract", "gpt", "extract_category", `{"rejected":true}`, 2, llm.Usage{PromptTokens: 10, CompletionTokens: 5, Cost: 0.5})
		return &domain.Report{
			BankID:     1,
			BankSymbol: "RY",
			FiscalYear: 2024,
			Quarter:    "Q3",
			ReportType: "call_summary",
			Markdown:   "# Title",
			Payload:    []byte(`{}`),
		}, nil
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "gs://bucket/reports/call_summary/RY/2024_Q3.md", report.ArtifactURI)
	assert.Equal(t, []string{"reports/call_summary/RY/2024_Q3.md", "reports/call_summary/RY/2024_Q3.json"}, uploads)
	assert.Equal(t, []string{"call_summary"}, reports.deleted)
	require.Len(t, reports.inserted, 1)
	assert.Equal(t, []string{report.ID}, ledger.succeeded)
	assert.Equal(t, bigquery.RunUsage{PromptTokens: 10, CompletionTokens: 5, Cost: 0.5}, ledger.usage)

	require.Len(t, ledger.outputs, 1)
	assert.Equal(t, "run-1", ledger.outputs[0].RunID)
	assert.True(t, ledger.outputs[0].RawJSON.Valid)
	assert.Equal(t, int64(2), ledger.outputs[0].Attempts)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ETLRuns.WithLabelValues("call_summary", "success")))
}

func TestRunnerExecuteFailure(t *testing.T) {
	ledger := &fakeLedger{}
	reports := &fakeReports{}
	rn := &Runner{Ledger: ledger, Reports: reports}
	boom := apperr.Userf("test", "no transcript")

	_, err := rn.Execute(context.Background(), "key_themes", []int{1}, 2024, "Q3", func(ctx context.Context, run *Run) (*domain.Report, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []error{boom}, ledger.failed)
	assert.Empty(t, reports.inserted)

	_, err = rn.Execute(context.Background(), "key_themes", []int{1}, 2024, "Q3", func(ctx context.Context, run *Run) (*domain.Report, error) {
		return nil, nil
	})
	assert.ErrorContains(t, err, "no report")
	assert.Len(t, ledger.failed, 2)
}

func TestRunnerWithoutLedger(t *testing.T) {
	rn := &Runner{}
	report, err := rn.Execute(context.Background(), "cm_readthrough", nil, 2024, "Q3", func(ctx context.Context, run *Run) (*domain.Report, error) {
		assert.NotEmpty(t, run.ID)
		run.Record(ctx, "outlook", "gpt", "extract_outlook", "", 1, llm.Usage{PromptTokens: 3})
		assert.Equal(t, int64(3), run.Usage().PromptTokens)
		return &domain.Report{ReportType: "cm_readthrough"}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, report.ArtifactURI)
}

type banksFunc func(ctx context.Context) ([]domain.Bank, error)

func (f banksFunc) ListBanks(ctx context.Context) ([]domain.Bank, error) { return f(ctx) }

func TestResolveCombos(t *testing.T) {
	banks := banksFunc(func(ctx context.Context) ([]domain.Bank, error) {
		return []domain.Bank{
			{ID: 1, Name: "Royal Bank of Canada", Symbol: "RY", Type: "Canadian_Banks"},
			{ID: 2, Name: "JPMorgan Chase", Symbol: "JPM", Type: "US_Banks"},
		}, nil
	})

	combos, err := ResolveCombos(context.Background(), banks, []int{2, 1}, 2024, "Q3")
	require.NoError(t, err)
	require.Len(t, combos, 2)
	assert.Equal(t, "JPM", combos[0].BankSymbol)
	assert.Equal(t, "US_Banks", combos[0].BankType)
	assert.Equal(t, "Q3", combos[1].Quarter)

	_, err = ResolveCombos(context.Background(), banks, []int{9}, 2024, "Q3")
	assert.Equal(t, apperr.KindUser, apperr.KindOf(err))

	failing := banksFunc(func(ctx context.Context) ([]domain.Bank, error) { return nil, errors.New("db down") })
	_, err = ResolveCombos(context.Background(), failing, []int{1}, 2024, "Q3")
	assert.Equal(t, apperr.KindSystem, apperr.KindOf(err))
}

type generatorFunc func(ctx context.Context, client llm.Client, job *jobs.ETLJob) (*domain.Report, error)

func (f generatorFunc) Generate(ctx context.Context, client llm.Client, job *jobs.ETLJob) (*domain.Report, error) {
	return f(ctx, client, job)
}

func TestNewJobHandler(t *testing.T) {
	client := &llm.ClientFunc{}
	handler := NewJobHandler(client, map[jobs.JobType]Generator{
		jobs.JobTypeCallSummary: generatorFunc(func(ctx context.Context, c llm.Client, job *jobs.ETLJob) (*domain.Report, error) {
			assert.Same(t, client, c)
			return &domain.Report{ID: "rep-1"}, nil
		}),
	})

	job := &jobs.ETLJob{JobID: "job-1", Type: jobs.JobTypeCallSummary}
	require.NoError(t, handler(context.Background(), job))
	assert.Equal(t, "rep-1", job.ReportID)

	err := handler(context.Background(), &jobs.ETLJob{Type: jobs.JobTypeKeyThemes})
	assert.ErrorContains(t, err, "no generator")
}

func TestOptions(t *testing.T) {
	assert.Equal(t, 3, Options{}.Attempts())
	assert.Equal(t, 5, Options{MaxAttempts: 5}.Attempts())

	req := Options{Model: "gpt", Temperature: 0.2, MaxTokens: 100}.Request(llm.User("hi"))
	assert.Equal(t, "gpt", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.2, *req.Temperature)
	assert.Equal(t, int64(100), req.MaxTokens)
	assert.Len(t, req.Messages, 1)
}
