package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/api/middleware"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/postgres"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/jobs/inmemory"
	"github.com/dvloznov/aegis/internal/orchestrator"
)

type runnerFunc func(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error) {
	return f(ctx, req, emit)
}

func TestChatStreamsEvents(t *testing.T) {
	var got orchestrator.Request
	h := NewChatHandler(runnerFunc(func(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error) {
		got = req
		emit(orchestrator.Event{Type: orchestrator.EventAgent, Name: "response", Content: "Hello"})
		emit(orchestrator.Event{Type: orchestrator.EventDone, Content: req.ExecutionID})
		return &orchestrator.Outcome{ExecutionID: req.ExecutionID}, nil
	}))

	body := `{"messages":[{"role":"user","content":"hi"}],"db_names":["reports"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("X-Request-ID", "exec-1")
	w := httptest.NewRecorder()
	middleware.RequestID(middleware.Auth(true)(http.HandlerFunc(h.Chat))).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	assert.Equal(t, "tok", got.AuthToken)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, []string{"reports"}, got.DBNames)

	var events []orchestrator.Event
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		var e orchestrator.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "Hello", events[0].Content)
	assert.Equal(t, orchestrator.EventDone, events[1].Type)
}

func TestChatRejectsBadRequests(t *testing.T) {
	h := NewChatHandler(runnerFunc(func(ctx context.Context, req orchestrator.Request, emit func(orchestrator.Event)) (*orchestrator.Outcome, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	}))
	for _, body := range []string{"{", `{"messages":[]}`} {
		w := httptest.NewRecorder()
		h.Chat(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

type catalogFunc struct {
	banks        func() ([]domain.Bank, error)
	availability func(ids []int) ([]domain.Availability, error)
}

func (c catalogFunc) ListBanks(ctx context.Context) ([]domain.Bank, error) { return c.banks() }

func (c catalogFunc) ListAvailability(ctx context.Context, ids []int) ([]domain.Availability, error) {
	return c.availability(ids)
}

func TestListBanks(t *testing.T) {
	var gotIDs []int
	h := NewBanksHandler(catalogFunc{
		banks: func() ([]domain.Bank, error) {
			return []domain.Bank{{ID: 1, Name: "Royal Bank of Canada", Symbol: "RY.TO"}}, nil
		},
		availability: func(ids []int) ([]domain.Availability, error) {
			gotIDs = ids
			return []domain.Availability{{BankID: 1, FiscalYear: 2024, Quarter: "Q3", Databases: []string{"reports"}}}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListBanks(w, httptest.NewRequest(http.MethodGet, "/api/banks", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.NotContains(t, w.Body.String(), "availability")

	w = httptest.NewRecorder()
	h.ListBanks(w, httptest.NewRequest(http.MethodGet, "/api/banks?availability=true&bank_id=1,2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{1, 2}, gotIDs)
	assert.Contains(t, w.Body.String(), `"database_names":["reports"]`)

	w = httptest.NewRecorder()
	h.ListBanks(w, httptest.NewRequest(http.MethodGet, "/api/banks?availability=true&bank_id=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBanksError(t *testing.T) {
	h := NewBanksHandler(catalogFunc{banks: func() ([]domain.Bank, error) { return nil, errors.New("db down") }})
	w := httptest.NewRecorder()
	h.ListBanks(w, httptest.NewRequest(http.MethodGet, "/api/banks", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type reportStore struct {
	filter  postgres.ReportFilter
	reports []domain.Report
}

func (s *reportStore) ListReports(ctx context.Context, filter postgres.ReportFilter) ([]domain.Report, error) {
	s.filter = filter
	return s.reports, nil
}

func (s *reportStore) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	for i := range s.reports {
		if s.reports[i].ID == id {
			return &s.reports[i], nil
		}
	}
	return nil, nil
}

func TestListReports(t *testing.T) {
	store := &reportStore{reports: []domain.Report{{ID: "r1", ReportType: "call_summary", Markdown: "# body"}}}
	h := NewReportsHandler(store)

	w := httptest.NewRecorder()
	h.ListReports(w, httptest.NewRequest(http.MethodGet, "/api/reports?bank_id=1&fiscal_year=2024&quarter=q3&report_type=call_summary,key_themes&limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, postgres.ReportFilter{
		BankIDs:     []int{1},
		FiscalYear:  2024,
		Quarter:     "Q3",
		ReportTypes: []string{"call_summary", "key_themes"},
		Limit:       5,
	}, store.filter)
	assert.NotContains(t, w.Body.String(), "# body")

	w = httptest.NewRecorder()
	h.ListReports(w, httptest.NewRequest(http.MethodGet, "/api/reports?fiscal_year=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport(t *testing.T) {
	h := NewReportsHandler(&reportStore{reports: []domain.Report{{ID: "r1", Markdown: "# body"}}})
	tests := []struct {
		id   string
		want int
	}{
		{"r1", http.StatusOK},
		{"missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/reports/"+tt.id, nil), map[string]string{"id": tt.id})
		w := httptest.NewRecorder()
		h.GetReport(w, req)
		assert.Equal(t, tt.want, w.Code, tt.id)
	}
}

type publisherFunc func(ctx context.Context, job *jobs.ETLJob) error

func (f publisherFunc) Publish(ctx context.Context, job *jobs.ETLJob) error { return f(ctx, job) }
func (f publisherFunc) Close() error { return nil }

func TestJobsEndpoints(t *testing.T) {
	store := inmemory.NewStore()
	h := NewJobsHandler(publisherFunc(func(ctx context.Context, job *jobs.ETLJob) error {
		job.JobID = "job-1"
		job.Status = jobs.JobStatusPending
		return store.SaveJob(ctx, job)
	}), store)

	w := httptest.NewRecorder()
	h.CreateJob(w, httptest.NewRequest(http.MethodPost, "/api/etl/jobs", strings.NewReader(`{"type":"call_summary","bank_ids":[1],"fiscal_year":2024,"quarter":"q3"}`)))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"job_id":"job-1"`)

	w = httptest.NewRecorder()
	h.CreateJob(w, httptest.NewRequest(http.MethodPost, "/api/etl/jobs", strings.NewReader(`{"type":"key_themes","bank_ids":[1,2],"fiscal_year":2024,"quarter":"Q3"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/etl/jobs/job-1", nil), map[string]string{"id": "job-1"})
	w = httptest.NewRecorder()
	h.GetJob(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quarter":"Q3"`)

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/etl/jobs/nope", nil), map[string]string{"id": "nope"})
	w = httptest.NewRecorder()
	h.GetJob(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ListJobs(w, httptest.NewRequest(http.MethodGet, "/api/etl/jobs?type=call_summary", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}
