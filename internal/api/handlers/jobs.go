package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dvloznov/aegis/internal/api/middleware"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/logger"
)

// JobsHandler enqueues and reports on ETL jobs.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
	}
}

// CreateJob handles POST /api/etl/jobs
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       jobs.JobType `json:"type"`
		BankIDs    []int        `json:"bank_ids"`
		FiscalYear int          `json:"fiscal_year"`
		Quarter    string       `json:"quarter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &jobs.ETLJob{
		Type:       req.Type,
		BankIDs:    req.BankIDs,
		FiscalYear: req.FiscalYear,
		Quarter:    req.Quarter,
	}
	if err := job.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	if err := h.publisher.Publish(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue ETL job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ETL job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("type", string(job.Type)).Ints("bank_ids", job.BankIDs).Msg("ETL job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"type":   string(job.Type),
		"status": string(job.Status),
	})
}

// GetJob handles GET /api/etl/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/etl/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.ETLJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
