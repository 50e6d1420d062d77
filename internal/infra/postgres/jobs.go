package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/aegis/internal/jobs"
)

const jobColumns = `
	job_id, job_type, bank_ids, fiscal_year, quarter, status,
	created_at, started_at, completed_at, error, retry_count, max_retries, report_id`

// JobStore persists ETL jobs in aegis_jobs.
type JobStore struct {
	db Querier
}

// NewJobStore creates a store over db.
func NewJobStore(db Querier) *JobStore {
	return &JobStore{db: db}
}

// SaveJob implements jobs.JobStore with an upsert on job_id.
func (s *JobStore) SaveJob(ctx context.Context, job *jobs.ETLJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO aegis_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			report_id = EXCLUDED.report_id`,
		job.JobID, string(job.Type), job.BankIDs, job.FiscalYear, job.Quarter, string(job.Status),
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.Error, job.RetryCount, job.MaxRetries, job.ReportID,
	)
	if err != nil {
		return fmt.Errorf("SaveJob: %w", err)
	}
	return nil
}

// GetJob implements jobs.JobStore.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*jobs.ETLJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM aegis_jobs WHERE job_id = $1`, jobID))
	if IsNoRows(err) {
		return nil, fmt.Errorf("GetJob %s: %w", jobID, jobs.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetJob: %w", err)
	}
	return job, nil
}

// ListJobs implements jobs.JobStore. Newest jobs come first.
func (s *JobStore) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ETLJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("job_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := `SELECT ` + jobColumns + ` FROM aegis_jobs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, job_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: query: %w", err)
	}
	defer rows.Close()

	out := []*jobs.ETLJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ListJobs: scan: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListJobs: iterate: %w", err)
	}
	return out, nil
}

// UpdateJobStatus implements jobs.JobStore.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	n, err := s.db.Exec(ctx, `
		UPDATE aegis_jobs
		SET status = $2, error = CASE WHEN $3 = '' THEN error ELSE $3 END
		WHERE job_id = $1`,
		jobID, string(status), errorMsg)
	if err != nil {
		return fmt.Errorf("UpdateJobStatus: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("UpdateJobStatus %s: %w", jobID, jobs.ErrJobNotFound)
	}
	return nil
}

func scanJob(row Row) (*jobs.ETLJob, error) {
	var (
		job      jobs.ETLJob
		jobType  string
		status   string
		bankIDs  []int32
		errMsg   *string
		reportID *string
	)
	if err := row.Scan(
		&job.JobID, &jobType, &bankIDs, &job.FiscalYear, &job.Quarter, &status,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &errMsg, &job.RetryCount, &job.MaxRetries, &reportID,
	); err != nil {
		return nil, err
	}
	job.Type = jobs.JobType(jobType)
	job.Status = jobs.JobStatus(status)
	for _, id := range bankIDs {
		job.BankIDs = append(job.BankIDs, int(id))
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	if reportID != nil {
		job.ReportID = *reportID
	}
	return &job, nil
}

var _ jobs.JobStore = (*JobStore)(nil)
