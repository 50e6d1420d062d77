// Package jobs defines asynchronous ETL jobs and the queue and store contracts
// the API and worker share.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/aegis/internal/domain"
)

// JobType is the ETL pipeline a job runs.
type JobType string

const (
	JobTypeCallSummary   JobType = domain.ReportTypeCallSummary
	JobTypeKeyThemes     JobType = domain.ReportTypeKeyThemes
	JobTypeCMReadthrough JobType = domain.ReportTypeCMReadthrough
)

// Valid reports whether t names a known pipeline.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeCallSummary, JobTypeKeyThemes, JobTypeCMReadthrough:
		return true
	}
	return false
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// ETLJob is a request to run one ETL pipeline for a fiscal period.
type ETLJob struct {
	JobID string  `json:"job_id"`
	Type  JobType `json:"type"`

	// BankIDs holds one bank for call_summary and key_themes, any number for
	// cm_readthrough, where none means every capital markets bank.
	BankIDs    []int  `json:"bank_ids"`
	FiscalYear int    `json:"fiscal_year"`
	Quarter    string `json:"quarter"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`

	// ReportID is set once the pipeline stored its report.
	ReportID string `json:"report_id,omitempty"`
}

// Validate checks the job request fields.
func (j *ETLJob) Validate() error {
	if !j.Type.Valid() {
		return fmt.Errorf("unknown job type %q", j.Type)
	}
	if j.Type != JobTypeCMReadthrough && len(j.BankIDs) != 1 {
		return fmt.Errorf("%s takes exactly one bank_id, got %d", j.Type, len(j.BankIDs))
	}
	j.Quarter = domain.NormalizeQuarter(j.Quarter)
	return domain.Period{FiscalYear: j.FiscalYear, Quarter: j.Quarter}.Validate()
}

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *ETLJob) error
	Close() error
}

// Consumer delivers queued jobs to a handler.
type Consumer interface {
	// Start begins consuming jobs; handler is called once per delivery.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error triggers a retry while the
// job has retries left.
type JobHandler func(ctx context.Context, job *ETLJob) error

// JobStore persists job state across restarts and instances.
type JobStore interface {
	SaveJob(ctx context.Context, job *ETLJob) error
	GetJob(ctx context.Context, jobID string) (*ETLJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ETLJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Type   JobType
	Status JobStatus
	Limit  int
	Offset int
}
