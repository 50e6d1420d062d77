package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/aegis/internal/logger"
)

// StorePublisher publishes by saving the job as pending, for a separate
// worker process to pick up through a Poller.
type StorePublisher struct {
	Store      JobStore
	MaxRetries int
}

// Publish implements Publisher.
func (p *StorePublisher) Publish(ctx context.Context, job *ETLJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	job.Status = JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = p.MaxRetries
	}
	if err := p.Store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("StorePublisher.Publish: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *StorePublisher) Close() error { return nil }

// Poller moves pending jobs from a store onto a publisher. Each job id is
// forwarded once per Poller; retries are left to the publisher's queue.
type Poller struct {
	Store     JobStore
	Publisher Publisher
	Interval  time.Duration
	// Batch bounds the jobs forwarded per poll.
	Batch int

	seen map[string]bool
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Job poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll forwards the pending jobs not forwarded before, oldest first, and
// returns how many it forwarded.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	pending, err := p.Store.ListJobs(ctx, JobFilter{Status: JobStatusPending, Limit: p.Batch})
	if err != nil {
		return 0, fmt.Errorf("Poller.Poll: list pending: %w", err)
	}

	n := 0
	for i := len(pending) - 1; i >= 0; i-- {
		job := pending[i]
		if p.seen[job.JobID] {
			continue
		}
		if err := p.Publisher.Publish(ctx, job); err != nil {
			return n, fmt.Errorf("Poller.Poll: publish %s: %w", job.JobID, err)
		}
		p.seen[job.JobID] = true
		n++
	}
	return n, nil
}
