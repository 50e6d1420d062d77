package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/logger"
)

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Options tunes a Queue.
type Options struct {
	BufferSize int
	Workers    int
	MaxRetries int
	// Backoff returns the delay before retry n (1-based).
	Backoff func(n int) time.Duration
}

// Queue is a channel-backed Publisher and Consumer for single-instance
// deployments and tests.
type Queue struct {
	opts      Options
	jobChan   chan *jobs.ETLJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
	timers    map[*time.Timer]struct{}
}

// NewQueue creates a queue. store may be nil.
func NewQueue(opts Options, store jobs.JobStore) *Queue {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = func(n int) time.Duration { return time.Duration(n) * time.Second }
	}
	return &Queue{
		opts:      opts,
		jobChan:   make(chan *jobs.ETLJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		timers:    make(map[*time.Timer]struct{}),
	}
}

// Publish implements jobs.Publisher. It fills in id, status, timestamps and
// the retry budget, persists the job and enqueues it.
func (q *Queue) Publish(ctx context.Context, job *jobs.ETLJob) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("Publish: save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			q.processJob(ctx, job, handler)
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *jobs.ETLJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(logger.WithContext(ctx, log), job)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Msg("Job completed")
	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Job failed, retrying")
		q.scheduleRetry(ctx, job)
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Msg("Job failed")
	}
	q.save(ctx, job)
}

func (q *Queue) scheduleRetry(ctx context.Context, job *jobs.ETLJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(q.opts.Backoff(job.RetryCount), func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()

		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		if err := q.Publish(ctx, job); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("job_id", job.JobID).Msg("Could not re-enqueue job")
		}
	})
	q.timers[t] = struct{}{}
}

func (q *Queue) save(ctx context.Context, job *jobs.ETLJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Could not save job state")
	}
}

// Stop implements jobs.Consumer. Pending retries are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	for t := range q.timers {
		t.Stop()
		delete(q.timers, t)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
