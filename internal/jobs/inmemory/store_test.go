package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/jobs"
)

func TestStoreListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.ETLJob{
		{JobID: "a", Type: jobs.JobTypeCallSummary, Status: jobs.JobStatusCompleted},
		{JobID: "b", Type: jobs.JobTypeKeyThemes, Status: jobs.JobStatusFailed},
		{JobID: "c", Type: jobs.JobTypeCallSummary, Status: jobs.JobStatusPending},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, j))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all newest first", filter: jobs.JobFilter{}, want: []string{"c", "b", "a"}},
		{name: "by type", filter: jobs.JobFilter{Type: jobs.JobTypeCallSummary}, want: []string{"c", "a"}},
		{name: "by status", filter: jobs.JobFilter{Status: jobs.JobStatusFailed}, want: []string{"b"}},
		{name: "limit", filter: jobs.JobFilter{Limit: 1}, want: []string{"c"}},
		{name: "offset", filter: jobs.JobFilter{Offset: 2}, want: []string{"a"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 5}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStoreCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	job := &jobs.ETLJob{JobID: "x", BankIDs: []int{1}}
	require.NoError(t, s.SaveJob(ctx, job))

	job.BankIDs[0] = 99
	got, err := s.GetJob(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got.BankIDs)
}

func TestStoreNotFound(t *testing.T) {
	s := NewStore()

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateJobStatus(context.Background(), "missing", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
	assert.Error(t, s.SaveJob(context.Background(), &jobs.ETLJob{}))
}
