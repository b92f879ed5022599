package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/sitesync/internal/config"
)

type blockingDrainer struct {
	started chan struct{}
	release chan struct{}
	limit   int
}

func (d *blockingDrainer) Process(_ context.Context, limit int) (int, error) {
	d.limit = limit
	d.started <- struct{}{}
	<-d.release
	return 0, nil
}

type recordingJobs struct {
	retainDays int
	logCutoff  time.Time
	released   bool
	pinged     bool
	retried    bool
}

func (r *recordingJobs) Cleanup(_ context.Context, retainDays int) (int64, error) {
	r.retainDays = retainDays
	return 0, nil
}

func (r *recordingJobs) DeleteOld(_ context.Context, olderThan time.Time) (int64, error) {
	r.logCutoff = olderThan
	return 3, nil
}

func (r *recordingJobs) ReleaseStale(context.Context, time.Time) (int, error) {
	r.released = true
	return 0, errors.New("database is locked")
}

func (r *recordingJobs) PingAll(context.Context) (int, int, error) {
	r.pinged = true
	return 1, 0, nil
}

func (r *recordingJobs) RetryFailed(_ context.Context, siteID *uint) (int, error) {
	r.retried = siteID == nil
	return 0, nil
}

func TestValidateCronSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		valid    bool
	}{
		{"*/2 * * * *", true},  // Every 2 minutes
		{"*/15 * * * *", true}, // Every 15 minutes
		{"0 3 * * *", true},    // Daily at 03:00
		{"invalid", false},     // Invalid
		{"* * * *", false},     // Missing field
		{"60 * * * *", false},  // Invalid minute
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateCronSchedule(tt.schedule)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGetNextRunTime(t *testing.T) {
	from := time.Date(2026, 5, 1, 10, 1, 0, 0, time.UTC)
	next, err := GetNextRunTime("*/2 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 2, 0, 0, time.UTC), *next)

	assert.Equal(t, "Daily at 03:00", GetCronDescription("0 3 * * *"))
	assert.Equal(t, "Custom schedule: 1 2 3 4 5", GetCronDescription("1 2 3 4 5"))
}

func TestSyncScheduler_SkipsOverlappingRuns(t *testing.T) {
	drainer := &blockingDrainer{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSyncScheduler(config.Schedule{}, Options{BatchSize: 25}, Jobs{Drainer: drainer}, nil)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(JobProcess) }()
	<-drainer.started
	assert.True(t, s.IsActive(JobProcess))

	assert.ErrorIs(t, s.RunNow(JobProcess), ErrJobInProgress)

	close(drainer.release)
	require.NoError(t, <-done)
	assert.False(t, s.IsActive(JobProcess))
	assert.Equal(t, 25, drainer.limit)
}

func TestSyncScheduler_Maintenance(t *testing.T) {
	jobs := &recordingJobs{}
	s := NewSyncScheduler(config.Schedule{}, Options{ConflictRetentionDays: 14, LogRetention: 48 * time.Hour},
		Jobs{Cleaner: jobs, Logs: jobs, Leases: jobs, Pinger: jobs, Retrier: jobs}, nil)

	err := s.RunNow(JobMaintenance)
	assert.ErrorContains(t, err, "database is locked", "errors are reported after every step ran")
	assert.Equal(t, 14, jobs.retainDays)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), jobs.logCutoff, time.Minute)
	assert.True(t, jobs.released)

	require.NoError(t, s.RunNow(JobHealthCheck))
	assert.True(t, jobs.pinged)
	require.NoError(t, s.RunNow(JobRetryFailed))
	assert.True(t, jobs.retried)

	assert.ErrorIs(t, s.RunNow("reindex"), ErrUnknownJob)
}

func TestSyncScheduler_StartStop(t *testing.T) {
	disabled := NewSyncScheduler(config.Schedule{Enabled: false, Process: "*/2 * * * *"}, Options{}, Jobs{}, nil)
	require.NoError(t, disabled.Start(context.Background()))
	assert.False(t, disabled.IsRunning())

	invalid := NewSyncScheduler(config.Schedule{Enabled: true, Process: "every minute"}, Options{}, Jobs{}, nil)
	assert.Error(t, invalid.Start(context.Background()))

	s := NewSyncScheduler(config.Schedule{
		Enabled:     true,
		Process:     "*/2 * * * *",
		Maintenance: "0 3 * * *",
	}, Options{}, Jobs{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	next := s.NextRuns()
	assert.Len(t, next, 2)
	assert.Contains(t, next, JobProcess)
	assert.NotContains(t, next, JobRetryFailed)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.NextRuns())
}
