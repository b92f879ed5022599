// Package scheduler runs the periodic sync jobs: queue drains, daily
// maintenance, peer health pings and, optionally, retries of failed items.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/config"
	"github.com/mrlokans/sitesync/internal/logger"
)

const (
	JobProcess     = "process"
	JobMaintenance = "maintenance"
	JobHealthCheck = "health_check"
	JobRetryFailed = "retry_failed"

	jobTimeout = 10 * time.Minute
)

var (
	ErrUnknownJob    = errors.New("unknown scheduled job")
	ErrJobInProgress = errors.New("job already in progress")
)

type (
	QueueDrainer interface {
		Process(ctx context.Context, limit int) (int, error)
	}
	FailedRetrier interface {
		RetryFailed(ctx context.Context, siteID *uint) (int, error)
	}
	ConflictCleaner interface {
		Cleanup(ctx context.Context, retainDays int) (int64, error)
	}
	LogPruner interface {
		DeleteOld(ctx context.Context, olderThan time.Time) (int64, error)
	}
	LeaseReleaser interface {
		ReleaseStale(ctx context.Context, now time.Time) (int, error)
	}
	HealthPinger interface {
		PingAll(ctx context.Context) (healthy, failed int, err error)
	}
)

// Jobs are the collaborators the scheduled jobs call. Nil members disable
// the part of a job that needs them.
type Jobs struct {
	Drainer QueueDrainer
	Retrier FailedRetrier
	Cleaner ConflictCleaner
	Logs    LogPruner
	Leases  LeaseReleaser
	Pinger  HealthPinger
}

type Options struct {
	BatchSize             int
	ConflictRetentionDays int
	LogRetention          time.Duration
}

// SyncScheduler owns one cron instance with an entry per enabled job.
// A job that is still running when its next tick fires is skipped.
type SyncScheduler struct {
	schedule config.Schedule
	opts     Options
	jobs     Jobs
	log      *zap.Logger

	cron      *cron.Cron
	entries   map[string]cron.EntryID
	mu        sync.RWMutex
	isRunning bool
	active    map[string]bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewSyncScheduler(schedule config.Schedule, opts Options, jobs Jobs, log *zap.Logger) *SyncScheduler {
	return &SyncScheduler{
		schedule: schedule,
		opts:     opts,
		jobs:     jobs,
		log:      logger.OrNop(log).Named("scheduler"),
		cron:     cron.New(cron.WithParser(parser)),
		entries:  make(map[string]cron.EntryID),
		active:   make(map[string]bool),
	}
}

func (s *SyncScheduler) schedules() map[string]string {
	return map[string]string{
		JobProcess:     s.schedule.Process,
		JobMaintenance: s.schedule.Maintenance,
		JobHealthCheck: s.schedule.HealthCheck,
		JobRetryFailed: s.schedule.RetryFailed,
	}
}

// Start registers every job with a non-empty schedule and starts cron.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if !s.schedule.Enabled {
		s.log.Info("sync scheduler disabled")
		return nil
	}

	for name, spec := range s.schedules() {
		if spec == "" {
			continue
		}
		if err := ValidateCronSchedule(spec); err != nil {
			return fmt.Errorf("invalid cron schedule '%s' for %s: %w", spec, name, err)
		}
		job := name
		id, err := s.cron.AddFunc(spec, func() {
			if err := s.run(job); err != nil && !errors.Is(err, ErrJobInProgress) {
				s.log.Error("scheduled job failed", zap.String("job", job), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		s.entries[name] = id
		s.log.Info("job scheduled",
			zap.String("job", name),
			zap.String("schedule", spec),
			zap.String("description", GetCronDescription(spec)),
		)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.isRunning = true

	go func(done <-chan struct{}) {
		<-done
		s.Stop()
	}(s.ctx.Done())

	return nil
}

// Stop waits for running jobs to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	stopped := s.cron.Stop()
	<-stopped.Done()
	cancel()

	s.mu.Lock()
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	s.mu.Unlock()
	s.log.Info("sync scheduler stopped")
}

func (s *SyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// IsActive reports whether the named job is executing right now.
func (s *SyncScheduler) IsActive(job string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[job]
}

// NextRuns returns the next fire time of each scheduled job.
func (s *SyncScheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		next[name] = s.cron.Entry(id).Next
	}
	return next
}

// RunNow executes a job synchronously, honouring the overlap guard.
func (s *SyncScheduler) RunNow(job string) error {
	return s.run(job)
}

func (s *SyncScheduler) run(job string) error {
	fn, ok := map[string]func(context.Context) error{
		JobProcess:     s.process,
		JobMaintenance: s.maintenance,
		JobHealthCheck: s.healthCheck,
		JobRetryFailed: s.retryFailed,
	}[job]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	s.mu.Lock()
	if s.active[job] {
		s.mu.Unlock()
		s.log.Info("job skipped, previous run still in progress", zap.String("job", job))
		return ErrJobInProgress
	}
	s.active[job] = true
	parent := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, job)
		s.mu.Unlock()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.log.Debug("job finished", zap.String("job", job), zap.Duration("took", time.Since(start)), zap.Error(err))
	return err
}

func (s *SyncScheduler) process(ctx context.Context) error {
	if s.jobs.Drainer == nil {
		return nil
	}
	_, err := s.jobs.Drainer.Process(ctx, s.opts.BatchSize)
	return err
}

func (s *SyncScheduler) maintenance(ctx context.Context) error {
	var errs []error
	if s.jobs.Cleaner != nil {
		if _, err := s.jobs.Cleaner.Cleanup(ctx, s.opts.ConflictRetentionDays); err != nil {
			errs = append(errs, err)
		}
	}
	if s.jobs.Leases != nil {
		n, err := s.jobs.Leases.ReleaseStale(ctx, time.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to release stale leases: %w", err))
		} else if n > 0 {
			s.log.Info("stale queue leases released", zap.Int("count", n))
		}
	}
	if s.jobs.Logs != nil && s.opts.LogRetention > 0 {
		n, err := s.jobs.Logs.DeleteOld(ctx, time.Now().Add(-s.opts.LogRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to prune transport log: %w", err))
		} else if n > 0 {
			s.log.Info("transport log pruned", zap.Int64("count", n))
		}
	}
	return errors.Join(errs...)
}

func (s *SyncScheduler) healthCheck(ctx context.Context) error {
	if s.jobs.Pinger == nil {
		return nil
	}
	healthy, failed, err := s.jobs.Pinger.PingAll(ctx)
	if err != nil {
		return err
	}
	s.log.Info("peer health checked", zap.Int("healthy", healthy), zap.Int("failed", failed))
	return nil
}

func (s *SyncScheduler) retryFailed(ctx context.Context) error {
	if s.jobs.Retrier == nil {
		return nil
	}
	_, err := s.jobs.Retrier.RetryFailed(ctx, nil)
	return err
}
