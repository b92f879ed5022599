package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"
)

// QueueDrainer runs one bounded drain of the outbound sync queue.
type QueueDrainer interface {
	Process(ctx context.Context, limit int) (int, error)
}

// FailedRetrier resets failed queue items back to pending.
type FailedRetrier interface {
	RetryFailed(ctx context.Context, siteID *uint) (int, error)
}

// ConflictCleaner purges resolved conflicts.
type ConflictCleaner interface {
	Cleanup(ctx context.Context, retainDays int) (int64, error)
}

// SitePinger checks that a peer is reachable and accepts our signature.
type SitePinger interface {
	PingSite(ctx context.Context, siteID uint) error
}

// SitePingerFunc adapts a function to SitePinger.
type SitePingerFunc func(ctx context.Context, siteID uint) error

func (f SitePingerFunc) PingSite(ctx context.Context, siteID uint) error {
	return f(ctx, siteID)
}

// ProcessSyncQueueTask drains the outbound queue on demand.
type ProcessSyncQueueTask struct {
	Limit int `json:"limit"`
}

func (t ProcessSyncQueueTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "process_sync_queue",
		MaxAttempts: 1,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

func ProcessSyncQueueProcessor(drainer QueueDrainer, log *zap.Logger) backlite.QueueProcessor[ProcessSyncQueueTask] {
	return func(ctx context.Context, task ProcessSyncQueueTask) error {
		if drainer == nil {
			return fmt.Errorf("queue processor not configured")
		}
		n, err := drainer.Process(ctx, task.Limit)
		if err != nil {
			return fmt.Errorf("process sync queue: %w", err)
		}
		log.Info("sync queue drained", zap.Int("processed", n))
		return nil
	}
}

func NewProcessSyncQueueQueue(drainer QueueDrainer, log *zap.Logger) backlite.Queue {
	return backlite.NewQueue(ProcessSyncQueueProcessor(drainer, log))
}

// RetryFailedSyncTask resets failed items, for one site or all of them.
type RetryFailedSyncTask struct {
	SiteID *uint `json:"site_id,omitempty"`
}

func (t RetryFailedSyncTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "retry_failed_sync",
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Timeout:     time.Minute,
		Retention: &backlite.Retention{
			Duration: 24 * time.Hour,
			Data:     &backlite.RetainData{OnlyFailed: true},
		},
	}
}

func RetryFailedSyncProcessor(retrier FailedRetrier, log *zap.Logger) backlite.QueueProcessor[RetryFailedSyncTask] {
	return func(ctx context.Context, task RetryFailedSyncTask) error {
		if retrier == nil {
			return fmt.Errorf("queue processor not configured")
		}
		n, err := retrier.RetryFailed(ctx, task.SiteID)
		if err != nil {
			return fmt.Errorf("retry failed sync: %w", err)
		}
		log.Info("failed sync items reset", zap.Int("count", n))
		return nil
	}
}

func NewRetryFailedSyncQueue(retrier FailedRetrier, log *zap.Logger) backlite.Queue {
	return backlite.NewQueue(RetryFailedSyncProcessor(retrier, log))
}

// CleanupSyncConflictsTask purges conflicts resolved more than RetainDays ago.
type CleanupSyncConflictsTask struct {
	RetainDays int `json:"retain_days"`
}

func (t CleanupSyncConflictsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_sync_conflicts",
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration: 24 * time.Hour,
			Data:     &backlite.RetainData{OnlyFailed: true},
		},
	}
}

func CleanupSyncConflictsProcessor(cleaner ConflictCleaner, log *zap.Logger) backlite.QueueProcessor[CleanupSyncConflictsTask] {
	return func(ctx context.Context, task CleanupSyncConflictsTask) error {
		if cleaner == nil {
			return fmt.Errorf("conflict resolver not configured")
		}
		n, err := cleaner.Cleanup(ctx, task.RetainDays)
		if err != nil {
			return fmt.Errorf("cleanup sync conflicts: %w", err)
		}
		log.Info("resolved conflicts purged", zap.Int64("count", n))
		return nil
	}
}

func NewCleanupSyncConflictsQueue(cleaner ConflictCleaner, log *zap.Logger) backlite.Queue {
	return backlite.NewQueue(CleanupSyncConflictsProcessor(cleaner, log))
}

// PingRemoteSiteTask checks one peer and records its health.
type PingRemoteSiteTask struct {
	SiteID uint `json:"site_id"`
}

func (t PingRemoteSiteTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "ping_remote_site",
		MaxAttempts: 2,
		Backoff:     time.Minute,
		Timeout:     time.Minute,
		Retention: &backlite.Retention{
			Duration: 6 * time.Hour,
			Data:     &backlite.RetainData{OnlyFailed: true},
		},
	}
}

func PingRemoteSiteProcessor(pinger SitePinger, log *zap.Logger) backlite.QueueProcessor[PingRemoteSiteTask] {
	return func(ctx context.Context, task PingRemoteSiteTask) error {
		if pinger == nil {
			return fmt.Errorf("health checker not configured")
		}
		if err := pinger.PingSite(ctx, task.SiteID); err != nil {
			return fmt.Errorf("ping site %d: %w", task.SiteID, err)
		}
		log.Info("remote site reachable", zap.Uint("site_id", task.SiteID))
		return nil
	}
}

func NewPingRemoteSiteQueue(pinger SitePinger, log *zap.Logger) backlite.Queue {
	return backlite.NewQueue(PingRemoteSiteProcessor(pinger, log))
}

// Handlers groups the collaborators of every sync task.
type Handlers struct {
	Drainer QueueDrainer
	Retrier FailedRetrier
	Cleaner ConflictCleaner
	Pinger  SitePinger
}

// RegisterSync registers every sync queue with the client.
func (c *Client) RegisterSync(h Handlers) {
	c.Register(
		NewProcessSyncQueueQueue(h.Drainer, c.log),
		NewRetryFailedSyncQueue(h.Retrier, c.log),
		NewCleanupSyncConflictsQueue(h.Cleaner, c.log),
		NewPingRemoteSiteQueue(h.Pinger, c.log),
	)
}
