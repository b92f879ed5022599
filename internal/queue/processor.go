// Package queue drains the outbound sync queue.
//
// Each Process call is a bounded, synchronous drain: it claims ready items
// in (priority, scheduled_at) order, pushes each one through the adapter for
// its domain and records the outcome. Failed pushes are retried with
// exponential backoff until max_attempts, then marked failed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/database/sites"
	syncrepo "github.com/mrlokans/sitesync/internal/database/sync"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/metrics"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/transport"
)

const (
	DefaultBatchSize          = 50
	DefaultLeaseDuration      = 15 * time.Minute
	DefaultCompletedRetention = 24 * time.Hour
	DefaultFailedRetention    = 7 * 24 * time.Hour

	maxBackoffExponent = 16
)

// Pusher sends one queued item to a peer.
type Pusher interface {
	Push(ctx context.Context, site *entities.RemoteSite, item *entities.QueueItem) error
}

// Summary counts the outcomes of one drain cycle.
type Summary struct {
	Processed int   `json:"processed"`
	Completed int   `json:"completed"`
	Retried   int   `json:"retried"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Released  int   `json:"released"`
	Purged    int64 `json:"purged"`
}

type Processor struct {
	items    *dbqueue.Repository
	sites    *sites.Repository
	pushers  map[entities.Domain]Pusher
	progress *syncrepo.Repository
	logger   *zap.Logger
	now      func() time.Time

	leaseDuration      time.Duration
	completedRetention time.Duration
	failedRetention    time.Duration
}

type Option func(*Processor)

func WithLeaseDuration(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.leaseDuration = d
		}
	}
}

func WithRetention(completed, failed time.Duration) Option {
	return func(p *Processor) {
		if completed > 0 {
			p.completedRetention = completed
		}
		if failed > 0 {
			p.failedRetention = failed
		}
	}
}

// WithProgress records each drain in the sync progress table.
func WithProgress(repo *syncrepo.Repository) Option {
	return func(p *Processor) {
		p.progress = repo
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(items *dbqueue.Repository, siteRepo *sites.Repository, pushers map[entities.Domain]Pusher, log *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		items:              items,
		sites:              siteRepo,
		pushers:            pushers,
		logger:             logger.OrNop(log),
		now:                time.Now,
		leaseDuration:      DefaultLeaseDuration,
		completedRetention: DefaultCompletedRetention,
		failedRetention:    DefaultFailedRetention,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backoff returns the delay before the next attempt: 2^attempts minutes.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffExponent {
		attempts = maxBackoffExponent
	}
	return time.Duration(1<<uint(attempts)) * time.Minute
}

// Process drains up to limit ready items and returns how many were attempted.
func (p *Processor) Process(ctx context.Context, limit int) (int, error) {
	summary, err := p.Run(ctx, limit)
	return summary.Processed, err
}

// Run drains up to limit ready items and reports the outcome of each.
// Persistence errors abort the cycle; push errors only affect their item.
func (p *Processor) Run(ctx context.Context, limit int) (Summary, error) {
	var summary Summary
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	start := time.Now()
	defer func() {
		metrics.QueueDrainDuration.Observe(time.Since(start).Seconds())
	}()

	released, err := p.items.ReleaseStale(ctx, p.now())
	if err != nil {
		return summary, fmt.Errorf("failed to release stale items: %w", err)
	}
	summary.Released = released

	ready, err := p.items.ListReady(ctx, limit, p.now())
	if err != nil {
		return summary, fmt.Errorf("failed to list ready items: %w", err)
	}
	p.startProgress(ctx, len(ready))

	siteCache := make(map[uint]*entities.RemoteSite)
	for i := range ready {
		if err := ctx.Err(); err != nil {
			p.finishProgress(ctx, summary, err)
			return summary, err
		}

		if err := p.processItem(ctx, &ready[i], siteCache, &summary); err != nil {
			p.finishProgress(ctx, summary, err)
			return summary, err
		}
		p.updateProgress(ctx, summary, &ready[i])
	}

	now := p.now()
	purged, err := p.items.Purge(ctx, now.Add(-p.completedRetention), now.Add(-p.failedRetention))
	if err != nil {
		p.finishProgress(ctx, summary, err)
		return summary, fmt.Errorf("failed to purge queue: %w", err)
	}
	summary.Purged = purged
	p.finishProgress(ctx, summary, nil)

	if summary.Processed > 0 || summary.Released > 0 {
		p.logger.Info("queue drain finished",
			zap.Int("processed", summary.Processed),
			zap.Int("completed", summary.Completed),
			zap.Int("retried", summary.Retried),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("released", summary.Released),
			zap.Int64("purged", summary.Purged),
		)
	}
	return summary, nil
}

func (p *Processor) processItem(ctx context.Context, item *entities.QueueItem, siteCache map[uint]*entities.RemoteSite, summary *Summary) error {
	token := uuid.NewString()
	claimed, err := p.items.Claim(ctx, item.ID, token, p.now().Add(p.leaseDuration))
	if err != nil {
		return fmt.Errorf("failed to claim item %d: %w", item.ID, err)
	}
	if !claimed {
		summary.Skipped++
		metrics.QueueItemsProcessed.WithLabelValues(string(item.Domain), metrics.OutcomeSkipped).Inc()
		return nil
	}
	item.Attempts++
	summary.Processed++

	log := p.logger.With(
		zap.Uint("item_id", item.ID),
		zap.Uint("site_id", item.SiteID),
		zap.String("domain", string(item.Domain)),
		zap.String("action", string(item.Action)),
		zap.Uint("object_id", item.ObjectID),
		zap.Int("attempt", item.Attempts),
	)

	site, err := p.site(ctx, item.SiteID, siteCache)
	if errors.Is(err, sites.ErrSiteNotFound) {
		return p.fail(ctx, item, token, "remote site no longer exists", summary, log)
	}
	if err != nil {
		return err
	}
	if site.Status == entities.SiteStatusDisabled || !site.Direction.AllowsOutbound() {
		return p.fail(ctx, item, token, "remote site no longer accepts outbound changes", summary, log)
	}

	pusher, ok := p.pushers[item.Domain]
	if !ok {
		return p.fail(ctx, item, token, fmt.Sprintf("no adapter for domain %q", item.Domain), summary, log)
	}

	pushErr := pusher.Push(ctx, site, item)
	if pushErr == nil {
		return p.complete(ctx, item, token, site, summary, log)
	}

	if setErr := p.sites.SetLastError(ctx, site.ID, pushErr.Error()); setErr != nil {
		log.Warn("failed to record site error", zap.Error(setErr))
	}

	if item.Attempts >= item.MaxAttempts || transport.IsPermanent(pushErr) || syncer.IsValidation(pushErr) {
		return p.fail(ctx, item, token, pushErr.Error(), summary, log)
	}
	return p.retry(ctx, item, token, pushErr, summary, log)
}

func (p *Processor) complete(ctx context.Context, item *entities.QueueItem, token string, site *entities.RemoteSite, summary *Summary, log *zap.Logger) error {
	err := p.items.Complete(ctx, item.ID, token, p.now())
	if errors.Is(err, dbqueue.ErrItemNotFound) {
		log.Warn("lease lost before completion")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to complete item %d: %w", item.ID, err)
	}
	summary.Completed++
	metrics.QueueItemsProcessed.WithLabelValues(string(item.Domain), metrics.OutcomeCompleted).Inc()

	if site.Status == entities.SiteStatusError {
		if err := p.sites.MarkStatus(ctx, site.ID, entities.SiteStatusActive, ""); err != nil {
			log.Warn("failed to reactivate site", zap.Error(err))
		}
		site.Status = entities.SiteStatusActive
	}
	if err := p.sites.MarkLastSync(ctx, site.ID); err != nil {
		log.Warn("failed to record last sync", zap.Error(err))
	}
	log.Debug("queue item sent")
	return nil
}

func (p *Processor) retry(ctx context.Context, item *entities.QueueItem, token string, cause error, summary *Summary, log *zap.Logger) error {
	delay := Backoff(item.Attempts)
	superseded, err := p.items.Reschedule(ctx, item.ID, token, p.now().Add(delay), cause.Error())
	if errors.Is(err, dbqueue.ErrItemNotFound) {
		log.Warn("lease lost before reschedule")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reschedule item %d: %w", item.ID, err)
	}
	summary.Retried++
	metrics.QueueItemsProcessed.WithLabelValues(string(item.Domain), metrics.OutcomeRetried).Inc()
	log.Warn("queue item failed, will retry",
		zap.Duration("backoff", delay),
		zap.Bool("superseded", superseded),
		zap.Error(cause),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, item *entities.QueueItem, token, msg string, summary *Summary, log *zap.Logger) error {
	err := p.items.Fail(ctx, item.ID, token, msg)
	if errors.Is(err, dbqueue.ErrItemNotFound) {
		log.Warn("lease lost before failure was recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark item %d failed: %w", item.ID, err)
	}
	summary.Failed++
	metrics.QueueItemsProcessed.WithLabelValues(string(item.Domain), metrics.OutcomeFailed).Inc()
	log.Error("queue item failed permanently", zap.String("error", msg))
	return nil
}

func (p *Processor) site(ctx context.Context, id uint, cache map[uint]*entities.RemoteSite) (*entities.RemoteSite, error) {
	if site, ok := cache[id]; ok {
		return site, nil
	}
	site, err := p.sites.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = site
	return site, nil
}

// RetryFailed resets failed items, optionally for one site, back to pending.
func (p *Processor) RetryFailed(ctx context.Context, siteID *uint) (int, error) {
	count, err := p.items.RetryFailed(ctx, siteID)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed items: %w", err)
	}
	if count > 0 {
		fields := []zap.Field{zap.Int("count", count)}
		if siteID != nil {
			fields = append(fields, zap.Uint("site_id", *siteID))
		}
		p.logger.Info("failed queue items reset to pending", fields...)
	}
	return count, nil
}

func (p *Processor) startProgress(ctx context.Context, total int) {
	if p.progress == nil {
		return
	}
	if err := p.progress.StartSync(ctx, total); err != nil {
		p.logger.Warn("failed to record drain start", zap.Error(err))
	}
}

func (p *Processor) updateProgress(ctx context.Context, s Summary, item *entities.QueueItem) {
	if p.progress == nil {
		return
	}
	current := fmt.Sprintf("%s #%d", item.Domain, item.ObjectID)
	if err := p.progress.UpdateProgress(ctx, s.Processed, s.Completed, s.Failed+s.Retried, s.Skipped, current); err != nil {
		p.logger.Warn("failed to record drain progress", zap.Error(err))
	}
}

func (p *Processor) finishProgress(ctx context.Context, s Summary, cause error) {
	if p.progress == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.progress.CompleteSync(context.WithoutCancel(ctx), cause == nil, msg); err != nil {
		p.logger.Warn("failed to record drain completion", zap.Error(err))
	}
}
