// Package queue persists the outbound sync work queue.
//
// Item lifecycle:
//
//	pending -> processing -> completed
//	pending -> processing -> pending   (retry with backoff)
//	pending -> processing -> failed    (retries exhausted or permanent error)
//	processing -> pending | failed     (lease expired; failed once attempts are used up)
//
// At most one pending item exists per (site, domain, object); Enqueue
// coalesces into it. Transitions out of pending go through Claim, a
// compare-and-swap guarded by a lease token so overlapping drains cannot
// both send the same item.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/sitesync/internal/entities"
)

const DefaultMaxAttempts = 5

var ErrItemNotFound = errors.New("queue item not found")

// Stats counts queue items by status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Repository handles all queue database operations.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a pending item, or updates the action, payload and
// priority of the existing pending item for the same object.
func (r *Repository) Enqueue(ctx context.Context, item *entities.QueueItem) (*entities.QueueItem, error) {
	if !item.Action.Valid() || !item.Domain.Valid() {
		return nil, fmt.Errorf("invalid queue item: action=%q domain=%q", item.Action, item.Domain)
	}

	now := time.Now()
	row := *item
	row.ID = 0
	row.Status = entities.QueueStatusPending
	row.Attempts = 0
	if row.MaxAttempts <= 0 {
		row.MaxAttempts = DefaultMaxAttempts
	}
	if row.ScheduledAt.IsZero() {
		row.ScheduledAt = now
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "site_id"}, {Name: "domain"}, {Name: "object_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'pending'"}}},
		DoUpdates:   clause.AssignmentColumns([]string{"action", "payload", "priority", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s %d: %w", row.Domain, row.ObjectID, err)
	}

	return r.FindPending(ctx, row.SiteID, row.Domain, row.ObjectID)
}

// FindPending returns the pending item for an object, if any.
func (r *Repository) FindPending(ctx context.Context, siteID uint, domain entities.Domain, objectID uint) (*entities.QueueItem, error) {
	var item entities.QueueItem
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND domain = ? AND object_id = ? AND status = ?", siteID, domain, objectID, entities.QueueStatusPending).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) Get(ctx context.Context, id uint) (*entities.QueueItem, error) {
	var item entities.QueueItem
	err := r.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListReady returns up to limit pending items due at now, most urgent first.
// Ties on priority are broken by schedule time, then insertion order.
func (r *Repository) ListReady(ctx context.Context, limit int, now time.Time) ([]entities.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []entities.QueueItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ? AND attempts < max_attempts", entities.QueueStatusPending, now).
		Order("priority ASC, scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Claim moves a pending item to processing and increments its attempts.
// It returns false when another worker claimed the item first.
func (r *Repository) Claim(ctx context.Context, id uint, token string, leaseUntil time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entities.QueueItem{}).
		Where("id = ? AND status = ?", id, entities.QueueStatusPending).
		Updates(map[string]any{
			"status":           entities.QueueStatusProcessing,
			"attempts":         gorm.Expr("attempts + 1"),
			"lease_token":      token,
			"lease_expires_at": leaseUntil,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete marks a claimed item as sent.
func (r *Repository) Complete(ctx context.Context, id uint, token string, now time.Time) error {
	return r.finish(ctx, id, token, map[string]any{
		"status":        entities.QueueStatusCompleted,
		"processed_at":  now,
		"error_message": "",
	})
}

// Fail marks a claimed item as permanently failed.
func (r *Repository) Fail(ctx context.Context, id uint, token string, msg string) error {
	return r.finish(ctx, id, token, map[string]any{
		"status":        entities.QueueStatusFailed,
		"error_message": msg,
	})
}

// Reschedule returns a claimed item to pending, due at the given time.
// If a newer pending item for the same object was enqueued meanwhile, the
// claimed item is superseded and removed; superseded reports this.
func (r *Repository) Reschedule(ctx context.Context, id uint, token string, at time.Time, msg string) (superseded bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item entities.QueueItem
		if err := tx.Where("id = ? AND lease_token = ?", id, token).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		superseded, err = returnToPending(tx, &item, at, msg)
		return err
	})
	return superseded, err
}

// ReleaseStale frees processing items whose lease expired before now. Items
// with attempts left return to pending; the rest fail, since Claim already
// counted the interrupted attempt. It returns how many leases were freed.
func (r *Repository) ReleaseStale(ctx context.Context, now time.Time) (int, error) {
	released := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []entities.QueueItem
		err := tx.Where("status = ? AND lease_expires_at < ?", entities.QueueStatusProcessing, now).
			Order("id ASC").Find(&stale).Error
		if err != nil {
			return err
		}
		for i := range stale {
			item := &stale[i]
			var err error
			if item.Attempts >= item.MaxAttempts {
				_, err = expire(tx, item, "lease expired during the last allowed attempt")
			} else {
				_, err = returnToPending(tx, item, now, "lease expired before the item finished processing")
			}
			if err != nil {
				return err
			}
			released++
		}
		return nil
	})
	return released, err
}

// RetryFailed resets failed items to pending with zero attempts.
// Only the newest failed item per object is reset, and none where a pending item already exists.
func (r *Repository) RetryFailed(ctx context.Context, siteID *uint) (int, error) {
	reset := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ?", entities.QueueStatusFailed).Order("id DESC")
		if siteID != nil {
			query = query.Where("site_id = ?", *siteID)
		}
		var failed []entities.QueueItem
		if err := query.Find(&failed).Error; err != nil {
			return err
		}

		seen := make(map[string]bool)
		now := time.Now()
		for _, item := range failed {
			key := objectKey(&item)
			if seen[key] {
				continue
			}
			seen[key] = true

			exists, err := hasPendingSibling(tx, &item)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			err = tx.Model(&entities.QueueItem{}).Where("id = ?", item.ID).Updates(map[string]any{
				"status":        entities.QueueStatusPending,
				"attempts":      0,
				"scheduled_at":  now,
				"error_message": "",
				"updated_at":    now,
			}).Error
			if err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	return reset, err
}

// Purge deletes completed items processed before completedBefore and
// failed items last touched before failedBefore.
func (r *Repository) Purge(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	completed := db.Where("status = ? AND processed_at < ?", entities.QueueStatusCompleted, completedBefore).
		Delete(&entities.QueueItem{})
	if completed.Error != nil {
		return 0, completed.Error
	}
	failed := db.Where("status = ? AND updated_at < ?", entities.QueueStatusFailed, failedBefore).
		Delete(&entities.QueueItem{})
	if failed.Error != nil {
		return completed.RowsAffected, failed.Error
	}
	return completed.RowsAffected + failed.RowsAffected, nil
}

// ListFailed returns failed items, newest first.
func (r *Repository) ListFailed(ctx context.Context, siteID *uint, limit int) ([]entities.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Where("status = ?", entities.QueueStatusFailed)
	if siteID != nil {
		query = query.Where("site_id = ?", *siteID)
	}
	var items []entities.QueueItem
	err := query.Order("updated_at DESC, id DESC").Limit(limit).Find(&items).Error
	return items, err
}

// Stats counts items per status, optionally for one site.
func (r *Repository) Stats(ctx context.Context, siteID *uint) (Stats, error) {
	type row struct {
		Status entities.QueueStatus
		Count  int64
	}
	var rows []row
	query := r.db.WithContext(ctx).Model(&entities.QueueItem{}).Select("status, COUNT(*) AS count").Group("status")
	if siteID != nil {
		query = query.Where("site_id = ?", *siteID)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, r := range rows {
		switch r.Status {
		case entities.QueueStatusPending:
			stats.Pending = r.Count
		case entities.QueueStatusProcessing:
			stats.Processing = r.Count
		case entities.QueueStatusCompleted:
			stats.Completed = r.Count
		case entities.QueueStatusFailed:
			stats.Failed = r.Count
		}
	}
	return stats, nil
}

func (r *Repository) finish(ctx context.Context, id uint, token string, values map[string]any) error {
	values["lease_token"] = ""
	values["lease_expires_at"] = nil
	values["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&entities.QueueItem{}).
		Where("id = ? AND lease_token = ?", id, token).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

func returnToPending(tx *gorm.DB, item *entities.QueueItem, at time.Time, msg string) (bool, error) {
	exists, err := hasPendingSibling(tx, item)
	if err != nil {
		return false, err
	}
	if exists {
		return true, tx.Delete(&entities.QueueItem{}, item.ID).Error
	}
	return false, tx.Model(&entities.QueueItem{}).Where("id = ?", item.ID).Updates(map[string]any{
		"status":           entities.QueueStatusPending,
		"scheduled_at":     at,
		"error_message":    msg,
		"lease_token":      "",
		"lease_expires_at": nil,
		"updated_at":       time.Now(),
	}).Error
}

// expire fails an item whose attempts are used up. A newer pending item for
// the same object carries the latest state, so the old one is dropped instead.
func expire(tx *gorm.DB, item *entities.QueueItem, msg string) (bool, error) {
	exists, err := hasPendingSibling(tx, item)
	if err != nil {
		return false, err
	}
	if exists {
		return true, tx.Delete(&entities.QueueItem{}, item.ID).Error
	}
	return false, tx.Model(&entities.QueueItem{}).Where("id = ?", item.ID).Updates(map[string]any{
		"status":           entities.QueueStatusFailed,
		"error_message":    msg,
		"lease_token":      "",
		"lease_expires_at": nil,
		"updated_at":       time.Now(),
	}).Error
}

func hasPendingSibling(tx *gorm.DB, item *entities.QueueItem) (bool, error) {
	var count int64
	err := tx.Model(&entities.QueueItem{}).
		Where("site_id = ? AND domain = ? AND object_id = ? AND status = ? AND id <> ?",
			item.SiteID, item.Domain, item.ObjectID, entities.QueueStatusPending, item.ID).
		Count(&count).Error
	return count > 0, err
}

func objectKey(item *entities.QueueItem) string {
	return fmt.Sprintf("%d|%s|%d", item.SiteID, item.Domain, item.ObjectID)
}
