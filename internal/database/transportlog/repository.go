package transportlog

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/sitesync/internal/entities"
)

// Filter narrows a log listing. Zero values match everything.
type Filter struct {
	SiteID    uint
	Direction entities.LogDirection
	Status    entities.LogStatus
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Begin saves an entry in pending state before the request is made.
func (r *Repository) Begin(ctx context.Context, entry *entities.TransportLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.Status = entities.LogStatusPending
	return r.db.WithContext(ctx).Create(entry).Error
}

// Finish records the outcome of a pending entry.
func (r *Repository) Finish(ctx context.Context, entry *entities.TransportLogEntry) error {
	if entry.ID == 0 {
		return r.db.WithContext(ctx).Create(entry).Error
	}
	return r.db.WithContext(ctx).Model(&entities.TransportLogEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"status":      entry.Status,
			"http_status": entry.HTTPStatus,
			"response":    entry.Response,
			"error":       entry.Error,
			"duration_ms": entry.DurationMS,
			"updated_at":  time.Now(),
		}).Error
}

// List retrieves paginated entries, most recent first.
func (r *Repository) List(ctx context.Context, f Filter, limit, offset int) ([]entities.TransportLogEntry, int64, error) {
	var entries []entities.TransportLogEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&entities.TransportLogEntry{})
	if f.SiteID > 0 {
		query = query.Where("site_id = ?", f.SiteID)
	}
	if f.Direction != "" {
		query = query.Where("direction = ?", f.Direction)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, total, err
}

// DeleteOld removes entries older than the specified time.
// Returns the number of deleted entries.
func (r *Repository) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&entities.TransportLogEntry{})
	return result.RowsAffected, result.Error
}
