// Package conflicts persists divergences detected while applying inbound changes.
package conflicts

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/sitesync/internal/entities"
)

var (
	ErrConflictNotFound = errors.New("conflict not found")
	ErrAlreadyResolved  = errors.New("conflict already resolved")
)

// Stats summarizes conflicts for operators.
type Stats struct {
	Pending       int64                           `json:"pending"`
	PendingByType map[entities.ConflictType]int64 `json:"pending_by_type"`
	ResolvedBy    map[entities.Resolution]int64   `json:"resolved_by_resolution"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, c *entities.ConflictRecord) error {
	c.Resolution = nil
	c.ResolvedAt = nil
	c.ResolvedBy = ""
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) Get(ctx context.Context, id uint) (*entities.ConflictRecord, error) {
	var c entities.ConflictRecord
	err := r.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListPending returns unresolved conflicts, oldest first.
func (r *Repository) ListPending(ctx context.Context, siteID *uint) ([]entities.ConflictRecord, error) {
	query := r.db.WithContext(ctx).Where("resolution IS NULL")
	if siteID != nil {
		query = query.Where("site_id = ?", *siteID)
	}
	var rows []entities.ConflictRecord
	err := query.Order("created_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// ClaimResolution records a resolution only if none exists yet.
func (r *Repository) ClaimResolution(ctx context.Context, id uint, res entities.Resolution, resolvedBy string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.ConflictRecord{}).
		Where("id = ? AND resolution IS NULL", id).
		Updates(map[string]any{
			"resolution":  res,
			"resolved_at": at,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyResolved
}

// ReleaseResolution undoes a claim whose application failed.
func (r *Repository) ReleaseResolution(ctx context.Context, id uint, res entities.Resolution) error {
	return r.db.WithContext(ctx).Model(&entities.ConflictRecord{}).
		Where("id = ? AND resolution = ?", id, res).
		Updates(map[string]any{
			"resolution":  nil,
			"resolved_at": nil,
			"resolved_by": "",
		}).Error
}

// DeleteResolvedBefore purges resolved conflicts older than cutoff.
func (r *Repository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("resolution IS NOT NULL AND resolved_at < ?", cutoff).
		Delete(&entities.ConflictRecord{})
	return result.RowsAffected, result.Error
}

func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		PendingByType: make(map[entities.ConflictType]int64),
		ResolvedBy:    make(map[entities.Resolution]int64),
	}

	var pending []struct {
		ConflictType entities.ConflictType
		Count        int64
	}
	err := r.db.WithContext(ctx).Model(&entities.ConflictRecord{}).
		Select("conflict_type, COUNT(*) AS count").
		Where("resolution IS NULL").
		Group("conflict_type").
		Scan(&pending).Error
	if err != nil {
		return stats, err
	}
	for _, p := range pending {
		stats.PendingByType[p.ConflictType] = p.Count
		stats.Pending += p.Count
	}

	var resolved []struct {
		Resolution entities.Resolution
		Count      int64
	}
	err = r.db.WithContext(ctx).Model(&entities.ConflictRecord{}).
		Select("resolution, COUNT(*) AS count").
		Where("resolution IS NOT NULL").
		Group("resolution").
		Scan(&resolved).Error
	if err != nil {
		return stats, err
	}
	for _, r := range resolved {
		stats.ResolvedBy[r.Resolution] = r.Count
	}
	return stats, nil
}
