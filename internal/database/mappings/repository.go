// Package mappings stores the correspondence between local records and
// their counterparts on peer sites.
package mappings

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/sitesync/internal/entities"
)

var ErrMappingNotFound = errors.New("mapping not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert records that localID corresponds to remoteID on the given site.
// An existing row for the same local id is replaced; a stale row claiming the
// same remote id for a different local record is removed first.
func (r *Repository) Upsert(ctx context.Context, m *entities.Mapping) error {
	if m.LastSynced.IsZero() {
		m.LastSynced = time.Now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("site_id = ? AND domain = ? AND remote_id = ? AND local_id <> ?",
			m.SiteID, m.Domain, m.RemoteID, m.LocalID).
			Delete(&entities.Mapping{}).Error
		if err != nil {
			return err
		}

		row := *m
		row.ID = 0
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}, {Name: "domain"}, {Name: "local_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"remote_id", "content_hash", "last_synced"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		var saved entities.Mapping
		if err := tx.Where("site_id = ? AND domain = ? AND local_id = ?", m.SiteID, m.Domain, m.LocalID).
			First(&saved).Error; err != nil {
			return err
		}
		*m = saved
		return nil
	})
}

func (r *Repository) GetByLocal(ctx context.Context, siteID uint, domain entities.Domain, localID uint) (*entities.Mapping, error) {
	return r.first(ctx, "site_id = ? AND domain = ? AND local_id = ?", siteID, domain, localID)
}

func (r *Repository) GetByRemote(ctx context.Context, siteID uint, domain entities.Domain, remoteID uint) (*entities.Mapping, error) {
	return r.first(ctx, "site_id = ? AND domain = ? AND remote_id = ?", siteID, domain, remoteID)
}

// ListByLocal returns the mappings of a local record across all sites.
func (r *Repository) ListByLocal(ctx context.Context, domain entities.Domain, localID uint) ([]entities.Mapping, error) {
	var rows []entities.Mapping
	err := r.db.WithContext(ctx).Where("domain = ? AND local_id = ?", domain, localID).
		Order("site_id ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) Delete(ctx context.Context, siteID uint, domain entities.Domain, localID uint) error {
	return r.db.WithContext(ctx).
		Where("site_id = ? AND domain = ? AND local_id = ?", siteID, domain, localID).
		Delete(&entities.Mapping{}).Error
}

func (r *Repository) DeleteBySite(ctx context.Context, siteID uint) (int64, error) {
	result := r.db.WithContext(ctx).Where("site_id = ?", siteID).Delete(&entities.Mapping{})
	return result.RowsAffected, result.Error
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (*entities.Mapping, error) {
	var m entities.Mapping
	err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
