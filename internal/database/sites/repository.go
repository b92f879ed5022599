// Package sites stores the registry of remote peer installations.
//
// Deleting a site cascades to its queue items, mappings, conflicts and
// transport logs. API secrets are sealed with a crypto.SecretBox when one
// is configured.
package sites

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/sitesync/internal/crypto"
	"github.com/mrlokans/sitesync/internal/entities"
)

var (
	ErrSiteNotFound = errors.New("remote site not found")
	ErrDuplicateURL = errors.New("a remote site with this URL already exists")
	ErrInvalidSite  = errors.New("invalid remote site")
)

// Repository handles all remote site database operations.
type Repository struct {
	db  *gorm.DB
	box *crypto.SecretBox
}

// NewRepository creates a site repository. box may be nil to store secrets as plaintext.
func NewRepository(db *gorm.DB, box *crypto.SecretBox) *Repository {
	return &Repository{db: db, box: box}
}

// NormalizeURL trims whitespace and trailing slashes and lower-cases scheme and host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: base URL is required", ErrInvalidSite)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: base URL %q is not absolute", ErrInvalidSite, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSite, u.Scheme)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// List returns all sites, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status *entities.SiteStatus) ([]entities.RemoteSite, error) {
	var sites []entities.RemoteSite
	query := r.db.WithContext(ctx).Order("name ASC, id ASC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if err := query.Find(&sites).Error; err != nil {
		return nil, err
	}
	for i := range sites {
		if err := r.open(&sites[i]); err != nil {
			return nil, err
		}
	}
	return sites, nil
}

// ListEligible returns active sites that accept outbound changes for domain.
func (r *Repository) ListEligible(ctx context.Context, domain entities.Domain) ([]entities.RemoteSite, error) {
	status := entities.SiteStatusActive
	sites, err := r.List(ctx, &status)
	if err != nil {
		return nil, err
	}
	eligible := sites[:0]
	for _, s := range sites {
		if s.Direction.AllowsOutbound() && s.SyncsDomain(domain) {
			eligible = append(eligible, s)
		}
	}
	return eligible, nil
}

func (r *Repository) Get(ctx context.Context, id uint) (*entities.RemoteSite, error) {
	var site entities.RemoteSite
	if err := r.db.WithContext(ctx).First(&site, id).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.open(&site); err != nil {
		return nil, err
	}
	return &site, nil
}

// GetByURL looks up a site by its base URL after normalization.
func (r *Repository) GetByURL(ctx context.Context, rawURL string) (*entities.RemoteSite, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, ErrSiteNotFound
	}
	var site entities.RemoteSite
	if err := r.db.WithContext(ctx).Where("base_url = ?", normalized).First(&site).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.open(&site); err != nil {
		return nil, err
	}
	return &site, nil
}

// GetByAPIKey looks up the site owning an API key, used to verify inbound signatures.
func (r *Repository) GetByAPIKey(ctx context.Context, apiKey string) (*entities.RemoteSite, error) {
	if apiKey == "" {
		return nil, ErrSiteNotFound
	}
	var site entities.RemoteSite
	if err := r.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&site).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.open(&site); err != nil {
		return nil, err
	}
	return &site, nil
}

// Save creates the site when ID is zero and updates it otherwise.
// The URL is normalized in place; a URL owned by another site yields ErrDuplicateURL.
func (r *Repository) Save(ctx context.Context, site *entities.RemoteSite) (uint, error) {
	normalized, err := NormalizeURL(site.BaseURL)
	if err != nil {
		return 0, err
	}
	site.BaseURL = normalized

	if site.Direction == "" {
		site.Direction = entities.DirectionBoth
	}
	if site.Status == "" {
		site.Status = entities.SiteStatusActive
	}
	if !site.Direction.Valid() {
		return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidSite, site.Direction)
	}
	if !site.Status.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidSite, site.Status)
	}
	if site.APIKey == "" || site.APISecret == "" {
		return 0, fmt.Errorf("%w: API key and secret are required", ErrInvalidSite)
	}

	var existing entities.RemoteSite
	err = r.db.WithContext(ctx).Where("base_url = ?", site.BaseURL).First(&existing).Error
	switch {
	case err == nil && existing.ID != site.ID:
		return 0, ErrDuplicateURL
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, err
	}

	row := *site
	if row.APISecret, err = r.box.Seal(site.APISecret); err != nil {
		return 0, fmt.Errorf("failed to seal API secret: %w", err)
	}

	if row.ID == 0 {
		err = r.db.WithContext(ctx).Create(&row).Error
	} else {
		current, getErr := r.Get(ctx, row.ID)
		if getErr != nil {
			return 0, getErr
		}
		row.CreatedAt = current.CreatedAt
		err = r.db.WithContext(ctx).Save(&row).Error
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save remote site: %w", err)
	}

	site.ID = row.ID
	site.CreatedAt = row.CreatedAt
	site.UpdatedAt = row.UpdatedAt
	return row.ID, nil
}

// Delete removes a site and every row that references it.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dependents := []any{
			&entities.Mapping{},
			&entities.QueueItem{},
			&entities.ConflictRecord{},
			&entities.TransportLogEntry{},
		}
		for _, model := range dependents {
			if err := tx.Where("site_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		result := tx.Delete(&entities.RemoteSite{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSiteNotFound
		}
		return nil
	})
}

// MarkStatus sets the site's health status and last error.
func (r *Repository) MarkStatus(ctx context.Context, id uint, status entities.SiteStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSite, status)
	}
	return r.updates(ctx, id, map[string]any{
		"status":     status,
		"last_error": errMsg,
	})
}

// MarkLastSync stamps the time of the last successful exchange.
func (r *Repository) MarkLastSync(ctx context.Context, id uint) error {
	return r.updates(ctx, id, map[string]any{
		"last_sync":  time.Now(),
		"last_error": "",
	})
}

// SetLastError records a failure without changing the site's status.
func (r *Repository) SetLastError(ctx context.Context, id uint, msg string) error {
	return r.updates(ctx, id, map[string]any{"last_error": msg})
}

func (r *Repository) updates(ctx context.Context, id uint, values map[string]any) error {
	values["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&entities.RemoteSite{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSiteNotFound
	}
	return nil
}

func (r *Repository) open(site *entities.RemoteSite) error {
	secret, err := r.box.Open(site.APISecret)
	if err != nil {
		return fmt.Errorf("failed to open API secret for site %d: %w", site.ID, err)
	}
	site.APISecret = secret
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSiteNotFound
	}
	return err
}
