// Package conflicts applies operator decisions to recorded sync conflicts.
package conflicts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	dbconflicts "github.com/mrlokans/sitesync/internal/database/conflicts"
	"github.com/mrlokans/sitesync/internal/database/mappings"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/metrics"
)

const DefaultRetainDays = 30

var (
	ErrConflictNotFound  = dbconflicts.ErrConflictNotFound
	ErrAlreadyResolved   = dbconflicts.ErrAlreadyResolved
	ErrInvalidStrategy   = errors.New("invalid resolution strategy")
	ErrUnsupportedDomain = errors.New("unsupported conflict domain")
)

// Applier writes a snapshot of domain fields onto a local record.
// A zero localID creates a new record.
type Applier interface {
	ApplySnapshot(ctx context.Context, localID uint, data []byte) (uint, string, error)
	CurrentHash(ctx context.Context, localID uint) (string, error)
}

type Resolver struct {
	conflicts *dbconflicts.Repository
	mappings  *mappings.Repository
	appliers  map[entities.Domain]Applier
	logger    *zap.Logger
	now       func() time.Time
}

func NewResolver(conflictRepo *dbconflicts.Repository, mappingRepo *mappings.Repository, appliers map[entities.Domain]Applier, log *zap.Logger) *Resolver {
	return &Resolver{
		conflicts: conflictRepo,
		mappings:  mappingRepo,
		appliers:  appliers,
		logger:    logger.OrNop(log),
		now:       time.Now,
	}
}

func (r *Resolver) ListPending(ctx context.Context, siteID *uint) ([]entities.ConflictRecord, error) {
	return r.conflicts.ListPending(ctx, siteID)
}

func (r *Resolver) Get(ctx context.Context, id uint) (*entities.ConflictRecord, error) {
	return r.conflicts.Get(ctx, id)
}

// Resolve records the strategy for a pending conflict and applies it.
// The resolution is claimed first so concurrent operators cannot both apply;
// if applying fails the claim is released and the conflict stays pending.
func (r *Resolver) Resolve(ctx context.Context, id uint, strategy entities.Resolution, resolvedBy string) (*entities.ConflictRecord, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	c, err := r.conflicts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsResolved() {
		return nil, ErrAlreadyResolved
	}
	applier, ok := r.appliers[c.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDomain, c.Domain)
	}
	if strategy == entities.ResolutionMerge && c.ConflictType == entities.ConflictTypeDoubleBooking {
		return nil, fmt.Errorf("%w: double bookings refer to different records and cannot be merged", ErrInvalidStrategy)
	}

	if err := r.conflicts.ClaimResolution(ctx, id, strategy, resolvedBy, r.now()); err != nil {
		return nil, err
	}

	if err := r.apply(ctx, c, strategy, applier); err != nil {
		if relErr := r.conflicts.ReleaseResolution(context.WithoutCancel(ctx), id, strategy); relErr != nil {
			r.logger.Error("failed to release conflict claim", zap.Uint("conflict_id", id), zap.Error(relErr))
		}
		metrics.ConflictsResolved.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to apply %s resolution: %w", strategy, err)
	}

	metrics.ConflictsResolved.WithLabelValues(string(strategy)).Inc()
	r.logger.Info("conflict resolved",
		zap.Uint("conflict_id", id),
		zap.String("domain", string(c.Domain)),
		zap.String("type", string(c.ConflictType)),
		zap.String("resolution", string(strategy)),
		zap.String("resolved_by", resolvedBy),
	)
	return r.conflicts.Get(ctx, id)
}

func (r *Resolver) apply(ctx context.Context, c *entities.ConflictRecord, strategy entities.Resolution, applier Applier) error {
	switch strategy {
	case entities.ResolutionSkip:
		return nil
	case entities.ResolutionLocal:
		return r.rebaseline(ctx, c, applier)
	case entities.ResolutionRemote:
		return r.overwrite(ctx, c, applier, c.RemoteData)
	case entities.ResolutionMerge:
		merged, err := Merge(c.RemoteData, c.LocalData)
		if err != nil {
			return err
		}
		return r.overwrite(ctx, c, applier, merged)
	}
	return ErrInvalidStrategy
}

// rebaseline keeps the local record and stores its current hash on the
// mapping, so the next edit from the peer is compared against it.
func (r *Resolver) rebaseline(ctx context.Context, c *entities.ConflictRecord, applier Applier) error {
	if c.ConflictType != entities.ConflictTypeConcurrentUpdate {
		return nil
	}
	m, err := r.mappings.GetByLocal(ctx, c.SiteID, c.Domain, c.LocalID)
	if errors.Is(err, mappings.ErrMappingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	hash, err := applier.CurrentHash(ctx, c.LocalID)
	if err != nil {
		return err
	}
	m.ContentHash = hash
	m.LastSynced = r.now()
	return r.mappings.Upsert(ctx, m)
}

func (r *Resolver) overwrite(ctx context.Context, c *entities.ConflictRecord, applier Applier, data []byte) error {
	// For a double booking LocalID is the booking holding the slot, so the
	// remote snapshot replaces it and the slot keeps a single booking.
	localID, hash, err := applier.ApplySnapshot(ctx, c.LocalID, data)
	if err != nil {
		return err
	}
	return r.mappings.Upsert(ctx, &entities.Mapping{
		SiteID:      c.SiteID,
		Domain:      c.Domain,
		LocalID:     localID,
		RemoteID:    c.RemoteID,
		ContentHash: hash,
		LastSynced:  r.now(),
	})
}

// Merge overlays local onto remote. Local values win on every key they
// share, except null and empty strings, which leave the remote value.
func Merge(remote, local []byte) ([]byte, error) {
	merged := map[string]any{}
	if err := json.Unmarshal(remote, &merged); err != nil {
		return nil, fmt.Errorf("failed to decode remote snapshot: %w", err)
	}
	var overlay map[string]any
	if err := json.Unmarshal(local, &overlay); err != nil {
		return nil, fmt.Errorf("failed to decode local snapshot: %w", err)
	}
	for k, v := range overlay {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Cleanup purges conflicts resolved more than retainDays ago.
func (r *Resolver) Cleanup(ctx context.Context, retainDays int) (int64, error) {
	if retainDays <= 0 {
		retainDays = DefaultRetainDays
	}
	cutoff := r.now().AddDate(0, 0, -retainDays)
	n, err := r.conflicts.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge resolved conflicts: %w", err)
	}
	if n > 0 {
		r.logger.Info("purged resolved conflicts", zap.Int64("count", n), zap.Int("retain_days", retainDays))
	}
	return n, nil
}

func (r *Resolver) Stats(ctx context.Context) (dbconflicts.Stats, error) {
	return r.conflicts.Stats(ctx)
}
