package conflicts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mrlokans/sitesync/internal/database"
	"github.com/mrlokans/sitesync/internal/entities"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), database.WithLogMode("silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.DB
}

func newConflict(siteID uint, kind entities.ConflictType) *entities.ConflictRecord {
	return &entities.ConflictRecord{
		SiteID:       siteID,
		Domain:       entities.DomainBooking,
		LocalID:      1,
		RemoteID:     2,
		LocalData:    datatypes.JSON(`{"notes":"local"}`),
		RemoteData:   datatypes.JSON(`{"notes":"remote"}`),
		ConflictType: kind,
	}
}

func TestRepository_ClaimResolutionIsFinal(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	c := newConflict(1, entities.ConflictTypeConcurrentUpdate)
	require.NoError(t, repo.Create(ctx, c))

	at := time.Now()
	require.NoError(t, repo.ClaimResolution(ctx, c.ID, entities.ResolutionSkip, "ops", at))

	err := repo.ClaimResolution(ctx, c.ID, entities.ResolutionRemote, "someone-else", at.Add(time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, entities.ResolutionSkip, *got.Resolution)
	assert.Equal(t, "ops", got.ResolvedBy)
	assert.WithinDuration(t, at, *got.ResolvedAt, time.Second)

	assert.ErrorIs(t, repo.ClaimResolution(ctx, 999, entities.ResolutionSkip, "ops", at), ErrConflictNotFound)
}

func TestRepository_ReleaseResolution(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	c := newConflict(1, entities.ConflictTypeDoubleBooking)
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.ClaimResolution(ctx, c.ID, entities.ResolutionRemote, "ops", time.Now()))
	require.NoError(t, repo.ReleaseResolution(ctx, c.ID, entities.ResolutionRemote))

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsResolved())
	assert.Nil(t, got.ResolvedAt)
}

func TestRepository_ListPendingAndStats(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	a := newConflict(1, entities.ConflictTypeDoubleBooking)
	b := newConflict(1, entities.ConflictTypeConcurrentUpdate)
	c := newConflict(2, entities.ConflictTypeConcurrentUpdate)
	for _, rec := range []*entities.ConflictRecord{a, b, c} {
		require.NoError(t, repo.Create(ctx, rec))
	}
	require.NoError(t, repo.ClaimResolution(ctx, b.ID, entities.ResolutionMerge, "ops", time.Now()))

	all, err := repo.ListPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	siteID := uint(1)
	scoped, err := repo.ListPending(ctx, &siteID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, a.ID, scoped[0].ID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.PendingByType[entities.ConflictTypeDoubleBooking])
	assert.Equal(t, int64(1), stats.PendingByType[entities.ConflictTypeConcurrentUpdate])
	assert.Equal(t, int64(1), stats.ResolvedBy[entities.ResolutionMerge])
}

func TestRepository_DeleteResolvedBefore(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	old := newConflict(1, entities.ConflictTypeDoubleBooking)
	recent := newConflict(1, entities.ConflictTypeDoubleBooking)
	open := newConflict(1, entities.ConflictTypeDoubleBooking)
	for _, rec := range []*entities.ConflictRecord{old, recent, open} {
		require.NoError(t, repo.Create(ctx, rec))
	}
	require.NoError(t, repo.ClaimResolution(ctx, old.ID, entities.ResolutionSkip, "ops", time.Now().AddDate(0, 0, -40)))
	require.NoError(t, repo.ClaimResolution(ctx, recent.ID, entities.ResolutionSkip, "ops", time.Now()))

	removed, err := repo.DeleteResolvedBefore(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrConflictNotFound)
	_, err = repo.Get(ctx, open.ID)
	assert.NoError(t, err)
}
