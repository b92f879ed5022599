package mappings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestRepository_UpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := &entities.Mapping{SiteID: 1, Domain: entities.DomainBooking, LocalID: 7, RemoteID: 42, ContentHash: "h0"}
	require.NoError(t, repo.Upsert(ctx, first))
	require.NoError(t, repo.Upsert(ctx, &entities.Mapping{SiteID: 1, Domain: entities.DomainBooking, LocalID: 7, RemoteID: 42, ContentHash: "h1"}))

	var count int64
	require.NoError(t, db.Model(&entities.Mapping{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByLocal(ctx, 1, entities.DomainBooking, 7)
	require.NoError(t, err)
	assert.Equal(t, "h1", got.ContentHash)
	assert.Equal(t, first.ID, got.ID)

	got, err = repo.GetByRemote(ctx, 1, entities.DomainBooking, 42)
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.LocalID)
}

func TestRepository_UpsertReplacesStaleRemote(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &entities.Mapping{SiteID: 1, Domain: entities.DomainCustomer, LocalID: 1, RemoteID: 9, ContentHash: "a"}))
	require.NoError(t, repo.Upsert(ctx, &entities.Mapping{SiteID: 1, Domain: entities.DomainCustomer, LocalID: 2, RemoteID: 9, ContentHash: "b"}))

	_, err := repo.GetByLocal(ctx, 1, entities.DomainCustomer, 1)
	assert.ErrorIs(t, err, ErrMappingNotFound)

	got, err := repo.GetByRemote(ctx, 1, entities.DomainCustomer, 9)
	require.NoError(t, err)
	assert.Equal(t, uint(2), got.LocalID)
}

func TestRepository_ScopedBySiteAndDomain(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &entities.Mapping{SiteID: 1, Domain: entities.DomainBooking, LocalID: 1, RemoteID: 5}))
	require.NoError(t, repo.Upsert(ctx, &entities.Mapping{SiteID: 2, Domain: entities.DomainBooking, LocalID: 1, RemoteID: 5}))
	require.NoError(t, repo.Upsert(ctx, &entities.Mapping{SiteID: 1, Domain: entities.DomainCustomer, LocalID: 1, RemoteID: 5}))

	rows, err := repo.ListByLocal(ctx, entities.DomainBooking, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, repo.Delete(ctx, 1, entities.DomainBooking, 1))
	_, err = repo.GetByLocal(ctx, 1, entities.DomainBooking, 1)
	assert.ErrorIs(t, err, ErrMappingNotFound)

	_, err = repo.GetByLocal(ctx, 1, entities.DomainCustomer, 1)
	assert.NoError(t, err)

	removed, err := repo.DeleteBySite(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
