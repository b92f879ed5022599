package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func TestRepository_StartSync(t *testing.T) {
	repo := NewRepository(setupTestDB(t), entities.SyncTypeQueueDrain)
	ctx := context.Background()

	require.NoError(t, repo.StartSync(ctx, 100))

	progress, err := repo.GetSyncProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.SyncTypeQueueDrain, progress.SyncType)
	assert.Equal(t, entities.SyncStatusRunning, progress.Status)
	assert.Equal(t, 100, progress.TotalItems)
	assert.Equal(t, 0, progress.Processed)
}

func TestRepository_StartSync_Reset(t *testing.T) {
	repo := NewRepository(setupTestDB(t), entities.SyncTypeQueueDrain)
	ctx := context.Background()

	require.NoError(t, repo.StartSync(ctx, 50))
	require.NoError(t, repo.UpdateProgress(ctx, 25, 20, 5, 0, "booking #7"))

	// Start new sync should reset
	require.NoError(t, repo.StartSync(ctx, 100))

	progress, err := repo.GetSyncProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.TotalItems)
	assert.Equal(t, 0, progress.Processed)
	assert.Equal(t, "", progress.CurrentItem)
}

func TestRepository_TypesAreIndependent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	drain := NewRepository(db, entities.SyncTypeQueueDrain)
	health := NewRepository(db, entities.SyncTypeHealthCheck)

	require.NoError(t, drain.StartSync(ctx, 10))
	require.NoError(t, health.StartSync(ctx, 3))
	require.NoError(t, health.CompleteSync(ctx, true, ""))

	running, err := drain.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	running, err = health.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestRepository_UpdateProgress(t *testing.T) {
	repo := NewRepository(setupTestDB(t), entities.SyncTypeQueueDrain)
	ctx := context.Background()

	require.NoError(t, repo.StartSync(ctx, 100))
	require.NoError(t, repo.UpdateProgress(ctx, 50, 45, 3, 2, "customer #3"))

	progress, err := repo.GetSyncProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, progress.Processed)
	assert.Equal(t, 45, progress.Succeeded)
	assert.Equal(t, 3, progress.Failed)
	assert.Equal(t, 2, progress.Skipped)
	assert.Equal(t, "customer #3", progress.CurrentItem)
}

func TestRepository_CompleteSync(t *testing.T) {
	repo := NewRepository(setupTestDB(t), entities.SyncTypeHealthCheck)
	ctx := context.Background()

	require.NoError(t, repo.StartSync(ctx, 10))
	require.NoError(t, repo.CompleteSync(ctx, false, "2 of 3 sites unreachable"))

	progress, err := repo.GetSyncProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.SyncStatusFailed, progress.Status)
	assert.Equal(t, "2 of 3 sites unreachable", progress.Error)
	assert.NotNil(t, progress.CompletedAt)
}

func TestRepository_IsSyncRunning_StaleSync(t *testing.T) {
	repo := NewRepository(setupTestDB(t), entities.SyncTypeQueueDrain)
	ctx := context.Background()

	require.NoError(t, repo.StartSync(ctx, 10))

	// Simulate a run that stopped reporting 15 minutes ago
	repo.db.Model(&entities.SyncProgress{}).
		Where("sync_type = ?", entities.SyncTypeQueueDrain).
		Update("updated_at", time.Now().Add(-15*time.Minute))

	running, err := repo.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	progress, err := repo.GetSyncProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.SyncStatusFailed, progress.Status)
}
