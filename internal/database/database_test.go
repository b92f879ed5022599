package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/sitesync/internal/entities"
)

func TestNewDatabase(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), WithLogMode("silent"))
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping())
	for _, table := range []string{"remote_sites", "remote_queue", "remote_mappings", "remote_conflicts", "remote_logs", "bookings", "customers", "staff_availability"} {
		assert.True(t, db.DB.Migrator().HasTable(table), table)
	}
}

func TestPendingQueueIndex(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), WithLogMode("silent"))
	require.NoError(t, err)
	defer db.Close()

	first := entities.QueueItem{SiteID: 1, Domain: entities.DomainBooking, ObjectID: 7, Action: entities.ActionCreate, Status: entities.QueueStatusPending}
	require.NoError(t, db.DB.Create(&first).Error)

	dup := entities.QueueItem{SiteID: 1, Domain: entities.DomainBooking, ObjectID: 7, Action: entities.ActionUpdate, Status: entities.QueueStatusPending}
	assert.Error(t, db.DB.Create(&dup).Error, "second pending item for the same object must be rejected")

	done := entities.QueueItem{SiteID: 1, Domain: entities.DomainBooking, ObjectID: 7, Action: entities.ActionUpdate, Status: entities.QueueStatusCompleted}
	assert.NoError(t, db.DB.Create(&done).Error, "non-pending items are not constrained")
}

func TestParseLogMode(t *testing.T) {
	assert.Equal(t, logger.Silent, ParseLogMode("silent"))
	assert.Equal(t, logger.Info, ParseLogMode("INFO"))
	assert.Equal(t, logger.Warn, ParseLogMode("bogus"))
}

func TestNewDatabaseLogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDatabase(path, WithLogMode("silent"), WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer db.Close()

	entries := logs.FilterMessage("database initialized").All()
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].ContextMap()["path"])
}
