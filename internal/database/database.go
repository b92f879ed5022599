package database

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/sitesync/internal/entities"
)

// pendingQueueIndex enforces at most one pending item per (site, domain, object).
// Queue coalescing relies on it as the ON CONFLICT target.
const pendingQueueIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_remote_queue_pending
	ON remote_queue (site_id, domain, object_id) WHERE status = 'pending'`

type Database struct {
	DB *gorm.DB
}

type options struct {
	logMode logger.LogLevel
	log     *zap.Logger
}

// Option configures NewDatabase.
type Option func(*options)

// WithLogMode sets the gorm log level by name: silent, error, warn or info.
func WithLogMode(mode string) Option {
	return func(o *options) {
		o.logMode = ParseLogMode(mode)
	}
}

// WithLogger sets the logger for startup messages. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// ParseLogMode maps a level name to a gorm log level, defaulting to warn.
func ParseLogMode(mode string) logger.LogLevel {
	switch strings.ToLower(mode) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	o := options{logMode: logger.Warn, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := gorm.Open(sqlite.Open(dsn(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(o.logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate all entities
	err = db.AutoMigrate(
		&entities.RemoteSite{},
		&entities.QueueItem{},
		&entities.Mapping{},
		&entities.ConflictRecord{},
		&entities.TransportLogEntry{},
		&entities.SyncProgress{},
		&entities.Booking{},
		&entities.Customer{},
		&entities.StaffAvailability{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.Exec(pendingQueueIndex).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending queue index: %w", err)
	}

	o.log.Info("database initialized", zap.String("path", dbPath))

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// dsn enables WAL and a busy timeout so the processor and HTTP handlers
// can write concurrently without SQLITE_BUSY errors.
func dsn(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}
