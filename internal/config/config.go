package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Log
		Site
		Sync
		Schedule
		Tasks
		Admin
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path    string
		LogMode string // silent, error, warn, info
	}
	Log struct {
		Level       string
		Encoding    string // json or console
		Development bool
	}
	// Site describes this installation as seen by its peers.
	Site struct {
		URL           string // Public base URL, sent as source_site in payloads
		EncryptionKey string // Master secret used to encrypt peer API secrets at rest
	}
	Sync struct {
		APIPrefix             string
		RequestTimeout        time.Duration
		SignatureSkew         time.Duration
		MaxAttempts           int
		BatchSize             int
		LeaseDuration         time.Duration
		CompletedRetention    time.Duration
		FailedRetention       time.Duration
		ConflictRetentionDays int
		LogRetention          time.Duration
		AuthMaxFailures       int           // Failed peer authentications before lockout
		AuthWindow            time.Duration // Window the failures are counted in
		AuthLockout           time.Duration
	}
	Schedule struct {
		Enabled     bool
		Process     string // Cron format: "*/2 * * * *" = every 2 minutes
		Maintenance string // Cron format: "0 3 * * *" = daily at 03:00
		HealthCheck string // Cron format: "*/15 * * * *" = every 15 minutes
		RetryFailed string // Empty disables automatic retry of failed items
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Admin struct {
		Token string // Bearer token for /api/admin; empty disables the operator API
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_log_mode", "warn")

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")
	v.SetDefault("log_development", false)

	v.SetDefault("site_url", "")
	v.SetDefault("site_encryption_key", "")

	// Sync engine defaults
	v.SetDefault("sync_api_prefix", DefaultAPIPrefix)
	v.SetDefault("sync_request_timeout", "30s")
	v.SetDefault("sync_signature_skew", "5m")
	v.SetDefault("sync_max_attempts", 5)
	v.SetDefault("sync_batch_size", 50)
	v.SetDefault("sync_lease_duration", "15m")
	v.SetDefault("sync_completed_retention", "24h")
	v.SetDefault("sync_failed_retention", "168h") // 7 days
	v.SetDefault("sync_conflict_retention_days", 30)
	v.SetDefault("sync_log_retention", "720h") // 30 days
	v.SetDefault("sync_auth_max_failures", 10)
	v.SetDefault("sync_auth_window", "15m")
	v.SetDefault("sync_auth_lockout", "15m")

	// Scheduler defaults
	v.SetDefault("schedule_enabled", true)
	v.SetDefault("schedule_process", "*/2 * * * *")
	v.SetDefault("schedule_maintenance", "0 3 * * *")
	v.SetDefault("schedule_health_check", "*/15 * * * *")
	v.SetDefault("schedule_retry_failed", "")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	v.SetDefault("admin_token", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path:    v.GetString("DATABASE_PATH"),
			LogMode: v.GetString("DATABASE_LOG_MODE"),
		},
		Log: Log{
			Level:       v.GetString("LOG_LEVEL"),
			Encoding:    v.GetString("LOG_ENCODING"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
		Site: Site{
			URL:           v.GetString("SITE_URL"),
			EncryptionKey: v.GetString("SITE_ENCRYPTION_KEY"),
		},
		Sync: Sync{
			APIPrefix:             v.GetString("SYNC_API_PREFIX"),
			RequestTimeout:        v.GetDuration("SYNC_REQUEST_TIMEOUT"),
			SignatureSkew:         v.GetDuration("SYNC_SIGNATURE_SKEW"),
			MaxAttempts:           v.GetInt("SYNC_MAX_ATTEMPTS"),
			BatchSize:             v.GetInt("SYNC_BATCH_SIZE"),
			LeaseDuration:         v.GetDuration("SYNC_LEASE_DURATION"),
			CompletedRetention:    v.GetDuration("SYNC_COMPLETED_RETENTION"),
			FailedRetention:       v.GetDuration("SYNC_FAILED_RETENTION"),
			ConflictRetentionDays: v.GetInt("SYNC_CONFLICT_RETENTION_DAYS"),
			LogRetention:          v.GetDuration("SYNC_LOG_RETENTION"),
			AuthMaxFailures:       v.GetInt("SYNC_AUTH_MAX_FAILURES"),
			AuthWindow:            v.GetDuration("SYNC_AUTH_WINDOW"),
			AuthLockout:           v.GetDuration("SYNC_AUTH_LOCKOUT"),
		},
		Schedule: Schedule{
			Enabled:     v.GetBool("SCHEDULE_ENABLED"),
			Process:     v.GetString("SCHEDULE_PROCESS"),
			Maintenance: v.GetString("SCHEDULE_MAINTENANCE"),
			HealthCheck: v.GetString("SCHEDULE_HEALTH_CHECK"),
			RetryFailed: v.GetString("SCHEDULE_RETRY_FAILED"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Admin: Admin{
			Token: v.GetString("ADMIN_TOKEN"),
		},
	}
}
