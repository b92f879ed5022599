package http

import (
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/auth"
	"github.com/mrlokans/sitesync/internal/bookings"
	"github.com/mrlokans/sitesync/internal/conflicts"
	"github.com/mrlokans/sitesync/internal/database"
	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/database/sites"
	"github.com/mrlokans/sitesync/internal/database/transportlog"
	"github.com/mrlokans/sitesync/internal/queue"
	"github.com/mrlokans/sitesync/internal/scheduler"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/tasks"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Database *database.Database
	Logger   *zap.Logger
	Version  string

	// Peer API
	Sites         *sites.Repository
	Adapters      *syncer.Adapters
	Logs          *transportlog.Repository
	SiteURL       string
	APIPrefix     string
	SignatureSkew time.Duration
	PeerLimiter   *auth.RateLimiter // nil disables the authentication lockout

	// Operator API; empty AdminToken disables it
	AdminToken string
	Queue      *dbqueue.Repository
	Processor  *queue.Processor
	Resolver   *conflicts.Resolver
	Health     *syncer.HealthChecker
	Bookings   *bookings.Service
	BatchSize  int

	// Optional background machinery
	TaskClient *tasks.Client
	Scheduler  *scheduler.SyncScheduler
}
