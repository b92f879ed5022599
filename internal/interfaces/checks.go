package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/sitesync/internal/conflicts"
	"github.com/mrlokans/sitesync/internal/database/queue"
	syncrepo "github.com/mrlokans/sitesync/internal/database/sync"
	"github.com/mrlokans/sitesync/internal/database/transportlog"
	"github.com/mrlokans/sitesync/internal/http"
	syncqueue "github.com/mrlokans/sitesync/internal/queue"
	"github.com/mrlokans/sitesync/internal/scheduler"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/tasks"
	"github.com/mrlokans/sitesync/internal/transport"
)

// =============================================================================
// Domain Adapters
// =============================================================================

// Pusher implementations
var _ syncqueue.Pusher = (*syncer.BookingAdapter)(nil)
var _ syncqueue.Pusher = (*syncer.AvailabilityAdapter)(nil)
var _ syncqueue.Pusher = (*syncer.CustomerAdapter)(nil)

// Applier implementations
var _ conflicts.Applier = (*syncer.BookingAdapter)(nil)
var _ conflicts.Applier = (*syncer.AvailabilityAdapter)(nil)
var _ conflicts.Applier = (*syncer.CustomerAdapter)(nil)

// InboundHandler implementations
var _ http.InboundHandler = (*syncer.BookingAdapter)(nil)
var _ http.InboundHandler = (*syncer.AvailabilityAdapter)(nil)
var _ http.InboundHandler = (*syncer.CustomerAdapter)(nil)
var _ http.SlotChecker = (*syncer.AvailabilityAdapter)(nil)

// =============================================================================
// Data Access Layer
// =============================================================================

// Request log implementations
var _ transport.LogStore = (*transportlog.Repository)(nil)
var _ http.InboundLog = (*transportlog.Repository)(nil)
var _ scheduler.LogPruner = (*transportlog.Repository)(nil)

// Queue storage implementations
var _ http.QueueStatter = (*queue.Repository)(nil)
var _ scheduler.LeaseReleaser = (*queue.Repository)(nil)

// =============================================================================
// Background Work
// =============================================================================

// Scheduled job implementations
var _ scheduler.QueueDrainer = (*syncqueue.Processor)(nil)
var _ scheduler.FailedRetrier = (*syncqueue.Processor)(nil)
var _ scheduler.ConflictCleaner = (*conflicts.Resolver)(nil)
var _ scheduler.HealthPinger = (*syncer.HealthChecker)(nil)
var _ http.SchedulerState = (*scheduler.SyncScheduler)(nil)

// Task queue implementations
var _ tasks.QueueDrainer = (*syncqueue.Processor)(nil)
var _ tasks.FailedRetrier = (*syncqueue.Processor)(nil)
var _ tasks.ConflictCleaner = (*conflicts.Resolver)(nil)

// =============================================================================
// Progress Tracking
// =============================================================================

// ProgressRecorder implementations
var _ syncer.ProgressRecorder = (*syncrepo.Repository)(nil)
