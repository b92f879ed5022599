// Package interfaces documents the core abstractions used throughout the sync engine.
//
// This package consolidates interface documentation so the extension points
// of the engine can be found in one place.
//
// # Interface Categories
//
// ## Domain Adapter Interfaces
//
//   - Pusher: Sends one queued change to a remote site (internal/queue/processor.go)
//   - Applier: Applies a stored snapshot while resolving a conflict (internal/conflicts/resolver.go)
//   - InboundHandler: Applies a change pushed by a peer (internal/http/remote.go)
//   - SlotChecker: Answers availability questions from peers (internal/http/remote.go)
//
// ## Data Access Interfaces
//
//   - LogStore: Outbound request log (internal/transport/client.go)
//   - InboundLog: Inbound request log (internal/http/remote.go)
//   - QueueStatter: Queue counters for the health endpoint (internal/http/health.go)
//
// ## Background Work Interfaces
//
//   - QueueDrainer, FailedRetrier, ConflictCleaner: shared by the cron
//     scheduler (internal/scheduler/sync.go) and the task queue (internal/tasks/sync.go)
//   - LogPruner, LeaseReleaser, HealthPinger: maintenance jobs (internal/scheduler/sync.go)
//   - SitePinger: On-demand connectivity check (internal/tasks/sync.go)
//
// ## Progress Tracking Interfaces
//
//   - ProgressRecorder: Sweep progress reporting (internal/syncer/health.go)
//
// # Adding a New Sync Domain
//
// To sync another kind of record (e.g., services offered by a site):
//
//  1. Add the entity and a Domain constant in internal/entities/
//
//  2. Create an adapter in internal/syncer/ that embeds the shared base:
//
//     type ServiceAdapter struct {
//     base
//     }
//
//     func (a *ServiceAdapter) QueueOutgoing(ctx context.Context, localID uint, action entities.Action) (int, error)
//     func (a *ServiceAdapter) Push(ctx context.Context, site *entities.RemoteSite, item *entities.QueueItem) error
//     func (a *ServiceAdapter) HandleIncoming(ctx context.Context, in Inbound) (*Result, error)
//     func (a *ServiceAdapter) ApplySnapshot(ctx context.Context, localID uint, data []byte) (uint, string, error)
//     func (a *ServiceAdapter) CurrentHash(ctx context.Context, localID uint) (string, error)
//
//  3. Register it with the processor and resolver in internal/entrypoint/app.go
//     and add its peer route in internal/http/remote.go
//
//  4. Add compile-time checks to checks.go
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces. This catches missing methods at compile time rather than runtime:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
