package entrypoint

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/bookings"
	"github.com/mrlokans/sitesync/internal/config"
	"github.com/mrlokans/sitesync/internal/conflicts"
	"github.com/mrlokans/sitesync/internal/crypto"
	"github.com/mrlokans/sitesync/internal/database"
	store "github.com/mrlokans/sitesync/internal/database/bookings"
	dbconflicts "github.com/mrlokans/sitesync/internal/database/conflicts"
	"github.com/mrlokans/sitesync/internal/database/mappings"
	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/database/sites"
	syncrepo "github.com/mrlokans/sitesync/internal/database/sync"
	"github.com/mrlokans/sitesync/internal/database/transportlog"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/queue"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/transport"
)

// App is the wired sync engine shared by the server and the CLI commands.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *database.Database

	Sites     *sites.Repository
	Queue     *dbqueue.Repository
	Logs      *transportlog.Repository
	Conflicts *dbconflicts.Repository
	Client    *transport.Client
	Adapters  *syncer.Adapters
	Processor *queue.Processor
	Resolver  *conflicts.Resolver
	Health    *syncer.HealthChecker
	Bookings  *bookings.Service
}

// Build opens the database and wires every component from cfg.
func Build(cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)

	db, err := database.NewDatabase(cfg.Database.Path, database.WithLogMode(cfg.Database.LogMode), database.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var box *crypto.SecretBox
	if cfg.Site.EncryptionKey != "" {
		box, err = crypto.NewSecretBoxFromMaster(cfg.Site.EncryptionKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize secret encryption: %w", err)
		}
	} else {
		log.Warn("SITE_ENCRYPTION_KEY is not set; peer API secrets are stored in plaintext")
	}

	app := &App{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Sites:     sites.NewRepository(db.DB, box),
		Queue:     dbqueue.NewRepository(db.DB),
		Logs:      transportlog.NewRepository(db.DB),
		Conflicts: dbconflicts.NewRepository(db.DB),
	}
	mappingRepo := mappings.NewRepository(db.DB)
	bookingStore := store.NewRepository(db.DB)

	app.Client = transport.NewClient(app.Logs, log.Named("transport"),
		transport.WithTimeout(cfg.Sync.RequestTimeout),
		transport.WithPrefix(cfg.Sync.APIPrefix),
	)
	app.Adapters = syncer.NewAdapters(syncer.Deps{
		Sites:       app.Sites,
		Mappings:    mappingRepo,
		Queue:       app.Queue,
		Conflicts:   app.Conflicts,
		Store:       bookingStore,
		Client:      app.Client,
		SourceSite:  cfg.Site.URL,
		MaxAttempts: cfg.Sync.MaxAttempts,
		Logger:      log.Named("syncer"),
	})

	app.Processor = queue.NewProcessor(app.Queue, app.Sites, map[entities.Domain]queue.Pusher{
		entities.DomainBooking:      app.Adapters.Booking,
		entities.DomainAvailability: app.Adapters.Availability,
		entities.DomainCustomer:     app.Adapters.Customer,
	}, log.Named("queue"),
		queue.WithLeaseDuration(cfg.Sync.LeaseDuration),
		queue.WithRetention(cfg.Sync.CompletedRetention, cfg.Sync.FailedRetention),
		queue.WithProgress(syncrepo.NewRepository(db.DB, entities.SyncTypeQueueDrain)),
	)

	app.Resolver = conflicts.NewResolver(app.Conflicts, mappingRepo, map[entities.Domain]conflicts.Applier{
		entities.DomainBooking:      app.Adapters.Booking,
		entities.DomainAvailability: app.Adapters.Availability,
		entities.DomainCustomer:     app.Adapters.Customer,
	}, log.Named("conflicts"))

	app.Health = syncer.NewHealthChecker(app.Sites, app.Client, log.Named("health")).
		WithProgress(syncrepo.NewRepository(db.DB, entities.SyncTypeHealthCheck))

	app.Bookings = bookings.NewService(bookingStore, app.Adapters, log.Named("bookings"))

	return app, nil
}

// RequireSiteURL reports an error when this installation has no public URL.
// Peers reject payloads without a valid source_site.
func (a *App) RequireSiteURL() error {
	if a.Config.Site.URL == "" {
		return fmt.Errorf("SITE_URL is not set; peers cannot identify this site")
	}
	if _, err := sites.NormalizeURL(a.Config.Site.URL); err != nil {
		return fmt.Errorf("SITE_URL: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
