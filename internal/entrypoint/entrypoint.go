package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/auth"
	"github.com/mrlokans/sitesync/internal/config"
	http_controllers "github.com/mrlokans/sitesync/internal/http"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/scheduler"
	"github.com/mrlokans/sitesync/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, log *zap.Logger, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// kill (no param) sends SIGTERM, kill -2 is SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server", zap.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop accepting requests before the background machinery goes away
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}

	if onShutdown != nil {
		onShutdown(ctx)
	}

	log.Info("server exiting")
}

func Run(cfg *config.Config, version string) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting sitesync", zap.String("version", version))
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := Build(cfg, log)
	if err != nil {
		log.Fatal("failed to build application", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("error closing database", zap.Error(err))
		}
	}()

	if err := app.RequireSiteURL(); err != nil {
		log.Fatal("invalid site configuration", zap.Error(err))
	}
	if cfg.Admin.Token == "" {
		log.Warn("ADMIN_TOKEN is not set; the operator API is disabled")
	}

	// Release leases left behind by a previous process before anything drains
	if n, err := app.Queue.ReleaseStale(context.Background(), time.Now()); err != nil {
		log.Warn("failed to release stale leases", zap.Error(err))
	} else if n > 0 {
		log.Info("released stale queue leases", zap.Int("count", n))
	}

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Database.Path, tasks.Config{
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		}, log)
		if err != nil {
			log.Fatal("failed to initialize task queue", zap.Error(err))
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Error("error closing task client", zap.Error(err))
			}
		}()

		taskClient.RegisterSync(tasks.Handlers{
			Drainer: app.Processor,
			Retrier: app.Processor,
			Cleaner: app.Resolver,
			Pinger: tasks.SitePingerFunc(func(ctx context.Context, siteID uint) error {
				_, err := app.Health.PingSite(ctx, siteID)
				return err
			}),
		})

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)
	}

	syncScheduler := scheduler.NewSyncScheduler(cfg.Schedule, scheduler.Options{
		BatchSize:             cfg.Sync.BatchSize,
		ConflictRetentionDays: cfg.Sync.ConflictRetentionDays,
		LogRetention:          cfg.Sync.LogRetention,
	}, scheduler.Jobs{
		Drainer: app.Processor,
		Retrier: app.Processor,
		Cleaner: app.Resolver,
		Logs:    app.Logs,
		Leases:  app.Queue,
		Pinger:  app.Health,
	}, log)
	if err := syncScheduler.Start(context.Background()); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	peerLimiter := auth.NewRateLimiter(auth.RateLimitConfig{
		MaxAttempts:     cfg.Sync.AuthMaxFailures,
		WindowDuration:  cfg.Sync.AuthWindow,
		LockoutDuration: cfg.Sync.AuthLockout,
	})

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Database:      app.DB,
		Logger:        log.Named("http"),
		Version:       version,
		Sites:         app.Sites,
		Adapters:      app.Adapters,
		Logs:          app.Logs,
		SiteURL:       cfg.Site.URL,
		APIPrefix:     cfg.Sync.APIPrefix,
		SignatureSkew: cfg.Sync.SignatureSkew,
		PeerLimiter:   peerLimiter,
		AdminToken:    cfg.Admin.Token,
		Queue:         app.Queue,
		Processor:     app.Processor,
		Resolver:      app.Resolver,
		Health:        app.Health,
		Bookings:      app.Bookings,
		BatchSize:     cfg.Sync.BatchSize,
		TaskClient:    taskClient,
		Scheduler:     syncScheduler,
	})

	onShutdown := func(ctx context.Context) {
		syncScheduler.Stop()
		peerLimiter.Stop()
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, log, onShutdown)
}
