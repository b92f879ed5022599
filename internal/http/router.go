package http

import (
	"github.com/gin-gonic/gin"

	"github.com/mrlokans/sitesync/internal/auth"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/metrics"
)

// One year, in seconds.
const hstsMaxAge = 31536000

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger.OrNop(cfg.Logger)))
	router.Use(metrics.Middleware())
	router.Use(auth.SecurityHeadersMiddleware())
	router.Use(auth.StrictTransportSecurityMiddleware(hstsMaxAge))

	health := NewHealthController(cfg.Database, cfg.Version)
	if cfg.Queue != nil {
		health.WithQueue(cfg.Queue)
	}
	if cfg.Scheduler != nil {
		health.WithScheduler(cfg.Scheduler)
	}

	// Health and metrics endpoints
	router.GET("/health", health.Status)
	router.GET("/metrics", metrics.Handler())

	// Peer API
	peer := NewPeerController(cfg.Sites, cfg.Logs, cfg.Adapters, cfg.SiteURL, cfg.SignatureSkew)
	if cfg.PeerLimiter != nil {
		peer.WithLimiter(cfg.PeerLimiter)
	}
	peer.RegisterRoutes(router, cfg.APIPrefix)

	// Operator API
	NewAdminController(cfg).RegisterRoutes(router, cfg.AdminToken)
	if cfg.Bookings != nil {
		NewLocalController(cfg.Bookings).RegisterRoutes(router, cfg.AdminToken)
	}
	if cfg.TaskClient != nil {
		NewTasksController(cfg.TaskClient, cfg.BatchSize).RegisterRoutes(router, cfg.AdminToken)
	}

	return router
}
