package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mrlokans/sitesync/internal/bookings"
	"github.com/mrlokans/sitesync/internal/conflicts"
	"github.com/mrlokans/sitesync/internal/crypto"
	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/database/sites"
	"github.com/mrlokans/sitesync/internal/database/transportlog"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/queue"
	"github.com/mrlokans/sitesync/internal/scheduler"
	"github.com/mrlokans/sitesync/internal/syncer"
)

// AdminController serves the operator API: peers, queue, conflicts and logs.
type AdminController struct {
	sites     *sites.Repository
	queue     *dbqueue.Repository
	processor *queue.Processor
	resolver  *conflicts.Resolver
	health    *syncer.HealthChecker
	logs      *transportlog.Repository
	bookings  *bookings.Service
	scheduler *scheduler.SyncScheduler
	batchSize int
}

func NewAdminController(cfg RouterConfig) *AdminController {
	return &AdminController{
		sites:     cfg.Sites,
		queue:     cfg.Queue,
		processor: cfg.Processor,
		resolver:  cfg.Resolver,
		health:    cfg.Health,
		logs:      cfg.Logs,
		bookings:  cfg.Bookings,
		scheduler: cfg.Scheduler,
		batchSize: cfg.BatchSize,
	}
}

// --- Sites ---

// SiteRequest is the body of site create and update calls. On update an
// empty api_secret keeps the stored secret.
type SiteRequest struct {
	Name             string              `json:"name"`
	BaseURL          string              `json:"base_url" binding:"required"`
	APIKey           string              `json:"api_key"`
	APISecret        string              `json:"api_secret"`
	Direction        entities.Direction  `json:"direction"`
	Status           entities.SiteStatus `json:"status"`
	SyncBookings     bool                `json:"sync_bookings"`
	SyncAvailability bool                `json:"sync_availability"`
	SyncCustomers    bool                `json:"sync_customers"`
}

func (r SiteRequest) applyTo(site *entities.RemoteSite) {
	site.Name = r.Name
	site.BaseURL = r.BaseURL
	if r.APIKey != "" {
		site.APIKey = r.APIKey
	}
	if r.APISecret != "" {
		site.APISecret = r.APISecret
	}
	if r.Direction != "" {
		site.Direction = r.Direction
	}
	if r.Status != "" {
		site.Status = r.Status
	}
	site.SyncBookings = r.SyncBookings
	site.SyncAvailability = r.SyncAvailability
	site.SyncCustomers = r.SyncCustomers
}

// CreatedSiteResponse is the only response that reveals the shared secret.
type CreatedSiteResponse struct {
	*entities.RemoteSite
	APISecret string `json:"api_secret"`
}

// ListSites handles GET /api/admin/sites
func (ac *AdminController) ListSites(c *gin.Context) {
	var status *entities.SiteStatus
	if s := entities.SiteStatus(c.Query("status")); s != "" {
		if !s.Valid() {
			respondBadRequest(c, "invalid status")
			return
		}
		status = &s
	}
	all, err := ac.sites.List(c.Request.Context(), status)
	if err != nil {
		respondInternalError(c, err, "list sites")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sites": all})
}

// GetSite handles GET /api/admin/sites/:id
func (ac *AdminController) GetSite(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	site, err := ac.sites.Get(c.Request.Context(), id)
	if err != nil {
		ac.respondSiteError(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// CreateSite handles POST /api/admin/sites
// Missing credentials are generated and returned once.
func (ac *AdminController) CreateSite(c *gin.Context) {
	var req SiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	site := &entities.RemoteSite{}
	req.applyTo(site)
	if site.APIKey == "" {
		site.APIKey = uuid.NewString()
	}
	if site.APISecret == "" {
		secret, err := crypto.GenerateSecret(32)
		if err != nil {
			respondInternalError(c, err, "generate secret")
			return
		}
		site.APISecret = secret
	}

	if _, err := ac.sites.Save(c.Request.Context(), site); err != nil {
		ac.respondSiteError(c, err)
		return
	}
	respondCreated(c, CreatedSiteResponse{RemoteSite: site, APISecret: site.APISecret})
}

// UpdateSite handles PUT /api/admin/sites/:id
func (ac *AdminController) UpdateSite(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req SiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	site, err := ac.sites.Get(c.Request.Context(), id)
	if err != nil {
		ac.respondSiteError(c, err)
		return
	}
	req.applyTo(site)
	if _, err := ac.sites.Save(c.Request.Context(), site); err != nil {
		ac.respondSiteError(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// DeleteSite handles DELETE /api/admin/sites/:id
func (ac *AdminController) DeleteSite(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := ac.sites.Delete(c.Request.Context(), id); err != nil {
		ac.respondSiteError(c, err)
		return
	}
	respondSuccess(c, "site deleted", nil)
}

// PingSite handles POST /api/admin/sites/:id/ping
func (ac *AdminController) PingSite(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	reply, err := ac.health.PingSite(c.Request.Context(), id)
	if errors.Is(err, sites.ErrSiteNotFound) {
		respondNotFound(c, "site")
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "peer_unreachable"})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (ac *AdminController) respondSiteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sites.ErrSiteNotFound):
		respondNotFound(c, "site")
	case errors.Is(err, sites.ErrDuplicateURL):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, sites.ErrInvalidSite):
		respondBadRequest(c, err.Error())
	default:
		respondInternalError(c, err, "site")
	}
}

// --- Queue ---

// QueueStats handles GET /api/admin/queue/stats
func (ac *AdminController) QueueStats(c *gin.Context) {
	siteID, ok := parseOptionalQueryID(c, "site_id")
	if !ok {
		return
	}
	stats, err := ac.queue.Stats(c.Request.Context(), siteID)
	if err != nil {
		respondInternalError(c, err, "queue stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// FailedItems handles GET /api/admin/queue/failed
func (ac *AdminController) FailedItems(c *gin.Context) {
	siteID, ok := parseOptionalQueryID(c, "site_id")
	if !ok {
		return
	}
	limit, _ := parsePagination(c)
	items, err := ac.queue.ListFailed(c.Request.Context(), siteID, limit)
	if err != nil {
		respondInternalError(c, err, "list failed items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// RetryFailed handles POST /api/admin/queue/retry
func (ac *AdminController) RetryFailed(c *gin.Context) {
	siteID, ok := parseOptionalQueryID(c, "site_id")
	if !ok {
		return
	}
	n, err := ac.processor.RetryFailed(c.Request.Context(), siteID)
	if err != nil {
		respondInternalError(c, err, "retry failed items")
		return
	}
	respondSuccess(c, "failed items reset to pending", gin.H{"count": n})
}

// ProcessQueue handles POST /api/admin/queue/process
// Runs one drain synchronously and returns its summary.
func (ac *AdminController) ProcessQueue(c *gin.Context) {
	limit, _ := parsePagination(c)
	if c.Query("limit") == "" {
		limit = ac.batchSize
	}
	summary, err := ac.processor.Run(c.Request.Context(), limit)
	if err != nil {
		respondInternalError(c, err, "process queue")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Resync handles POST /api/admin/resync
func (ac *AdminController) Resync(c *gin.Context) {
	sum, err := ac.bookings.Resync(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "resync")
		return
	}
	respondAccepted(c, "full resync queued", sum)
}

// --- Conflicts ---

// ListConflicts handles GET /api/admin/conflicts
func (ac *AdminController) ListConflicts(c *gin.Context) {
	siteID, ok := parseOptionalQueryID(c, "site_id")
	if !ok {
		return
	}
	pending, err := ac.resolver.ListPending(c.Request.Context(), siteID)
	if err != nil {
		respondInternalError(c, err, "list conflicts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": pending})
}

// ConflictStats handles GET /api/admin/conflicts/stats
func (ac *AdminController) ConflictStats(c *gin.Context) {
	stats, err := ac.resolver.Stats(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "conflict stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetConflict handles GET /api/admin/conflicts/:id
func (ac *AdminController) GetConflict(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	conflict, err := ac.resolver.Get(c.Request.Context(), id)
	if errors.Is(err, conflicts.ErrConflictNotFound) {
		respondNotFound(c, "conflict")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get conflict")
		return
	}
	c.JSON(http.StatusOK, conflict)
}

// ResolveRequest is the body of POST /api/admin/conflicts/:id/resolve
type ResolveRequest struct {
	Strategy   entities.Resolution `json:"strategy" binding:"required"`
	ResolvedBy string              `json:"resolved_by"`
}

// ResolveConflict handles POST /api/admin/conflicts/:id/resolve
func (ac *AdminController) ResolveConflict(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}

	resolved, err := ac.resolver.Resolve(c.Request.Context(), id, req.Strategy, req.ResolvedBy)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resolved)
	case errors.Is(err, conflicts.ErrConflictNotFound):
		respondNotFound(c, "conflict")
	case errors.Is(err, conflicts.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "already_resolved"})
	case errors.Is(err, conflicts.ErrInvalidStrategy):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_strategy"})
	case errors.Is(err, conflicts.ErrUnsupportedDomain):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "unsupported_domain"})
	case syncer.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "invalid_snapshot"})
	default:
		respondInternalError(c, err, "resolve conflict")
	}
}

// --- Transport log ---

// ListLogs handles GET /api/admin/logs
func (ac *AdminController) ListLogs(c *gin.Context) {
	siteID, ok := parseOptionalQueryID(c, "site_id")
	if !ok {
		return
	}
	filter := transportlog.Filter{
		Direction: entities.LogDirection(c.Query("direction")),
		Status:    entities.LogStatus(c.Query("status")),
	}
	if siteID != nil {
		filter.SiteID = *siteID
	}
	limit, offset := parsePagination(c)

	entries, total, err := ac.logs.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		respondInternalError(c, err, "list logs")
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:    entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(entries)) < total,
	})
}

// --- Scheduler ---

// SchedulerStatus handles GET /api/admin/scheduler
func (ac *AdminController) SchedulerStatus(c *gin.Context) {
	if ac.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running":   ac.scheduler.IsRunning(),
		"next_runs": ac.scheduler.NextRuns(),
	})
}

// RunJob handles POST /api/admin/scheduler/:job/run
func (ac *AdminController) RunJob(c *gin.Context) {
	if ac.scheduler == nil {
		respondError(c, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	err := ac.scheduler.RunNow(c.Param("job"))
	switch {
	case err == nil:
		respondSuccess(c, "job finished", nil)
	case errors.Is(err, scheduler.ErrUnknownJob):
		respondNotFound(c, "job")
	case errors.Is(err, scheduler.ErrJobInProgress):
		respondError(c, http.StatusConflict, err.Error())
	default:
		respondInternalError(c, err, "run job")
	}
}

// RegisterRoutes mounts the operator API under /api/admin.
func (ac *AdminController) RegisterRoutes(router gin.IRouter, token string) {
	admin := router.Group("/api/admin", AdminAuth(token))

	admin.GET("/sites", ac.ListSites)
	admin.POST("/sites", ac.CreateSite)
	admin.GET("/sites/:id", ac.GetSite)
	admin.PUT("/sites/:id", ac.UpdateSite)
	admin.DELETE("/sites/:id", ac.DeleteSite)
	admin.POST("/sites/:id/ping", ac.PingSite)

	admin.GET("/queue/stats", ac.QueueStats)
	admin.GET("/queue/failed", ac.FailedItems)
	admin.POST("/queue/retry", ac.RetryFailed)
	admin.POST("/queue/process", ac.ProcessQueue)
	admin.POST("/resync", ac.Resync)

	admin.GET("/conflicts", ac.ListConflicts)
	admin.GET("/conflicts/stats", ac.ConflictStats)
	admin.GET("/conflicts/:id", ac.GetConflict)
	admin.POST("/conflicts/:id/resolve", ac.ResolveConflict)

	admin.GET("/logs", ac.ListLogs)

	admin.GET("/scheduler", ac.SchedulerStatus)
	admin.POST("/scheduler/:job/run", ac.RunJob)
}
