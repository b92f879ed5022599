package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/sitesync/internal/database"
	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// QueueStatter reports outbound queue counters.
type QueueStatter interface {
	Stats(ctx context.Context, siteID *uint) (dbqueue.Stats, error)
}

// SchedulerState reports whether the periodic jobs are running.
type SchedulerState interface {
	IsRunning() bool
}

type HealthController struct {
	db        *database.Database
	version   string
	queue     QueueStatter
	scheduler SchedulerState
}

func NewHealthController(db *database.Database, version string) *HealthController {
	return &HealthController{
		db:      db,
		version: version,
	}
}

// WithQueue adds queue counters to the health report.
func (h *HealthController) WithQueue(q QueueStatter) *HealthController {
	h.queue = q
	return h
}

// WithScheduler adds the scheduler state to the health report.
func (h *HealthController) WithScheduler(s SchedulerState) *HealthController {
	h.scheduler = s
	return h
}

func (h *HealthController) Status(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	// Check database connectivity
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "unhealthy"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	// Queue and scheduler state are informational only
	if h.queue != nil && status == "healthy" {
		stats, err := h.queue.Stats(c.Request.Context(), nil)
		if err != nil {
			checks["queue"] = "error: " + err.Error()
		} else {
			checks["queue"] = fmt.Sprintf("pending=%d processing=%d failed=%d", stats.Pending, stats.Processing, stats.Failed)
		}
	}
	if h.scheduler != nil {
		if h.scheduler.IsRunning() {
			checks["scheduler"] = "running"
		} else {
			checks["scheduler"] = "stopped"
		}
	}

	health := HealthResponse{
		Status:  status,
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  checks,
	}

	statusCode := http.StatusOK
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.IndentedJSON(statusCode, health)
}
