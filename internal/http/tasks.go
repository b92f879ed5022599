package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/sitesync/internal/conflicts"
	"github.com/mrlokans/sitesync/internal/tasks"
)

// TasksController handles background task endpoints.
type TasksController struct {
	client    *tasks.Client
	batchSize int
}

// NewTasksController creates a new TasksController.
func NewTasksController(client *tasks.Client, batchSize int) *TasksController {
	return &TasksController{client: client, batchSize: batchSize}
}

// TaskTypeInfo describes an available task type.
type TaskTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Queue       string `json:"queue"`
}

// ListTaskTypes handles GET /api/admin/tasks/types
func (tc *TasksController) ListTaskTypes(c *gin.Context) {
	types := []TaskTypeInfo{
		{
			Type:        "process_sync_queue",
			Description: "Push pending queue items to remote sites",
			Queue:       tasks.ProcessSyncQueueTask{}.Config().Name,
		},
		{
			Type:        "retry_failed_sync",
			Description: "Reset failed queue items to pending",
			Queue:       tasks.RetryFailedSyncTask{}.Config().Name,
		},
		{
			Type:        "cleanup_sync_conflicts",
			Description: "Delete resolved conflicts past retention",
			Queue:       tasks.CleanupSyncConflictsTask{}.Config().Name,
		},
		{
			Type:        "ping_remote_site",
			Description: "Check connectivity and credentials of one remote site",
			Queue:       tasks.PingRemoteSiteTask{}.Config().Name,
		},
	}

	c.JSON(http.StatusOK, gin.H{"task_types": types})
}

// GetTaskStatus handles GET /api/admin/tasks/:id
func (tc *TasksController) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		respondBadRequest(c, "task ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := tc.client.Status(ctx, taskID)
	if err != nil {
		respondInternalError(c, err, "task status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     taskID,
		"status": taskStatusToString(status),
	})
}

// RunTaskRequest is the request body for running a task.
type RunTaskRequest struct {
	Limit      int   `json:"limit,omitempty"`
	SiteID     *uint `json:"site_id,omitempty"`
	RetainDays int   `json:"retain_days,omitempty"`
}

// RunTask handles POST /api/admin/tasks/:type/run
func (tc *TasksController) RunTask(c *gin.Context) {
	taskType := c.Param("type")

	var req RunTaskRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	var task backlite.Task
	switch taskType {
	case "process_sync_queue":
		limit := req.Limit
		if limit <= 0 {
			limit = tc.batchSize
		}
		task = tasks.ProcessSyncQueueTask{Limit: limit}

	case "retry_failed_sync":
		task = tasks.RetryFailedSyncTask{SiteID: req.SiteID}

	case "cleanup_sync_conflicts":
		days := req.RetainDays
		if days <= 0 {
			days = conflicts.DefaultRetainDays
		}
		task = tasks.CleanupSyncConflictsTask{RetainDays: days}

	case "ping_remote_site":
		if req.SiteID == nil || *req.SiteID == 0 {
			respondBadRequest(c, "site_id is required for ping_remote_site task")
			return
		}
		task = tasks.PingRemoteSiteTask{SiteID: *req.SiteID}

	default:
		respondBadRequest(c, fmt.Sprintf("unknown task type: %s", taskType))
		return
	}

	ids, err := tc.client.Add(task).Save()
	if err != nil {
		respondInternalError(c, err, "enqueue task")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task_id": ids[0],
		"type":    taskType,
		"message": "task enqueued",
	})
}

// RegisterRoutes mounts the task endpoints under the operator API.
func (tc *TasksController) RegisterRoutes(router gin.IRouter, token string) {
	group := router.Group("/api/admin/tasks", AdminAuth(token))
	group.GET("/types", tc.ListTaskTypes)
	group.GET("/:id", tc.GetTaskStatus)
	group.POST("/:type/run", tc.RunTask)
}

func taskStatusToString(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
