package syncer

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/database/sites"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/transport"
)

const PingPath = "ping"

// PingReply is a peer's answer to a health ping.
type PingReply struct {
	Status string    `json:"status"`
	Site   string    `json:"site"`
	Time   time.Time `json:"time"`
}

// ProgressRecorder persists the progress of a PingAll sweep.
type ProgressRecorder interface {
	StartSync(ctx context.Context, totalItems int) error
	UpdateProgress(ctx context.Context, processed, succeeded, failed, skipped int, currentItem string) error
	CompleteSync(ctx context.Context, succeeded bool, errorMsg string) error
}

// HealthChecker pings peers and records their reachability on the site row.
type HealthChecker struct {
	sites    *sites.Repository
	client   *transport.Client
	log      *zap.Logger
	progress ProgressRecorder
}

func NewHealthChecker(siteRepo *sites.Repository, client *transport.Client, log *zap.Logger) *HealthChecker {
	return &HealthChecker{sites: siteRepo, client: client, log: logger.OrNop(log)}
}

// WithProgress records every PingAll sweep in progress.
func (h *HealthChecker) WithProgress(progress ProgressRecorder) *HealthChecker {
	h.progress = progress
	return h
}

// Ping sends a signed ping to site. A disabled site keeps its status.
func (h *HealthChecker) Ping(ctx context.Context, site *entities.RemoteSite) (*PingReply, error) {
	resp, err := h.client.Send(ctx, site, http.MethodGet, PingPath, nil)
	var reply PingReply
	if err == nil {
		err = resp.Decode(&reply)
	}

	if site.Status != entities.SiteStatusDisabled {
		status, msg := entities.SiteStatusActive, ""
		if err != nil {
			status, msg = entities.SiteStatusError, err.Error()
		}
		if markErr := h.sites.MarkStatus(ctx, site.ID, status, msg); markErr != nil {
			h.log.Warn("failed to record site health", zap.Uint("site_id", site.ID), zap.Error(markErr))
		}
		site.Status = status
		site.LastError = msg
	}

	if err != nil {
		h.log.Warn("site ping failed", zap.Uint("site_id", site.ID), zap.String("site", site.BaseURL), zap.Error(err))
		return nil, err
	}
	return &reply, nil
}

func (h *HealthChecker) PingSite(ctx context.Context, id uint) (*PingReply, error) {
	site, err := h.sites.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.Ping(ctx, site)
}

// PingAll pings every site that is not disabled.
func (h *HealthChecker) PingAll(ctx context.Context) (healthy, failed int, err error) {
	all, err := h.sites.List(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	h.start(ctx, len(all))

	skipped := 0
	for i := range all {
		site := &all[i]
		if site.Status == entities.SiteStatusDisabled {
			skipped++
			h.update(ctx, healthy+failed+skipped, healthy, failed, skipped, site.BaseURL)
			continue
		}
		if err = ctx.Err(); err != nil {
			break
		}
		if _, pingErr := h.Ping(ctx, site); pingErr != nil {
			failed++
		} else {
			healthy++
		}
		h.update(ctx, healthy+failed+skipped, healthy, failed, skipped, site.BaseURL)
	}

	h.finish(ctx, err)
	return healthy, failed, err
}

func (h *HealthChecker) start(ctx context.Context, total int) {
	if h.progress == nil {
		return
	}
	if err := h.progress.StartSync(ctx, total); err != nil {
		h.log.Warn("failed to record health check start", zap.Error(err))
	}
}

func (h *HealthChecker) update(ctx context.Context, processed, ok, failed, skipped int, current string) {
	if h.progress == nil {
		return
	}
	if err := h.progress.UpdateProgress(ctx, processed, ok, failed, skipped, current); err != nil {
		h.log.Warn("failed to record health check progress", zap.Error(err))
	}
}

func (h *HealthChecker) finish(ctx context.Context, cause error) {
	if h.progress == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := h.progress.CompleteSync(context.WithoutCancel(ctx), cause == nil, msg); err != nil {
		h.log.Warn("failed to record health check completion", zap.Error(err))
	}
}
