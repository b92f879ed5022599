package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/mrlokans/sitesync/internal/auth"
	"github.com/mrlokans/sitesync/internal/database/sites"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/metrics"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/transport"
)

const (
	contextKeySite = "remote_site"

	maxPeerBodyBytes = 1 << 20
)

// PeerErrorResponse is the error body of the peer API. Peers read "message".
type PeerErrorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// InboundHandler applies a change pushed by a peer.
type InboundHandler interface {
	HandleIncoming(ctx context.Context, in syncer.Inbound) (*syncer.Result, error)
}

// SlotChecker answers availability questions from peers.
type SlotChecker interface {
	CheckLocal(ctx context.Context, staffID uint, date, at string) (*syncer.AvailabilityCheck, error)
}

// InboundLog records inbound peer requests.
type InboundLog interface {
	Begin(ctx context.Context, entry *entities.TransportLogEntry) error
	Finish(ctx context.Context, entry *entities.TransportLogEntry) error
}

// PeerController serves the signed API other sites push changes to.
type PeerController struct {
	sites    *sites.Repository
	logs     InboundLog
	handlers map[entities.Domain]InboundHandler
	checker  SlotChecker
	siteURL  string
	skew     time.Duration
	limiter  *auth.RateLimiter
	now      func() time.Time
}

func NewPeerController(siteRepo *sites.Repository, logs InboundLog, adapters *syncer.Adapters, siteURL string, skew time.Duration) *PeerController {
	return &PeerController{
		sites: siteRepo,
		logs:  logs,
		handlers: map[entities.Domain]InboundHandler{
			entities.DomainBooking:      adapters.Booking,
			entities.DomainAvailability: adapters.Availability,
			entities.DomainCustomer:     adapters.Customer,
		},
		checker: adapters.Availability,
		siteURL: siteURL,
		skew:    skew,
		now:     time.Now,
	}
}

// WithLimiter locks out callers that keep failing authentication.
func (pc *PeerController) WithLimiter(rl *auth.RateLimiter) *PeerController {
	pc.limiter = rl
	return pc
}

// Authenticate verifies the request signature against the secret of the
// site owning X-Remote-Key and records the exchange in the transport log.
func (pc *PeerController) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip, apiKey := c.ClientIP(), c.GetHeader(transport.HeaderKey)
		if pc.limiter != nil {
			if ok, retryAfter := pc.limiter.Allow(ip, apiKey); !ok {
				metrics.TransportRequests.WithLabelValues(string(entities.LogDirectionInbound), string(entities.LogStatusError)).Inc()
				requestLogger(c).Warn("peer locked out", zap.String("ip", ip), zap.Duration("retry_after", retryAfter))
				auth.Reject(c, retryAfter, PeerErrorResponse{Message: "too many failed authentication attempts"})
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeerBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, PeerErrorResponse{Message: "failed to read body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		site, err := pc.sites.GetByAPIKey(c.Request.Context(), apiKey)
		if errors.Is(err, sites.ErrSiteNotFound) {
			pc.failed(c, ip, apiKey)
			pc.reject(c, http.StatusUnauthorized, "unknown API key")
			return
		}
		if err != nil {
			requestLogger(c).Error("failed to look up peer", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, PeerErrorResponse{Message: "internal server error"})
			return
		}

		err = transport.Verify(
			c.GetHeader(transport.HeaderTimestamp), body,
			c.GetHeader(transport.HeaderSignature), site.APISecret,
			pc.now(), pc.skew,
		)
		if err != nil {
			pc.failed(c, ip, apiKey)
			pc.reject(c, http.StatusUnauthorized, err.Error())
			return
		}
		if pc.limiter != nil {
			pc.limiter.RecordSuccess(ip, apiKey)
		}
		if site.Status == entities.SiteStatusDisabled {
			pc.reject(c, http.StatusForbidden, syncer.ErrSiteDisabled.Error())
			return
		}

		c.Set(contextKeySite, site)
		entry := &entities.TransportLogEntry{
			SiteID:    site.ID,
			Direction: entities.LogDirectionInbound,
			Method:    c.Request.Method,
			Endpoint:  c.Request.URL.RequestURI(),
			RequestID: c.GetHeader(transport.HeaderRequestID),
		}
		if len(body) > 0 {
			entry.Payload = datatypes.JSON(body)
		}
		pc.begin(c, entry)

		start := time.Now()
		c.Next()

		entry.DurationMS = time.Since(start).Milliseconds()
		entry.HTTPStatus = c.Writer.Status()
		entry.Status = entities.LogStatusSuccess
		if entry.HTTPStatus >= http.StatusBadRequest {
			entry.Status = entities.LogStatusError
			entry.Error = c.Errors.String()
		}
		metrics.TransportRequests.WithLabelValues(string(entities.LogDirectionInbound), string(entry.Status)).Inc()
		pc.finish(c, entry)
	}
}

func (pc *PeerController) failed(c *gin.Context, ip, apiKey string) {
	if pc.limiter == nil {
		return
	}
	if locked, d := pc.limiter.RecordFailure(ip, apiKey); locked {
		requestLogger(c).Warn("peer locked out after repeated authentication failures",
			zap.String("ip", ip), zap.Duration("lockout", d))
	}
}

func (pc *PeerController) reject(c *gin.Context, status int, message string) {
	metrics.TransportRequests.WithLabelValues(string(entities.LogDirectionInbound), string(entities.LogStatusError)).Inc()
	requestLogger(c).Warn("peer request rejected", zap.Int("status", status), zap.String("reason", message))
	c.AbortWithStatusJSON(status, PeerErrorResponse{Message: message})
}

func (pc *PeerController) begin(c *gin.Context, entry *entities.TransportLogEntry) {
	if pc.logs == nil {
		return
	}
	if err := pc.logs.Begin(c.Request.Context(), entry); err != nil {
		requestLogger(c).Warn("failed to write transport log", zap.Error(err))
	}
}

func (pc *PeerController) finish(c *gin.Context, entry *entities.TransportLogEntry) {
	if pc.logs == nil || entry.ID == 0 {
		return
	}
	if err := pc.logs.Finish(context.WithoutCancel(c.Request.Context()), entry); err != nil {
		requestLogger(c).Warn("failed to finish transport log", zap.Error(err))
	}
}

func authenticatedSite(c *gin.Context) *entities.RemoteSite {
	if v, ok := c.Get(contextKeySite); ok {
		if site, ok := v.(*entities.RemoteSite); ok {
			return site
		}
	}
	return nil
}

// Ping handles GET {prefix}/ping
func (pc *PeerController) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, syncer.PingReply{Status: "ok", Site: pc.siteURL, Time: pc.now()})
}

// Change returns the handler for POST/PUT/DELETE {prefix}/{domain}.
func (pc *PeerController) Change(domain entities.Domain) gin.HandlerFunc {
	return func(c *gin.Context) {
		handler, ok := pc.handlers[domain]
		if !ok {
			c.JSON(http.StatusNotFound, PeerErrorResponse{Message: "unknown domain"})
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, PeerErrorResponse{Message: "failed to read body"})
			return
		}

		result, err := handler.HandleIncoming(c.Request.Context(), syncer.Inbound{
			Method: c.Request.Method,
			Body:   body,
			Site:   authenticatedSite(c),
		})
		if err != nil {
			respondPeerError(c, err)
			return
		}

		status := http.StatusOK
		if result.Outcome == syncer.OutcomeConflict {
			status = http.StatusAccepted
		}
		c.JSON(status, result.Reply())
	}
}

// CheckAvailability handles GET {prefix}/availability/check
func (pc *PeerController) CheckAvailability(c *gin.Context) {
	staffID, err := strconv.ParseUint(c.Query("staff_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, PeerErrorResponse{
			Message: "invalid payload",
			Fields:  map[string]string{"staff_id": "is required"},
		})
		return
	}
	check, err := pc.checker.CheckLocal(c.Request.Context(), uint(staffID), c.Query("date"), c.Query("time"))
	if err != nil {
		respondPeerError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// respondPeerError maps sync errors to the status codes peers rely on.
func respondPeerError(c *gin.Context, err error) {
	_ = c.Error(err)

	var ve *syncer.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, PeerErrorResponse{Message: ve.Message, Fields: ve.Fields})
	case errors.Is(err, syncer.ErrUnknownSite):
		c.JSON(http.StatusNotFound, PeerErrorResponse{Message: err.Error()})
	case errors.Is(err, syncer.ErrSiteMismatch),
		errors.Is(err, syncer.ErrSiteDisabled),
		errors.Is(err, syncer.ErrDirectionForbidden),
		errors.Is(err, syncer.ErrDomainDisabled):
		c.JSON(http.StatusForbidden, PeerErrorResponse{Message: err.Error()})
	case errors.Is(err, syncer.ErrUnsupportedAction):
		c.JSON(http.StatusMethodNotAllowed, PeerErrorResponse{Message: err.Error()})
	default:
		requestLogger(c).Error("failed to apply peer change", zap.Error(err))
		c.JSON(http.StatusInternalServerError, PeerErrorResponse{Message: "internal server error"})
	}
}

// RegisterRoutes mounts the peer API under prefix.
func (pc *PeerController) RegisterRoutes(router gin.IRouter, prefix string) {
	group := router.Group("/"+strings.Trim(prefix, "/"), pc.Authenticate())
	group.GET("/ping", pc.Ping)
	group.GET("/availability/check", pc.CheckAvailability)
	for _, domain := range []entities.Domain{entities.DomainBooking, entities.DomainAvailability, entities.DomainCustomer} {
		handler := pc.Change(domain)
		path := "/" + string(domain)
		group.POST(path, handler)
		group.PUT(path, handler)
		group.DELETE(path, handler)
	}
}
