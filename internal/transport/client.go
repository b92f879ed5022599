// Package transport sends signed JSON requests to peer sites and verifies
// the signatures on requests received from them.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/metrics"
)

const (
	DefaultPrefix  = "api/remote/v1"
	defaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
	maxLoggedBytes   = 2000
)

// LogStore persists the request log. Begin is called before each request and
// Finish after it, whether it succeeded or not.
type LogStore interface {
	Begin(ctx context.Context, entry *entities.TransportLogEntry) error
	Finish(ctx context.Context, entry *entities.TransportLogEntry) error
}

// Response is a successful peer reply.
type Response struct {
	StatusCode int
	Body       []byte
	RequestID  string
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client sends signed requests to peer sites.
type Client struct {
	httpClient *http.Client
	prefix     string
	logs       LogStore
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(c *Client) {
		if p := strings.Trim(prefix, "/"); p != "" {
			c.prefix = p
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a peer client. logs may be nil to disable the request log.
func NewClient(logs LogStore, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		prefix:     DefaultPrefix,
		logs:       logs,
		logger:     logger.OrNop(log),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint builds the URL for a domain path on the given site.
func (c *Client) Endpoint(site *entities.RemoteSite, domainPath string) string {
	return strings.TrimRight(site.BaseURL, "/") + "/" + c.prefix + "/" + strings.TrimLeft(domainPath, "/")
}

// Send performs one signed request. Any status of 400 or above is returned as
// a *TransportError carrying the peer's message. Send never retries.
func (c *Client) Send(ctx context.Context, site *entities.RemoteSite, method, domainPath string, body []byte) (*Response, error) {
	endpoint := c.Endpoint(site, domainPath)
	requestID := uuid.NewString()
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	entry := &entities.TransportLogEntry{
		SiteID:    site.ID,
		Direction: entities.LogDirectionOutbound,
		Method:    method,
		Endpoint:  endpoint,
		RequestID: requestID,
	}
	if len(body) > 0 && json.Valid(body) {
		entry.Payload = datatypes.JSON(body)
	}
	c.begin(ctx, entry)

	start := time.Now()
	resp, err := c.do(ctx, site, method, endpoint, requestID, timestamp, body)
	elapsed := time.Since(start)
	metrics.TransportDuration.Observe(elapsed.Seconds())

	entry.DurationMS = elapsed.Milliseconds()
	if err != nil {
		entry.Status = entities.LogStatusError
		entry.Error = truncate(err.Error(), 500)
		if te, ok := err.(*TransportError); ok {
			entry.HTTPStatus = te.StatusCode
		}
		metrics.TransportRequests.WithLabelValues(string(entities.LogDirectionOutbound), string(entities.LogStatusError)).Inc()
		c.logger.Warn("peer request failed",
			zap.Uint("site_id", site.ID),
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	} else {
		entry.Status = entities.LogStatusSuccess
		entry.HTTPStatus = resp.StatusCode
		entry.Response = truncate(string(resp.Body), maxLoggedBytes)
		metrics.TransportRequests.WithLabelValues(string(entities.LogDirectionOutbound), string(entities.LogStatusSuccess)).Inc()
		c.logger.Debug("peer request succeeded",
			zap.Uint("site_id", site.ID),
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed),
		)
	}
	c.finish(ctx, entry)

	return resp, err
}

func (c *Client) do(ctx context.Context, site *entities.RemoteSite, method, endpoint, requestID, timestamp string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &TransportError{Message: "failed to create request", Err: err}
	}

	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderKey, site.APIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(timestamp, body, site.APISecret))
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody, RequestID: requestID}, nil
}

func (c *Client) begin(ctx context.Context, entry *entities.TransportLogEntry) {
	if c.logs == nil {
		return
	}
	if err := c.logs.Begin(ctx, entry); err != nil {
		c.logger.Warn("failed to write transport log", zap.Error(err))
	}
}

func (c *Client) finish(ctx context.Context, entry *entities.TransportLogEntry) {
	if c.logs == nil {
		return
	}
	// The request context may already be cancelled; the outcome is still recorded.
	if err := c.logs.Finish(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("failed to update transport log", zap.Error(err))
	}
}

// errorMessage extracts the peer's message field, falling back to the status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected response from remote site"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
