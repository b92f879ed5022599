package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/sitesync/internal/auth"
	"github.com/mrlokans/sitesync/internal/database/transportlog"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/transport"
)

const (
	peerURL    = "https://peer.example.com"
	peerKey    = "peer-key"
	peerSecret = "peer-secret"
	pingPath   = "/api/remote/v1/ping"
	bookPath   = "/api/remote/v1/booking"
)

func addPeer(t *testing.T, n *node, mutate func(*entities.RemoteSite)) *entities.RemoteSite {
	t.Helper()
	site := &entities.RemoteSite{
		Name:             "peer",
		BaseURL:          peerURL,
		APIKey:           peerKey,
		APISecret:        peerSecret,
		Direction:        entities.DirectionBoth,
		SyncBookings:     true,
		SyncAvailability: true,
		SyncCustomers:    true,
	}
	if mutate != nil {
		mutate(site)
	}
	_, err := n.sites.Save(context.Background(), site)
	require.NoError(t, err)
	return site
}

func now() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func serve(n *node, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	n.router.ServeHTTP(w, req)
	return w
}

func bookingPayload(t *testing.T, remoteID uint, source string) []byte {
	t.Helper()
	f := syncer.BookingFieldsOf(newBooking())
	hash, err := syncer.Hash(f)
	require.NoError(t, err)
	data, err := json.Marshal(syncer.BookingPayload{
		Envelope:      syncer.Envelope{ID: remoteID, SourceSite: source, Hash: hash},
		BookingFields: f,
	})
	require.NoError(t, err)
	return data
}

func TestPeerAPI_Authentication(t *testing.T) {
	n := newNode(t)
	addPeer(t, n, nil)

	t.Run("valid signature", func(t *testing.T) {
		w := serve(n, signedRequest(t, http.MethodGet, pingPath, peerKey, peerSecret, nil, now()))
		require.Equal(t, http.StatusOK, w.Code)

		var reply syncer.PingReply
		decodeJSON(t, w, &reply)
		assert.Equal(t, "ok", reply.Status)
		assert.Equal(t, n.url, reply.Site)
	})

	t.Run("unknown key", func(t *testing.T) {
		w := serve(n, signedRequest(t, http.MethodGet, pingPath, "nobody", peerSecret, nil, now()))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := serve(n, signedRequest(t, http.MethodGet, pingPath, peerKey, "guess", nil, now()))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
		w := serve(n, signedRequest(t, http.MethodGet, pingPath, peerKey, peerSecret, nil, old))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("body tampered after signing", func(t *testing.T) {
		ts := now()
		req := signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, bookingPayload(t, 2, peerURL), ts)
		req.Header.Set(transport.HeaderSignature, transport.Sign(ts, bookingPayload(t, 1, peerURL), peerSecret))
		w := serve(n, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing headers", func(t *testing.T) {
		w := serve(n, httptest.NewRequest(http.MethodGet, pingPath, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPeerAPI_DisabledSiteIsForbidden(t *testing.T) {
	n := newNode(t)
	addPeer(t, n, func(s *entities.RemoteSite) { s.Status = entities.SiteStatusDisabled })

	w := serve(n, signedRequest(t, http.MethodGet, pingPath, peerKey, peerSecret, nil, now()))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPeerAPI_Changes(t *testing.T) {
	n := newNode(t)
	peer := addPeer(t, n, nil)
	ctx := context.Background()

	body := bookingPayload(t, 42, peerURL)
	w := serve(n, signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, body, now()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply syncer.Reply
	decodeJSON(t, w, &reply)
	require.NotZero(t, reply.LocalID)

	// Same slot from a different remote record is a double booking.
	other := bookingPayload(t, 43, peerURL)
	w = serve(n, signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, other, now()))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	decodeJSON(t, w, &reply)
	assert.NotZero(t, reply.ConflictID)

	w = serve(n, signedRequest(t, http.MethodDelete, bookPath, peerKey, peerSecret, body, now()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries, total, err := n.logs.List(ctx, transportlog.Filter{SiteID: peer.ID, Direction: entities.LogDirectionInbound}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, e := range entries {
		assert.NotEqual(t, entities.LogStatusPending, e.Status)
	}
}

func TestPeerAPI_ErrorStatuses(t *testing.T) {
	n := newNode(t)
	addPeer(t, n, nil)
	addPeer(t, n, func(s *entities.RemoteSite) {
		s.BaseURL = "https://pull-only.example.com"
		s.APIKey = "pull-key"
		s.APISecret = "pull-secret"
		s.Direction = entities.DirectionPush
	})

	t.Run("invalid payload", func(t *testing.T) {
		body := []byte(`{"id":1,"source_site":"` + peerURL + `"}`)
		w := serve(n, signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, body, now()))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp PeerErrorResponse
		decodeJSON(t, w, &resp)
		assert.NotEmpty(t, resp.Fields)
	})

	t.Run("envelope names another site", func(t *testing.T) {
		body := bookingPayload(t, 1, "https://pull-only.example.com")
		w := serve(n, signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, body, now()))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("envelope names an unknown site", func(t *testing.T) {
		body := bookingPayload(t, 1, "https://stranger.example.com")
		w := serve(n, signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, body, now()))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("site that only receives from us", func(t *testing.T) {
		body := bookingPayload(t, 1, "https://pull-only.example.com")
		w := serve(n, signedRequest(t, http.MethodPost, bookPath, "pull-key", "pull-secret", body, now()))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("availability check needs staff", func(t *testing.T) {
		w := serve(n, signedRequest(t, http.MethodGet, "/api/remote/v1/availability/check?date=2026-05-01&time=10:00", peerKey, peerSecret, nil, now()))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("availability check", func(t *testing.T) {
		w := serve(n, signedRequest(t, http.MethodGet, "/api/remote/v1/availability/check?staff_id=3&date=2026-05-01&time=10:00", peerKey, peerSecret, nil, now()))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestPeerAPI_LockoutAfterRepeatedFailures(t *testing.T) {
	n := newNode(t)
	addPeer(t, n, nil)

	limiter := auth.NewRateLimiter(auth.RateLimitConfig{MaxAttempts: 2, LockoutDuration: time.Minute})
	t.Cleanup(limiter.Stop)

	router := gin.New()
	NewPeerController(n.sites, n.logs, n.adapters, n.url, time.Minute).
		WithLimiter(limiter).
		RegisterRoutes(router, "api/remote/v1")

	send := func(secret string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, signedRequest(t, http.MethodGet, pingPath, peerKey, secret, nil, now()))
		return w
	}

	assert.Equal(t, http.StatusOK, send(peerSecret).Code)
	assert.Equal(t, http.StatusUnauthorized, send("guess").Code)
	assert.Equal(t, http.StatusUnauthorized, send("guess").Code)

	w := send(peerSecret)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body PeerErrorResponse
	decodeJSON(t, w, &body)
	assert.Contains(t, body.Message, "too many")
}
