package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/queue"
	"github.com/mrlokans/sitesync/internal/syncer"
)

func TestAdminAuth(t *testing.T) {
	n := newNode(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/sites", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(n, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/sites", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(n, req).Code)

	assert.Equal(t, http.StatusOK, n.admin(t, http.MethodGet, "/api/admin/sites", nil).Code)

	router := gin.New()
	router.GET("/x", AdminAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer ")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminAPI_SiteRegistry(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()

	w := n.admin(t, http.MethodPost, "/api/admin/sites", SiteRequest{
		Name:         "Downtown",
		BaseURL:      "https://Downtown.example.com/",
		SyncBookings: true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID        uint   `json:"id"`
		BaseURL   string `json:"base_url"`
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
		Direction string `json:"direction"`
	}
	decodeJSON(t, w, &created)
	assert.Equal(t, "https://downtown.example.com", created.BaseURL)
	assert.NotEmpty(t, created.APIKey)
	assert.Len(t, created.APISecret, 43)
	assert.Equal(t, string(entities.DirectionBoth), created.Direction)

	w = n.admin(t, http.MethodGet, fmt.Sprintf("/api/admin/sites/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.APISecret)

	t.Run("duplicate URL", func(t *testing.T) {
		w := n.admin(t, http.MethodPost, "/api/admin/sites", SiteRequest{BaseURL: "https://downtown.example.com"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid URL", func(t *testing.T) {
		w := n.admin(t, http.MethodPost, "/api/admin/sites", SiteRequest{BaseURL: "ftp://files.example.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("update keeps secret and status", func(t *testing.T) {
		w := n.admin(t, http.MethodPut, fmt.Sprintf("/api/admin/sites/%d", created.ID), SiteRequest{
			Name:      "Downtown 2",
			BaseURL:   "https://downtown.example.com",
			Direction: entities.DirectionPush,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		site, err := n.sites.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Downtown 2", site.Name)
		assert.Equal(t, entities.DirectionPush, site.Direction)
		assert.Equal(t, entities.SiteStatusActive, site.Status)
		assert.Equal(t, created.APISecret, site.APISecret)
	})

	t.Run("list by status", func(t *testing.T) {
		w := n.admin(t, http.MethodGet, "/api/admin/sites?status=active", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Sites []entities.RemoteSite `json:"sites"`
		}
		decodeJSON(t, w, &resp)
		assert.Len(t, resp.Sites, 1)

		w = n.admin(t, http.MethodGet, "/api/admin/sites?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := n.admin(t, http.MethodDelete, fmt.Sprintf("/api/admin/sites/%d", created.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		w = n.admin(t, http.MethodGet, fmt.Sprintf("/api/admin/sites/%d", created.ID), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminAPI_PingSite(t *testing.T) {
	a, b := newNode(t), newNode(t)
	ofB, _ := link(t, a, b, "pair-ab")

	w := a.admin(t, http.MethodPost, fmt.Sprintf("/api/admin/sites/%d/ping", ofB.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply syncer.PingReply
	decodeJSON(t, w, &reply)
	assert.Equal(t, b.url, reply.Site)

	w = a.admin(t, http.MethodPost, "/api/admin/sites/999/ping", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	b.server.Close()
	w = a.admin(t, http.MethodPost, fmt.Sprintf("/api/admin/sites/%d/ping", ofB.ID), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	site, err := a.sites.Get(context.Background(), ofB.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SiteStatusError, site.Status)
}

func TestAdminAPI_Queue(t *testing.T) {
	a, b := newNode(t), newNode(t)
	ofB, _ := link(t, a, b, "pair-ab")
	ctx := context.Background()

	_, err := a.service.CreateBooking(ctx, newBooking())
	require.NoError(t, err)

	w := a.admin(t, http.MethodGet, fmt.Sprintf("/api/admin/queue/stats?site_id=%d", ofB.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats dbqueue.Stats
	decodeJSON(t, w, &stats)
	assert.Equal(t, int64(1), stats.Pending)

	w = a.admin(t, http.MethodPost, "/api/admin/queue/process?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary queue.Summary
	decodeJSON(t, w, &summary)
	assert.Equal(t, 1, summary.Completed)

	w = a.admin(t, http.MethodPost, "/api/admin/resync", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resync struct {
		Data struct {
			Bookings int `json:"bookings"`
		} `json:"data"`
	}
	decodeJSON(t, w, &resync)
	assert.Equal(t, 1, resync.Data.Bookings)

	// Force the resync item to fail permanently, then retry it.
	b.server.Close()
	item, err := a.queue.FindPending(ctx, ofB.ID, entities.DomainBooking, 1)
	require.NoError(t, err)
	require.NoError(t, a.db.DB.Model(item).Update("max_attempts", 1).Error)

	w = a.admin(t, http.MethodPost, "/api/admin/queue/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &summary)
	assert.Equal(t, 1, summary.Failed)

	w = a.admin(t, http.MethodGet, "/api/admin/queue/failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var failed struct {
		Items []entities.QueueItem `json:"items"`
	}
	decodeJSON(t, w, &failed)
	require.Len(t, failed.Items, 1)
	assert.NotEmpty(t, failed.Items[0].ErrorMessage)

	w = a.admin(t, http.MethodPost, "/api/admin/queue/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var retried struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	decodeJSON(t, w, &retried)
	assert.Equal(t, 1, retried.Data.Count)
}

func TestAdminAPI_Conflicts(t *testing.T) {
	n := newNode(t)
	addPeer(t, n, nil)

	// Two remote records for the same slot produce a double booking conflict.
	for _, id := range []uint{1, 2} {
		w := serve(n, signedRequest(t, http.MethodPost, bookPath, peerKey, peerSecret, bookingPayload(t, id, peerURL), now()))
		require.Less(t, w.Code, 300, w.Body.String())
	}

	w := n.admin(t, http.MethodGet, "/api/admin/conflicts/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":1`)

	w = n.admin(t, http.MethodGet, "/api/admin/conflicts", nil)
	var pending struct {
		Conflicts []entities.ConflictRecord `json:"conflicts"`
	}
	decodeJSON(t, w, &pending)
	require.Len(t, pending.Conflicts, 1)
	id := pending.Conflicts[0].ID

	w = n.admin(t, http.MethodGet, fmt.Sprintf("/api/admin/conflicts/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = n.admin(t, http.MethodGet, "/api/admin/conflicts/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	path := fmt.Sprintf("/api/admin/conflicts/%d/resolve", id)
	w = n.admin(t, http.MethodPost, path, ResolveRequest{Strategy: "coin-flip"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = n.admin(t, http.MethodPost, path, ResolveRequest{Strategy: entities.ResolutionMerge})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = n.admin(t, http.MethodPost, path, ResolveRequest{Strategy: entities.ResolutionSkip})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolved entities.ConflictRecord
	decodeJSON(t, w, &resolved)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, entities.ResolutionSkip, *resolved.Resolution)
	assert.Equal(t, "operator", resolved.ResolvedBy)
}

func TestAdminAPI_SchedulerNotConfigured(t *testing.T) {
	n := newNode(t)

	w := n.admin(t, http.MethodGet, "/api/admin/scheduler", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":false`)

	w = n.admin(t, http.MethodPost, "/api/admin/scheduler/process/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
