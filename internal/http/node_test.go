package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/sitesync/internal/bookings"
	"github.com/mrlokans/sitesync/internal/conflicts"
	"github.com/mrlokans/sitesync/internal/database"
	store "github.com/mrlokans/sitesync/internal/database/bookings"
	dbconflicts "github.com/mrlokans/sitesync/internal/database/conflicts"
	"github.com/mrlokans/sitesync/internal/database/mappings"
	dbqueue "github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/database/sites"
	"github.com/mrlokans/sitesync/internal/database/transportlog"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/queue"
	"github.com/mrlokans/sitesync/internal/syncer"
	"github.com/mrlokans/sitesync/internal/transport"
)

const testAdminToken = "admin-token"

// node is one complete installation listening on a local test server.
type node struct {
	db        *database.Database
	sites     *sites.Repository
	queue     *dbqueue.Repository
	logs      *transportlog.Repository
	mappings  *mappings.Repository
	conflicts *dbconflicts.Repository
	store     *store.Repository
	adapters  *syncer.Adapters
	processor *queue.Processor
	resolver  *conflicts.Resolver
	service   *bookings.Service
	router    *gin.Engine
	server    *httptest.Server
	url       string
}

func newNode(t *testing.T) *node {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), database.WithLogMode("silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n := &node{
		db:        db,
		sites:     sites.NewRepository(db.DB, nil),
		queue:     dbqueue.NewRepository(db.DB),
		logs:      transportlog.NewRepository(db.DB),
		mappings:  mappings.NewRepository(db.DB),
		conflicts: dbconflicts.NewRepository(db.DB),
		store:     store.NewRepository(db.DB),
	}

	// The listener exists before Start, so the public URL is known while wiring.
	n.server = httptest.NewUnstartedServer(nil)
	n.url = "http://" + n.server.Listener.Addr().String()

	client := transport.NewClient(n.logs, nil)
	n.adapters = syncer.NewAdapters(syncer.Deps{
		Sites:      n.sites,
		Mappings:   n.mappings,
		Queue:      n.queue,
		Conflicts:  n.conflicts,
		Store:      n.store,
		Client:     client,
		SourceSite: n.url,
	})
	n.processor = queue.NewProcessor(n.queue, n.sites, map[entities.Domain]queue.Pusher{
		entities.DomainBooking:      n.adapters.Booking,
		entities.DomainAvailability: n.adapters.Availability,
		entities.DomainCustomer:     n.adapters.Customer,
	}, nil)
	n.resolver = conflicts.NewResolver(n.conflicts, n.mappings, map[entities.Domain]conflicts.Applier{
		entities.DomainBooking:      n.adapters.Booking,
		entities.DomainAvailability: n.adapters.Availability,
		entities.DomainCustomer:     n.adapters.Customer,
	}, nil)
	n.service = bookings.NewService(n.store, n.adapters, nil)

	n.router = NewRouter(RouterConfig{
		Database:      db,
		Version:       "test",
		Sites:         n.sites,
		Adapters:      n.adapters,
		Logs:          n.logs,
		SiteURL:       n.url,
		APIPrefix:     transport.DefaultPrefix,
		SignatureSkew: transport.DefaultSkew,
		AdminToken:    testAdminToken,
		Queue:         n.queue,
		Processor:     n.processor,
		Resolver:      n.resolver,
		Health:        syncer.NewHealthChecker(n.sites, client, nil),
		Bookings:      n.service,
		BatchSize:     50,
	})
	n.server.Config.Handler = n.router
	n.server.Start()
	t.Cleanup(n.server.Close)
	return n
}

// link registers a and b with each other using one shared key and secret.
// It returns a's record of b and b's record of a.
func link(t *testing.T, a, b *node, key string) (*entities.RemoteSite, *entities.RemoteSite) {
	t.Helper()
	ctx := context.Background()
	newSite := func(name, url string) *entities.RemoteSite {
		return &entities.RemoteSite{
			Name:             name,
			BaseURL:          url,
			APIKey:           key,
			APISecret:        "secret-" + key,
			Direction:        entities.DirectionBoth,
			SyncBookings:     true,
			SyncAvailability: true,
			SyncCustomers:    true,
		}
	}
	ofB := newSite("b", b.url)
	_, err := a.sites.Save(ctx, ofB)
	require.NoError(t, err)
	ofA := newSite("a", a.url)
	_, err = b.sites.Save(ctx, ofA)
	require.NoError(t, err)
	return ofB, ofA
}

// admin performs an operator API call against the node's router.
func (n *node) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	n.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// signedRequest builds a peer API request signed the way transport.Client does.
func signedRequest(t *testing.T, method, path, key, secret string, body []byte, ts string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(transport.HeaderKey, key)
	req.Header.Set(transport.HeaderTimestamp, ts)
	req.Header.Set(transport.HeaderSignature, transport.Sign(ts, body, secret))
	return req
}
