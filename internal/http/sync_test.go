package http

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/sitesync/internal/entities"
)

func newBooking() *entities.Booking {
	return &entities.Booking{
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		StaffID:       3,
		ServiceID:     1,
		Date:          "2026-05-01",
		Time:          "10:00",
		Duration:      60,
		Status:        entities.BookingStatusConfirmed,
		Price:         decimal.RequireFromString("49.90"),
	}
}

func TestSync_BookingLifecycleBetweenSites(t *testing.T) {
	a, b := newNode(t), newNode(t)
	_, aOnB := link(t, a, b, "pair-ab")
	ctx := context.Background()

	booking := newBooking()
	change, err := a.service.CreateBooking(ctx, booking)
	require.NoError(t, err)
	assert.Equal(t, 1, change.Queued)

	summary, err := a.processor.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	m, err := b.mappings.GetByRemote(ctx, aOnB.ID, entities.DomainBooking, booking.ID)
	require.NoError(t, err)
	copied, err := b.store.GetBooking(ctx, m.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", copied.CustomerName)
	assert.True(t, decimal.RequireFromString("49.90").Equal(copied.Price))

	// Inbound changes are not queued back to the sender.
	stats, err := b.queue.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)

	booking.Notes = "bring forms"
	_, err = a.service.UpdateBooking(ctx, booking)
	require.NoError(t, err)
	summary, err = a.processor.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	copied, err = b.store.GetBooking(ctx, m.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "bring forms", copied.Notes)

	_, err = a.service.DeleteBooking(ctx, booking.ID)
	require.NoError(t, err)
	summary, err = a.processor.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	list, err := b.store.ListBookings(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Both sides logged the exchanges.
	w := a.admin(t, http.MethodGet, "/api/admin/logs?direction=outbound", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	decodeJSON(t, w, &page)
	assert.Equal(t, int64(3), page.Total)

	w = b.admin(t, http.MethodGet, "/api/admin/logs?direction=inbound&status=success", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &page)
	assert.Equal(t, int64(3), page.Total)
}

func TestSync_ConcurrentEditResolvedThroughOperatorAPI(t *testing.T) {
	a, b := newNode(t), newNode(t)
	_, aOnB := link(t, a, b, "pair-ab")
	ctx := context.Background()

	booking := newBooking()
	_, err := a.service.CreateBooking(ctx, booking)
	require.NoError(t, err)
	_, err = a.processor.Run(ctx, 10)
	require.NoError(t, err)

	m, err := b.mappings.GetByRemote(ctx, aOnB.ID, entities.DomainBooking, booking.ID)
	require.NoError(t, err)

	// Site B edits its copy before A's next change arrives.
	onB, err := b.store.GetBooking(ctx, m.LocalID)
	require.NoError(t, err)
	onB.Notes = "edited on b"
	_, err = b.service.UpdateBooking(ctx, onB)
	require.NoError(t, err)

	booking.Duration = 90
	booking.CustomerPhone = "+1 555 0100"
	_, err = a.service.UpdateBooking(ctx, booking)
	require.NoError(t, err)
	summary, err := a.processor.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed, "a conflict reply counts as delivered")

	w := b.admin(t, http.MethodGet, "/api/admin/conflicts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Conflicts []entities.ConflictRecord `json:"conflicts"`
	}
	decodeJSON(t, w, &pending)
	require.Len(t, pending.Conflicts, 1)
	conflict := pending.Conflicts[0]
	assert.Equal(t, entities.ConflictTypeConcurrentUpdate, conflict.ConflictType)

	w = b.admin(t, http.MethodPost, fmt.Sprintf("/api/admin/conflicts/%d/resolve", conflict.ID),
		ResolveRequest{Strategy: entities.ResolutionMerge, ResolvedBy: "ops"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	merged, err := b.store.GetBooking(ctx, m.LocalID)
	require.NoError(t, err)
	// Local values win; fields empty locally take the remote value.
	assert.Equal(t, "edited on b", merged.Notes)
	assert.Equal(t, 60, merged.Duration)
	assert.Equal(t, "+1 555 0100", merged.CustomerPhone)

	w = b.admin(t, http.MethodPost, fmt.Sprintf("/api/admin/conflicts/%d/resolve", conflict.ID),
		ResolveRequest{Strategy: entities.ResolutionRemote})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSync_PushToUnreachablePeerIsRetried(t *testing.T) {
	a, b := newNode(t), newNode(t)
	link(t, a, b, "pair-ab")
	b.server.Close()
	ctx := context.Background()

	_, err := a.service.CreateBooking(ctx, newBooking())
	require.NoError(t, err)

	summary, err := a.processor.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)

	stats, err := a.queue.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}
