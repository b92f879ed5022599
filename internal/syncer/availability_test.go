package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/sitesync/internal/entities"
)

func availabilityBody(t *testing.T, remoteID uint, f AvailabilityFields) []byte {
	t.Helper()
	hash, err := Hash(f)
	require.NoError(t, err)
	return encode(t, AvailabilityPayload{Envelope: Envelope{ID: remoteID, SourceSite: peerURL, Hash: hash}, AvailabilityFields: f})
}

func TestAvailability_CreateUpdateDelete(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	f := AvailabilityFields{StaffID: 2, Date: "2026-05-01", StartTime: "12:00", EndTime: "13:00", Available: false, Note: "lunch"}

	res, err := h.adapters.Availability.HandleIncoming(ctx, Inbound{Method: http.MethodPost, Body: availabilityBody(t, 5, f)})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)

	free, err := h.deps.Store.IsSlotFree(ctx, 2, "2026-05-01", "12:30")
	require.NoError(t, err)
	assert.False(t, free)

	f.EndTime = "12:15"
	res2, err := h.adapters.Availability.HandleIncoming(ctx, Inbound{Method: http.MethodPut, Body: availabilityBody(t, 5, f)})
	require.NoError(t, err)
	assert.Equal(t, res.LocalID, res2.LocalID)

	free, err = h.deps.Store.IsSlotFree(ctx, 2, "2026-05-01", "12:30")
	require.NoError(t, err)
	assert.True(t, free)

	out, err := h.adapters.Availability.HandleIncoming(ctx, Inbound{Method: http.MethodDelete, Body: encode(t, Envelope{ID: 5, SourceSite: peerURL})})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, out.Outcome)
}

func TestAvailability_RejectsInvertedRange(t *testing.T) {
	h := setupHarness(t)
	f := AvailabilityFields{StaffID: 2, Date: "2026-05-01", StartTime: "13:00", EndTime: "12:00"}

	_, err := h.adapters.Availability.HandleIncoming(context.Background(), Inbound{Method: http.MethodPost, Body: availabilityBody(t, 5, f)})
	assert.True(t, IsValidation(err))
}

func TestAvailability_CheckLocal(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	require.NoError(t, h.deps.Store.CreateBooking(ctx, &entities.Booking{StaffID: 4, Date: "2026-05-01", Time: "09:00"}))

	check, err := h.adapters.Availability.CheckLocal(ctx, 4, "2026-05-01", "09:00")
	require.NoError(t, err)
	assert.False(t, check.Available)

	check, err = h.adapters.Availability.CheckLocal(ctx, 4, "2026-05-01", "10:00")
	require.NoError(t, err)
	assert.True(t, check.Available)

	_, err = h.adapters.Availability.CheckLocal(ctx, 4, "May 1st", "10:00")
	assert.True(t, IsValidation(err))
}

func TestAvailability_CheckRemote(t *testing.T) {
	h := setupHarness(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/remote/v1/availability/check", r.URL.Path)
		assert.Equal(t, "4", r.URL.Query().Get("staff_id"))
		assert.Equal(t, "10:00", r.URL.Query().Get("time"))
		_ = json.NewEncoder(w).Encode(AvailabilityCheck{StaffID: 4, Date: "2026-05-01", Time: "10:00", Available: true})
	}))
	defer server.Close()

	site := *h.peer
	site.BaseURL = server.URL
	check, err := h.adapters.Availability.CheckRemote(context.Background(), &site, 4, "2026-05-01", "10:00")
	require.NoError(t, err)
	assert.True(t, check.Available)
}
