package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mrlokans/sitesync/internal/database/bookings"
	"github.com/mrlokans/sitesync/internal/entities"
)

// AvailabilityCheck is the answer to a slot availability query.
type AvailabilityCheck struct {
	StaffID   uint   `json:"staff_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
	Available bool   `json:"available"`
}

// AvailabilityAdapter replicates staff availability blocks.
type AvailabilityAdapter struct {
	flow[entities.StaffAvailability, AvailabilityFields]
}

func NewAvailabilityAdapter(deps Deps) *AvailabilityAdapter {
	return &AvailabilityAdapter{
		flow: newFlow[entities.StaffAvailability, AvailabilityFields](deps, entities.DomainAvailability, availabilityRecords{deps.Store}, bookings.ErrAvailabilityNotFound, nil),
	}
}

func (a *AvailabilityAdapter) BuildPayload(ctx context.Context, localID uint) (*AvailabilityPayload, error) {
	av, err := a.deps.Store.GetAvailability(ctx, localID)
	if err != nil {
		return nil, err
	}
	fields := AvailabilityFieldsOf(av)
	hash, err := Hash(fields)
	if err != nil {
		return nil, err
	}
	return &AvailabilityPayload{Envelope: a.envelope(localID, hash), AvailabilityFields: fields}, nil
}

func (a *AvailabilityAdapter) QueueOutgoing(ctx context.Context, localID uint, action entities.Action) (int, error) {
	switch action {
	case entities.ActionDelete:
		return a.enqueue(ctx, localID, action, PriorityDelete, a.envelope(localID, ""))
	case entities.ActionCreate, entities.ActionUpdate, entities.ActionSync:
		payload, err := a.BuildPayload(ctx, localID)
		if err != nil {
			return 0, fmt.Errorf("failed to build availability payload: %w", err)
		}
		return a.enqueue(ctx, localID, action, PriorityAvailability, payload)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
}

func (a *AvailabilityAdapter) Push(ctx context.Context, site *entities.RemoteSite, item *entities.QueueItem) error {
	return a.push(ctx, site, item)
}

// CheckLocal answers whether a staff member is free at the given slot here.
func (a *AvailabilityAdapter) CheckLocal(ctx context.Context, staffID uint, date, at string) (*AvailabilityCheck, error) {
	check := &AvailabilityCheck{StaffID: staffID, Date: date, Time: at}
	if err := validatePayload(check); err != nil {
		return nil, err
	}
	free, err := a.deps.Store.IsSlotFree(ctx, staffID, date, at)
	if err != nil {
		return nil, err
	}
	check.Available = free
	return check, nil
}

// CheckRemote asks a peer whether a staff member is free at the given slot.
func (a *AvailabilityAdapter) CheckRemote(ctx context.Context, site *entities.RemoteSite, staffID uint, date, at string) (*AvailabilityCheck, error) {
	q := url.Values{}
	q.Set("staff_id", strconv.FormatUint(uint64(staffID), 10))
	q.Set("date", date)
	q.Set("time", at)

	resp, err := a.deps.Client.Send(ctx, site, http.MethodGet, "availability/check?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var check AvailabilityCheck
	if err := resp.Decode(&check); err != nil {
		return nil, err
	}
	return &check, nil
}

type availabilityRecords struct{ store *bookings.Repository }

func (r availabilityRecords) get(ctx context.Context, id uint) (*entities.StaffAvailability, error) {
	return r.store.GetAvailability(ctx, id)
}

func (r availabilityRecords) insert(ctx context.Context, av *entities.StaffAvailability) error {
	return r.store.CreateAvailability(ctx, av)
}

func (r availabilityRecords) save(ctx context.Context, av *entities.StaffAvailability) error {
	return r.store.SaveAvailability(ctx, av)
}

func (r availabilityRecords) remove(ctx context.Context, id uint) error {
	_, err := r.store.DeleteAvailability(ctx, id)
	return err
}

func (availabilityRecords) fields(av *entities.StaffAvailability) (uint, AvailabilityFields) {
	return av.ID, AvailabilityFieldsOf(av)
}
