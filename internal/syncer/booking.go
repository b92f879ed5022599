package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrlokans/sitesync/internal/database/bookings"
	"github.com/mrlokans/sitesync/internal/entities"
)

// BookingAdapter replicates bookings.
type BookingAdapter struct {
	flow[entities.Booking, BookingFields]
}

func NewBookingAdapter(deps Deps) *BookingAdapter {
	a := &BookingAdapter{}
	a.flow = newFlow[entities.Booking, BookingFields](deps, entities.DomainBooking, bookingRecords{deps.Store}, bookings.ErrBookingNotFound, a.apply)
	return a
}

// BuildPayload returns the wire representation of a local booking.
func (a *BookingAdapter) BuildPayload(ctx context.Context, localID uint) (*BookingPayload, error) {
	b, err := a.deps.Store.GetBooking(ctx, localID)
	if err != nil {
		return nil, err
	}
	fields := BookingFieldsOf(b)
	hash, err := Hash(fields)
	if err != nil {
		return nil, err
	}
	return &BookingPayload{Envelope: a.envelope(localID, hash), BookingFields: fields}, nil
}

// QueueOutgoing queues the change for every eligible site and returns how many
// sites it was queued for. Deletes carry only the envelope, so the local
// record may already be gone.
func (a *BookingAdapter) QueueOutgoing(ctx context.Context, localID uint, action entities.Action) (int, error) {
	switch action {
	case entities.ActionDelete:
		return a.enqueue(ctx, localID, action, PriorityDelete, a.envelope(localID, ""))
	case entities.ActionCreate, entities.ActionUpdate, entities.ActionSync:
		payload, err := a.BuildPayload(ctx, localID)
		if err != nil {
			return 0, fmt.Errorf("failed to build booking payload: %w", err)
		}
		return a.enqueue(ctx, localID, action, PriorityBooking, payload)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
}

func (a *BookingAdapter) Push(ctx context.Context, site *entities.RemoteSite, item *entities.QueueItem) error {
	return a.push(ctx, site, item)
}

// apply matches the change to a mapped booking; an unmapped booking that
// would take an occupied slot becomes a double_booking conflict.
func (a *BookingAdapter) apply(ctx context.Context, site *entities.RemoteSite, env Envelope, f BookingFields) (*Result, error) {
	m, local, err := a.mapped(ctx, site.ID, env.ID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return a.update(ctx, site, m, local, env.ID, f)
	}

	if f.Status != entities.BookingStatusCancelled {
		existing, err := a.deps.Store.FindBookingAt(ctx, f.StaffID, f.Date, f.Time, 0)
		if err == nil {
			return a.conflict(ctx, site.ID, entities.ConflictTypeDoubleBooking, existing.ID, env.ID, BookingFieldsOf(existing), f)
		}
		if !errors.Is(err, bookings.ErrBookingNotFound) {
			return nil, err
		}
	}
	return a.create(ctx, site, env.ID, f)
}

type bookingRecords struct{ store *bookings.Repository }

func (r bookingRecords) get(ctx context.Context, id uint) (*entities.Booking, error) {
	return r.store.GetBooking(ctx, id)
}

func (r bookingRecords) insert(ctx context.Context, b *entities.Booking) error {
	return r.store.CreateBooking(ctx, b)
}

func (r bookingRecords) save(ctx context.Context, b *entities.Booking) error {
	return r.store.SaveBooking(ctx, b)
}

func (r bookingRecords) remove(ctx context.Context, id uint) error {
	_, err := r.store.DeleteBooking(ctx, id)
	return err
}

func (bookingRecords) fields(b *entities.Booking) (uint, BookingFields) {
	return b.ID, BookingFieldsOf(b)
}
