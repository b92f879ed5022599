// Package bookings applies local booking, availability and customer
// mutations and queues each change for every eligible peer.
package bookings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	store "github.com/mrlokans/sitesync/internal/database/bookings"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/syncer"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrSlotTaken    = errors.New("slot is already booked")
	ErrEmailTaken   = errors.New("email belongs to another customer")
	ErrStaffBlocked = errors.New("staff member is unavailable at that time")
)

// Change is the result of a local mutation.
type Change struct {
	ID     uint `json:"id"`
	Queued int  `json:"queued"`
}

// ResyncSummary counts queue items written by Resync, per domain.
type ResyncSummary struct {
	Bookings     int `json:"bookings"`
	Availability int `json:"availability"`
	Customers    int `json:"customers"`
}

type Service struct {
	store    *store.Repository
	adapters *syncer.Adapters
	log      *zap.Logger
}

func NewService(repo *store.Repository, adapters *syncer.Adapters, log *zap.Logger) *Service {
	return &Service{store: repo, adapters: adapters, log: logger.OrNop(log)}
}

func (s *Service) Store() *store.Repository {
	return s.store
}

// CreateBooking rejects slots held by another live booking or blocked by
// an unavailable period.
func (s *Service) CreateBooking(ctx context.Context, b *entities.Booking) (*Change, error) {
	b.ID = 0
	if err := syncer.ValidateBooking(b); err != nil {
		return nil, err
	}
	if err := s.checkSlot(ctx, b, 0); err != nil {
		return nil, err
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	return s.queue(ctx, s.adapters.Booking, b.ID, entities.ActionCreate)
}

func (s *Service) UpdateBooking(ctx context.Context, b *entities.Booking) (*Change, error) {
	current, err := s.store.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, s.translate(err)
	}
	if err := syncer.ValidateBooking(b); err != nil {
		return nil, err
	}
	if err := s.checkSlot(ctx, b, b.ID); err != nil {
		return nil, err
	}
	b.CreatedAt = current.CreatedAt
	if err := s.store.SaveBooking(ctx, b); err != nil {
		return nil, err
	}
	return s.queue(ctx, s.adapters.Booking, b.ID, entities.ActionUpdate)
}

func (s *Service) DeleteBooking(ctx context.Context, id uint) (*Change, error) {
	deleted, err := s.store.DeleteBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrNotFound
	}
	return s.queue(ctx, s.adapters.Booking, id, entities.ActionDelete)
}

func (s *Service) checkSlot(ctx context.Context, b *entities.Booking, excludeID uint) error {
	if b.Status == entities.BookingStatusCancelled {
		return nil
	}
	_, err := s.store.FindBookingAt(ctx, b.StaffID, b.Date, b.Time, excludeID)
	if err == nil {
		return ErrSlotTaken
	}
	if !errors.Is(err, store.ErrBookingNotFound) {
		return err
	}

	blocks, err := s.store.ListAvailability(ctx, b.StaffID, b.Date)
	if err != nil {
		return err
	}
	for _, a := range blocks {
		if !a.Available && a.StartTime <= b.Time && b.Time < a.EndTime {
			return ErrStaffBlocked
		}
	}
	return nil
}

func (s *Service) CreateAvailability(ctx context.Context, a *entities.StaffAvailability) (*Change, error) {
	a.ID = 0
	if err := syncer.ValidateAvailability(a); err != nil {
		return nil, err
	}
	if err := s.store.CreateAvailability(ctx, a); err != nil {
		return nil, err
	}
	return s.queue(ctx, s.adapters.Availability, a.ID, entities.ActionCreate)
}

func (s *Service) UpdateAvailability(ctx context.Context, a *entities.StaffAvailability) (*Change, error) {
	current, err := s.store.GetAvailability(ctx, a.ID)
	if err != nil {
		return nil, s.translate(err)
	}
	if err := syncer.ValidateAvailability(a); err != nil {
		return nil, err
	}
	a.CreatedAt = current.CreatedAt
	if err := s.store.SaveAvailability(ctx, a); err != nil {
		return nil, err
	}
	return s.queue(ctx, s.adapters.Availability, a.ID, entities.ActionUpdate)
}

func (s *Service) DeleteAvailability(ctx context.Context, id uint) (*Change, error) {
	deleted, err := s.store.DeleteAvailability(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrNotFound
	}
	return s.queue(ctx, s.adapters.Availability, id, entities.ActionDelete)
}

func (s *Service) CreateCustomer(ctx context.Context, c *entities.Customer) (*Change, error) {
	c.ID = 0
	if err := syncer.ValidateCustomer(c); err != nil {
		return nil, err
	}
	if err := s.checkEmail(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return s.queue(ctx, s.adapters.Customer, c.ID, entities.ActionCreate)
}

func (s *Service) UpdateCustomer(ctx context.Context, c *entities.Customer) (*Change, error) {
	current, err := s.store.GetCustomer(ctx, c.ID)
	if err != nil {
		return nil, s.translate(err)
	}
	if err := syncer.ValidateCustomer(c); err != nil {
		return nil, err
	}
	if err := s.checkEmail(ctx, c); err != nil {
		return nil, err
	}
	c.CreatedAt = current.CreatedAt
	if err := s.store.SaveCustomer(ctx, c); err != nil {
		return nil, err
	}
	return s.queue(ctx, s.adapters.Customer, c.ID, entities.ActionUpdate)
}

func (s *Service) DeleteCustomer(ctx context.Context, id uint) (*Change, error) {
	deleted, err := s.store.DeleteCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrNotFound
	}
	return s.queue(ctx, s.adapters.Customer, id, entities.ActionDelete)
}

func (s *Service) checkEmail(ctx context.Context, c *entities.Customer) error {
	existing, err := s.store.FindCustomerByEmail(ctx, c.Email)
	if errors.Is(err, store.ErrCustomerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != c.ID {
		return ErrEmailTaken
	}
	return nil
}

// Resync queues a full "sync" push of every local record to every eligible
// peer. It is used after a site is added or recovered from a long outage.
func (s *Service) Resync(ctx context.Context) (*ResyncSummary, error) {
	var sum ResyncSummary

	bookingRows, err := s.store.ListBookings(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, b := range bookingRows {
		n, err := s.adapters.Booking.QueueOutgoing(ctx, b.ID, entities.ActionSync)
		if err != nil {
			return &sum, fmt.Errorf("failed to queue booking %d: %w", b.ID, err)
		}
		sum.Bookings += n
	}

	blocks, err := s.store.ListAvailability(ctx, 0, "")
	if err != nil {
		return &sum, err
	}
	for _, a := range blocks {
		n, err := s.adapters.Availability.QueueOutgoing(ctx, a.ID, entities.ActionSync)
		if err != nil {
			return &sum, fmt.Errorf("failed to queue availability %d: %w", a.ID, err)
		}
		sum.Availability += n
	}

	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return &sum, err
	}
	for _, c := range customers {
		n, err := s.adapters.Customer.QueueOutgoing(ctx, c.ID, entities.ActionSync)
		if err != nil {
			return &sum, fmt.Errorf("failed to queue customer %d: %w", c.ID, err)
		}
		sum.Customers += n
	}

	s.log.Info("full resync queued",
		zap.Int("bookings", sum.Bookings),
		zap.Int("availability", sum.Availability),
		zap.Int("customers", sum.Customers),
	)
	return &sum, nil
}

type outgoing interface {
	QueueOutgoing(ctx context.Context, localID uint, action entities.Action) (int, error)
}

// queue reports an enqueue failure as an error although the local write
// has already been committed; a later "sync" push repairs the peer.
func (s *Service) queue(ctx context.Context, adapter outgoing, id uint, action entities.Action) (*Change, error) {
	n, err := adapter.QueueOutgoing(ctx, id, action)
	if err != nil {
		s.log.Error("failed to queue local change", zap.Uint("id", id), zap.String("action", string(action)), zap.Error(err))
		return &Change{ID: id}, fmt.Errorf("saved locally but not queued: %w", err)
	}
	return &Change{ID: id, Queued: n}, nil
}

func (s *Service) translate(err error) error {
	if errors.Is(err, store.ErrBookingNotFound) || errors.Is(err, store.ErrCustomerNotFound) || errors.Is(err, store.ErrAvailabilityNotFound) {
		return ErrNotFound
	}
	return err
}
