// Package bookings provides database operations for the local booking,
// customer and staff availability records that are replicated to peers.
//
//	repo := bookings.NewRepository(db)
//	booking, err := repo.GetBooking(ctx, 42)
package bookings

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/mrlokans/sitesync/internal/entities"
)

var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrAvailabilityNotFound = errors.New("availability not found")
)

// Repository handles local domain record persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetBooking retrieves a booking by ID.
func (r *Repository) GetBooking(ctx context.Context, id uint) (*entities.Booking, error) {
	var b entities.Booking
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, notFound(err, ErrBookingNotFound)
	}
	return &b, nil
}

// ListBookings returns bookings ordered by slot, optionally for a single date.
func (r *Repository) ListBookings(ctx context.Context, date string) ([]entities.Booking, error) {
	query := r.db.WithContext(ctx)
	if date != "" {
		query = query.Where("date = ?", date)
	}
	var rows []entities.Booking
	err := query.Order("date ASC, time ASC, id ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) CreateBooking(ctx context.Context, b *entities.Booking) error {
	if b.Status == "" {
		b.Status = entities.BookingStatusPending
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *Repository) SaveBooking(ctx context.Context, b *entities.Booking) error {
	if b.ID == 0 {
		return ErrBookingNotFound
	}
	return r.db.WithContext(ctx).Save(b).Error
}

// DeleteBooking removes a booking. Deleting a missing booking is not an error;
// deleted reports whether a row was removed.
func (r *Repository) DeleteBooking(ctx context.Context, id uint) (deleted bool, err error) {
	result := r.db.WithContext(ctx).Delete(&entities.Booking{}, id)
	return result.RowsAffected > 0, result.Error
}

// FindBookingAt returns a live booking occupying the staff member's slot,
// ignoring the booking with excludeID. Cancelled bookings do not occupy a slot.
func (r *Repository) FindBookingAt(ctx context.Context, staffID uint, date, at string, excludeID uint) (*entities.Booking, error) {
	var b entities.Booking
	err := r.db.WithContext(ctx).
		Where("staff_id = ? AND date = ? AND time = ? AND status <> ? AND id <> ?",
			staffID, date, at, entities.BookingStatusCancelled, excludeID).
		Order("id ASC").
		First(&b).Error
	if err != nil {
		return nil, notFound(err, ErrBookingNotFound)
	}
	return &b, nil
}

func (r *Repository) GetCustomer(ctx context.Context, id uint) (*entities.Customer, error) {
	var c entities.Customer
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &c, nil
}

// FindCustomerByEmail looks a customer up by email, case-insensitively.
func (r *Repository) FindCustomerByEmail(ctx context.Context, email string) (*entities.Customer, error) {
	var c entities.Customer
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&c).Error
	if err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &c, nil
}

func (r *Repository) ListCustomers(ctx context.Context) ([]entities.Customer, error) {
	var rows []entities.Customer
	err := r.db.WithContext(ctx).Order("last_name ASC, first_name ASC, id ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) CreateCustomer(ctx context.Context, c *entities.Customer) error {
	c.Email = NormalizeEmail(c.Email)
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) SaveCustomer(ctx context.Context, c *entities.Customer) error {
	if c.ID == 0 {
		return ErrCustomerNotFound
	}
	c.Email = NormalizeEmail(c.Email)
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *Repository) DeleteCustomer(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&entities.Customer{}, id)
	return result.RowsAffected > 0, result.Error
}

func (r *Repository) GetAvailability(ctx context.Context, id uint) (*entities.StaffAvailability, error) {
	var a entities.StaffAvailability
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, ErrAvailabilityNotFound)
	}
	return &a, nil
}

// ListAvailability returns availability blocks, optionally narrowed to one
// staff member (non-zero staffID) and one date.
func (r *Repository) ListAvailability(ctx context.Context, staffID uint, date string) ([]entities.StaffAvailability, error) {
	query := r.db.WithContext(ctx)
	if staffID != 0 {
		query = query.Where("staff_id = ?", staffID)
	}
	if date != "" {
		query = query.Where("date = ?", date)
	}
	var rows []entities.StaffAvailability
	err := query.Order("date ASC, start_time ASC, id ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) CreateAvailability(ctx context.Context, a *entities.StaffAvailability) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repository) SaveAvailability(ctx context.Context, a *entities.StaffAvailability) error {
	if a.ID == 0 {
		return ErrAvailabilityNotFound
	}
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *Repository) DeleteAvailability(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&entities.StaffAvailability{}, id)
	return result.RowsAffected > 0, result.Error
}

// IsSlotFree reports whether the staff member can take a booking at the given
// date and time: no live booking holds the slot and no unavailable block covers it.
func (r *Repository) IsSlotFree(ctx context.Context, staffID uint, date, at string) (bool, error) {
	if _, err := r.FindBookingAt(ctx, staffID, date, at, 0); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrBookingNotFound) {
		return false, err
	}

	var blocked int64
	err := r.db.WithContext(ctx).Model(&entities.StaffAvailability{}).
		Where("staff_id = ? AND date = ? AND available = ? AND start_time <= ? AND end_time > ?",
			staffID, date, false, at, at).
		Count(&blocked).Error
	if err != nil {
		return false, err
	}
	return blocked == 0, nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
