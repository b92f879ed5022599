package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mrlokans/sitesync/internal/entities"
)

// Envelope carries the identity of a replicated record. ID is the record's
// id on the sending site; Hash covers the domain fields only.
type Envelope struct {
	ID         uint   `json:"id" validate:"required"`
	SourceSite string `json:"source_site" validate:"required,url"`
	Hash       string `json:"hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// BookingFields are the hash-relevant fields of a booking.
type BookingFields struct {
	CustomerName  string                 `json:"customer_name" validate:"required,max=200"`
	CustomerEmail string                 `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string                 `json:"customer_phone" validate:"max=50"`
	StaffID       uint                   `json:"staff_id" validate:"required"`
	ServiceID     uint                   `json:"service_id"`
	Date          string                 `json:"date" validate:"required,datetime=2006-01-02"`
	Time          string                 `json:"time" validate:"required,datetime=15:04"`
	Duration      int                    `json:"duration" validate:"gte=0"`
	Status        entities.BookingStatus `json:"status" validate:"omitempty,oneof=pending confirmed cancelled completed"`
	Price         decimal.Decimal        `json:"price"`
	Notes         string                 `json:"notes"`
}

type BookingPayload struct {
	Envelope
	BookingFields
}

// AvailabilityFields are the hash-relevant fields of a staff availability block.
type AvailabilityFields struct {
	StaffID   uint   `json:"staff_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	Available bool   `json:"available"`
	Note      string `json:"note" validate:"max=500"`
}

type AvailabilityPayload struct {
	Envelope
	AvailabilityFields
}

// CustomerFields are the hash-relevant fields of a customer.
type CustomerFields struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"max=50"`
	Notes     string `json:"notes"`
}

type CustomerPayload struct {
	Envelope
	CustomerFields
}

// Reply statuses returned by a peer that accepted a change.
const (
	ReplyApplied  = "applied"
	ReplyConflict = "conflict"
	ReplyDeleted  = "deleted"
)

// Reply is the body a peer returns for an accepted change.
type Reply struct {
	Status     string `json:"status"`
	LocalID    uint   `json:"local_id,omitempty"`
	ConflictID uint   `json:"conflict_id,omitempty"`
}

// Hash returns the hex SHA-256 of the JSON encoding of fields.
func Hash(fields any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func BookingFieldsOf(b *entities.Booking) BookingFields {
	return BookingFields{
		CustomerName:  b.CustomerName,
		CustomerEmail: b.CustomerEmail,
		CustomerPhone: b.CustomerPhone,
		StaffID:       b.StaffID,
		ServiceID:     b.ServiceID,
		Date:          b.Date,
		Time:          b.Time,
		Duration:      b.Duration,
		Status:        b.Status,
		Price:         b.Price,
		Notes:         b.Notes,
	}
}

func (f BookingFields) applyTo(b *entities.Booking) {
	b.CustomerName = f.CustomerName
	b.CustomerEmail = f.CustomerEmail
	b.CustomerPhone = f.CustomerPhone
	b.StaffID = f.StaffID
	b.ServiceID = f.ServiceID
	b.Date = f.Date
	b.Time = f.Time
	b.Duration = f.Duration
	b.Status = f.Status
	if b.Status == "" {
		b.Status = entities.BookingStatusPending
	}
	b.Price = f.Price
	b.Notes = f.Notes
}

func (f BookingFields) check() error {
	if err := validatePayload(f); err != nil {
		return err
	}
	if f.Price.IsNegative() {
		return &ValidationError{Message: "invalid payload", Fields: map[string]string{"price": "must not be negative"}}
	}
	return nil
}

func AvailabilityFieldsOf(a *entities.StaffAvailability) AvailabilityFields {
	return AvailabilityFields{
		StaffID:   a.StaffID,
		Date:      a.Date,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Available: a.Available,
		Note:      a.Note,
	}
}

func (f AvailabilityFields) applyTo(a *entities.StaffAvailability) {
	a.StaffID = f.StaffID
	a.Date = f.Date
	a.StartTime = f.StartTime
	a.EndTime = f.EndTime
	a.Available = f.Available
	a.Note = f.Note
}

func (f AvailabilityFields) check() error {
	if err := validatePayload(f); err != nil {
		return err
	}
	// HH:MM strings order lexically.
	if f.EndTime <= f.StartTime {
		return &ValidationError{Message: "invalid payload", Fields: map[string]string{"end_time": "must be after start_time"}}
	}
	return nil
}

func CustomerFieldsOf(c *entities.Customer) CustomerFields {
	return CustomerFields{
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Phone:     c.Phone,
		Notes:     c.Notes,
	}
}

func (f CustomerFields) applyTo(c *entities.Customer) {
	c.Email = f.Email
	c.FirstName = f.FirstName
	c.LastName = f.LastName
	c.Phone = f.Phone
	c.Notes = f.Notes
}

func (f CustomerFields) check() error {
	return validatePayload(f)
}

// checkEnvelope validates the envelope and, when a hash is declared,
// that it matches the fields actually sent.
func checkEnvelope(env Envelope, fields any) (string, error) {
	if err := validatePayload(env); err != nil {
		return "", err
	}
	if fields == nil {
		return "", nil
	}
	hash, err := Hash(fields)
	if err != nil {
		return "", err
	}
	if env.Hash != "" && env.Hash != hash {
		return "", &ValidationError{Message: "invalid payload", Fields: map[string]string{"hash": "does not match payload fields"}}
	}
	return hash, nil
}

// ValidateBooking applies the inbound payload rules to a local booking.
func ValidateBooking(b *entities.Booking) error {
	return BookingFieldsOf(b).check()
}

func ValidateAvailability(a *entities.StaffAvailability) error {
	return AvailabilityFieldsOf(a).check()
}

func ValidateCustomer(c *entities.Customer) error {
	return CustomerFieldsOf(c).check()
}
