package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Booking is a local appointment record.
type Booking struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CustomerName  string          `gorm:"size:200" json:"customer_name"`
	CustomerEmail string          `gorm:"size:200;index" json:"customer_email"`
	CustomerPhone string          `gorm:"size:50" json:"customer_phone"`
	StaffID       uint            `gorm:"index:idx_booking_slot,priority:1" json:"staff_id"`
	ServiceID     uint            `json:"service_id"`
	Date          string          `gorm:"size:10;index:idx_booking_slot,priority:2" json:"date"` // YYYY-MM-DD
	Time          string          `gorm:"size:5;index:idx_booking_slot,priority:3" json:"time"`  // HH:MM
	Duration      int             `json:"duration"`                                              // minutes
	Status        BookingStatus   `gorm:"size:20;default:pending" json:"status"`
	Price         decimal.Decimal `gorm:"type:text" json:"price"`
	Notes         string          `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

// Customer is a local customer record, unique by email.
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:200;uniqueIndex" json:"email"`
	FirstName string    `gorm:"size:100" json:"first_name"`
	LastName  string    `gorm:"size:100" json:"last_name"`
	Phone     string    `gorm:"size:50" json:"phone"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// StaffAvailability is a block of time a staff member can or cannot be booked.
type StaffAvailability struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StaffID   uint      `gorm:"index:idx_availability_day,priority:1" json:"staff_id"`
	Date      string    `gorm:"size:10;index:idx_availability_day,priority:2" json:"date"`
	StartTime string    `gorm:"size:5" json:"start_time"`
	EndTime   string    `gorm:"size:5" json:"end_time"`
	Available bool      `json:"available"`
	Note      string    `gorm:"size:500" json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StaffAvailability) TableName() string {
	return "staff_availability"
}
