package models

import (
	"time"

	"loft/internal/daterange"
)

// AvailabilityBlock closes or reprices nights on a property, [StartDate, EndDate).
type AvailabilityBlock struct {
	ID            int64     `json:"id"`
	PropertyID    int64     `json:"property_id"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	Reason        string    `json:"reason"`
	PriceOverride *int64    `json:"price_override,omitempty"`
	MinStay       int       `json:"min_stay,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func (b *AvailabilityBlock) Range() daterange.DateRange {
	return daterange.DateRange{CheckIn: daterange.Date(b.StartDate), CheckOut: daterange.Date(b.EndDate)}
}

// Blocking reports whether the block makes its nights unbookable.
func (b *AvailabilityBlock) Blocking() bool {
	return b.Reason != BlockReasonRate
}

// ReservationLock is a short-lived claim on a property's nights.
type ReservationLock struct {
	PropertyID int64               `json:"property_id"`
	Range      daterange.DateRange `json:"range"`
	Token      string              `json:"token"`
	ExpiresAt  time.Time           `json:"expires_at"`
}

// Expired uses the lazy rule: a lock is gone once now reaches its expiry.
func (l *ReservationLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// CalendarDay is one night of a property calendar.
type CalendarDay struct {
	Date      time.Time `json:"date"`
	Available bool      `json:"available"`
	BookingID int64     `json:"booking_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Price     int64     `json:"price"`
	MinStay   int       `json:"min_stay,omitempty"`
}

// AuditEntry is an append-only record of a reservation event.
type AuditEntry struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	BookingID int64     `json:"booking_id"`
	Actor     string    `json:"actor"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
