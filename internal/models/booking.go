package models

import "time"

type Booking struct {
	ID            int64     `json:"id"`
	PropertyID    int64     `json:"property_id"`
	PropertyName  string    `json:"property_name"`
	GuestID       string    `json:"guest_id"`
	GuestName     string    `json:"guest_name"`
	GuestEmail    string    `json:"guest_email"`
	GuestPhone    string    `json:"guest_phone"`
	CheckIn       time.Time `json:"check_in"`
	CheckOut      time.Time `json:"check_out"`
	Guests        int       `json:"guests"`
	BasePrice     int64     `json:"base_price"`
	Discount      int64     `json:"discount"`
	ServiceFee    int64     `json:"service_fee"`
	CleaningFee   int64     `json:"cleaning_fee"`
	Taxes         int64     `json:"taxes"`
	TotalPrice    int64     `json:"total_price"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"` // pending, confirmed, cancelled, completed
	PaymentStatus string    `json:"payment_status"`
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

// Active reports whether the booking still occupies its nights.
func (b *Booking) Active() bool {
	return IsActiveStatus(b.Status)
}

func IsActiveStatus(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCancelled || to == StatusCompleted
	default:
		return false
	}
}
