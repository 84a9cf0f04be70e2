package domain

import (
	"context"

	"loft/internal/daterange"
	"loft/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Repository is the transactional store behind reservations.
type Repository interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	ListProperties(ctx context.Context) ([]*models.Property, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	// CreateBooking inserts the booking only if no active booking overlaps it.
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatusWithVersion(ctx context.Context, id int64, version int64, status, paymentStatus string) error
	GetActiveBookings(ctx context.Context, propertyID int64, r daterange.DateRange) ([]*models.Booking, error)
	GetBlocks(ctx context.Context, propertyID int64, r daterange.DateRange) ([]*models.AvailabilityBlock, error)
	CreateBlock(ctx context.Context, block *models.AvailabilityBlock) error
	DeleteBlock(ctx context.Context, propertyID, id int64) error
	// GetBookingsByDateRange returns bookings of every status across all properties.
	GetBookingsByDateRange(ctx context.Context, r daterange.DateRange) ([]*models.Booking, error)
}

// Locker is the reservation lock manager.
type Locker interface {
	// Acquire never blocks: it fails with *LockConflictError when an active
	// lock overlaps the requested nights.
	Acquire(ctx context.Context, propertyID int64, r daterange.DateRange) (*models.ReservationLock, error)
	// Release removes the lock if the token still matches. Releasing an
	// expired or foreign lock is a no-op.
	Release(ctx context.Context, lock *models.ReservationLock) error
}

// LockPurger drops expired locks ahead of lazy expiry.
type LockPurger interface {
	PurgeExpiredLocks(ctx context.Context) (int64, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Sink is an external destination for reservation events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, eventType string, payload []byte) error
}

type AuditStore interface {
	InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// SyncWorker queues a payload for delivery to a named sink.
type SyncWorker interface {
	EnqueueTask(ctx context.Context, sink string, bookingID int64, payload []byte) error
}
