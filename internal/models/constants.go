package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

const (
	PropertyAvailable   = "available"
	PropertyUnavailable = "unavailable"
)

// Block reasons. Only BlockReasonRate leaves the nights bookable.
const (
	BlockReasonMaintenance = "maintenance"
	BlockReasonRenovation  = "renovation"
	BlockReasonOwnerUse    = "owner_use"
	BlockReasonManual      = "manual"
	BlockReasonRate        = "rate"
)

const (
	// BasisPoints is 100% expressed in basis points.
	BasisPoints = 10000

	// DefaultServiceFeeBP платформенный сбор, 5%
	DefaultServiceFeeBP = 500

	DefaultCurrency = "DZD"

	// DefaultLockTTL время жизни блокировки бронирования
	DefaultLockTTL = 5 * time.Minute

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// DateLayout is the wire format of calendar dates.
	DateLayout = "2006-01-02"
)
