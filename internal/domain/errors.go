package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"loft/internal/daterange"
)

// ValidationError reports malformed input. Fields maps field names to messages.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Conflict kinds.
const (
	ConflictBooking  = "booking"
	ConflictBlock    = "block"
	ConflictMinStay  = "min_stay"
	ConflictProperty = "property"
)

// Conflict explains why a range is not bookable.
type Conflict struct {
	Kind      string    `json:"kind"`
	Reference int64     `json:"reference,omitempty"`
	CheckIn   time.Time `json:"check_in"`
	CheckOut  time.Time `json:"check_out"`
	Reason    string    `json:"reason,omitempty"`
	MinStay   int       `json:"min_stay,omitempty"`
}

// UnavailableError carries every conflict found for the requested range.
type UnavailableError struct {
	PropertyID int64
	Range      daterange.DateRange
	Conflicts  []Conflict
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("property %d is not available for %s: %d conflict(s)", e.PropertyID, e.Range, len(e.Conflicts))
}

// LockConflictError means another reservation holds overlapping nights.
type LockConflictError struct {
	PropertyID int64
	Requested  daterange.DateRange
	Held       daterange.DateRange
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("property %d: nights %s are locked by another reservation (%s)", e.PropertyID, e.Requested, e.Held)
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

type PermissionError struct {
	Actor      string
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %q lacks permission %s", e.Actor, e.Permission)
}

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move booking from %s to %s", e.From, e.To)
}

// ConcurrentModificationError is returned when a booking changed since it was read.
type ConcurrentModificationError struct {
	BookingID int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("booking %d was modified concurrently", e.BookingID)
}
