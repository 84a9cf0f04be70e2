// Package availability decides whether a property can be booked for a range.
package availability

import (
	"context"
	"sort"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/metrics"
	"loft/internal/models"

	"github.com/rs/zerolog"
)

// Store is the read side the checker needs.
type Store interface {
	GetActiveBookings(ctx context.Context, propertyID int64, r daterange.DateRange) ([]*models.Booking, error)
	GetBlocks(ctx context.Context, propertyID int64, r daterange.DateRange) ([]*models.AvailabilityBlock, error)
}

// Result of a check. Blocks holds every block overlapping the range,
// including non-blocking rate blocks used for pricing.
type Result struct {
	Available bool                        `json:"available"`
	Conflicts []domain.Conflict           `json:"conflicts,omitempty"`
	Blocks    []*models.AvailabilityBlock `json:"-"`
}

// Err returns an *domain.UnavailableError when the range is not bookable.
func (r *Result) Err(propertyID int64, dr daterange.DateRange) error {
	if r.Available {
		return nil
	}
	return &domain.UnavailableError{PropertyID: propertyID, Range: dr, Conflicts: r.Conflicts}
}

type Checker struct {
	store  Store
	logger *zerolog.Logger
}

func NewChecker(store Store, logger *zerolog.Logger) *Checker {
	return &Checker{store: store, logger: logger}
}

// Check is read-only and idempotent.
func (c *Checker) Check(ctx context.Context, propertyID int64, dr daterange.DateRange) (*Result, error) {
	bookings, err := c.store.GetActiveBookings(ctx, propertyID, dr)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load bookings", Err: err}
	}

	blocks, err := c.store.GetBlocks(ctx, propertyID, dr)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load availability blocks", Err: err}
	}

	res := &Result{Blocks: blocks}

	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		br := daterange.DateRange{CheckIn: b.CheckIn, CheckOut: b.CheckOut}
		if !br.Overlaps(dr) {
			continue
		}
		res.Conflicts = append(res.Conflicts, domain.Conflict{
			Kind:      domain.ConflictBooking,
			Reference: b.ID,
			CheckIn:   b.CheckIn,
			CheckOut:  b.CheckOut,
			Reason:    b.Status,
		})
	}

	for _, blk := range blocks {
		br := blk.Range()
		if !br.Overlaps(dr) {
			continue
		}
		if blk.Blocking() {
			res.Conflicts = append(res.Conflicts, domain.Conflict{
				Kind:      domain.ConflictBlock,
				Reference: blk.ID,
				CheckIn:   br.CheckIn,
				CheckOut:  br.CheckOut,
				Reason:    blk.Reason,
			})
			continue
		}
		// a min-stay rule applies to stays that check in inside the block
		if blk.MinStay > 0 && br.ContainsDate(dr.CheckIn) && dr.Nights() < blk.MinStay {
			res.Conflicts = append(res.Conflicts, domain.Conflict{
				Kind:      domain.ConflictMinStay,
				Reference: blk.ID,
				CheckIn:   br.CheckIn,
				CheckOut:  br.CheckOut,
				Reason:    blk.Reason,
				MinStay:   blk.MinStay,
			})
		}
	}

	sort.SliceStable(res.Conflicts, func(i, j int) bool {
		return res.Conflicts[i].CheckIn.Before(res.Conflicts[j].CheckIn)
	})

	res.Available = len(res.Conflicts) == 0
	metrics.IncAvailabilityCheck(res.Available)

	if c.logger != nil {
		c.logger.Debug().
			Int64("property_id", propertyID).
			Str("range", dr.String()).
			Bool("available", res.Available).
			Int("conflicts", len(res.Conflicts)).
			Msg("availability checked")
	}

	return res, nil
}
