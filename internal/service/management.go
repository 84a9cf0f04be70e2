package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loft/internal/database"
	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/events"
	"loft/internal/models"
	"loft/internal/pricing"
)

// ConfirmReservation moves a pending booking to confirmed and marks it paid.
func (s *ReservationService) ConfirmReservation(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error) {
	return s.transition(ctx, actor, id, version, models.StatusConfirmed)
}

// CancelReservation frees the booking's nights. A paid booking is refunded.
// Guests may cancel their own bookings.
func (s *ReservationService) CancelReservation(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error) {
	return s.transition(ctx, actor, id, version, models.StatusCancelled)
}

func (s *ReservationService) CompleteReservation(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error) {
	return s.transition(ctx, actor, id, version, models.StatusCompleted)
}

func (s *ReservationService) transition(ctx context.Context, actor models.Actor, id, version int64, to string) (*models.Booking, error) {
	booking, property, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	ownCancel := to == models.StatusCancelled && booking.GuestID != "" && booking.GuestID == actor.Name
	if !ownCancel {
		if err := authorize(actor, models.PermManageReservations); err != nil {
			return nil, err
		}
		if !actor.Owns(property) {
			return nil, &domain.PermissionError{Actor: actor.Name, Permission: string(models.PermManageReservations)}
		}
	}

	if !models.CanTransition(booking.Status, to) {
		return nil, &domain.InvalidTransitionError{From: booking.Status, To: to}
	}

	if version == 0 {
		version = booking.Version
	}

	var payment string
	switch {
	case to == models.StatusConfirmed:
		payment = models.PaymentPaid
	case to == models.StatusCancelled && booking.PaymentStatus == models.PaymentPaid:
		payment = models.PaymentRefunded
	}

	err = s.repo.UpdateBookingStatusWithVersion(ctx, id, version, to, payment)
	if errors.Is(err, database.ErrConcurrentModification) {
		return nil, &domain.ConcurrentModificationError{BookingID: id}
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "update booking status", Err: err}
	}

	updated, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "reload booking", Err: err}
	}

	s.logger.Info().
		Int64("booking_id", id).
		Str("from", booking.Status).
		Str("to", to).
		Str("actor", actor.Name).
		Msg("reservation status changed")

	s.publishEvent(statusEvent(to), updated, property, actor)
	return updated, nil
}

func statusEvent(status string) string {
	switch status {
	case models.StatusConfirmed:
		return events.EventReservationConfirmed
	case models.StatusCancelled:
		return events.EventReservationCancelled
	default:
		return events.EventReservationCompleted
	}
}

func (s *ReservationService) ListProperties(ctx context.Context, actor models.Actor) ([]*models.Property, error) {
	if err := authorize(actor, models.PermReadProperties); err != nil {
		return nil, err
	}
	properties, err := s.repo.ListProperties(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list properties", Err: err}
	}
	return properties, nil
}

func (s *ReservationService) GetProperty(ctx context.Context, actor models.Actor, id int64) (*models.Property, error) {
	if err := authorize(actor, models.PermReadProperties); err != nil {
		return nil, err
	}
	return s.loadProperty(ctx, id)
}

// CreateBlock closes nights of a property or attaches a rate override.
func (s *ReservationService) CreateBlock(ctx context.Context, actor models.Actor, propertyID int64, req BlockRequest) (*models.AvailabilityBlock, error) {
	if err := authorize(actor, models.PermManageBlocks); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	r, err := daterange.Parse(req.StartDate, req.EndDate)
	if err != nil {
		return nil, domain.NewValidationError("end_date", "must be after start_date")
	}
	if req.Reason == models.BlockReasonRate && req.PriceOverride == nil && req.MinStay == 0 {
		return nil, domain.NewValidationError("reason", "rate block needs price_override or min_stay")
	}

	property, err := s.loadProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(property) {
		return nil, &domain.PermissionError{Actor: actor.Name, Permission: string(models.PermManageBlocks)}
	}

	block := &models.AvailabilityBlock{
		PropertyID:    propertyID,
		StartDate:     r.CheckIn,
		EndDate:       r.CheckOut,
		Reason:        req.Reason,
		PriceOverride: req.PriceOverride,
		MinStay:       req.MinStay,
		CreatedBy:     actor.Name,
	}
	if err := s.repo.CreateBlock(ctx, block); err != nil {
		return nil, storeError("create block", err, propertyID, r)
	}

	s.logger.Info().
		Int64("block_id", block.ID).
		Int64("property_id", propertyID).
		Str("range", r.String()).
		Str("reason", block.Reason).
		Msg("availability block created")

	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventBlockCreated, block); err != nil {
			s.logger.Error().Err(err).Int64("block_id", block.ID).Msg("publish event error")
		}
	}
	return block, nil
}

// DeleteBlock reopens the nights of a block. Only the property owner or an admin may do it.
func (s *ReservationService) DeleteBlock(ctx context.Context, actor models.Actor, propertyID, blockID int64) error {
	if err := authorize(actor, models.PermManageBlocks); err != nil {
		return err
	}

	property, err := s.loadProperty(ctx, propertyID)
	if err != nil {
		return err
	}
	if !actor.Owns(property) {
		return &domain.PermissionError{Actor: actor.Name, Permission: string(models.PermManageBlocks)}
	}

	err = s.repo.DeleteBlock(ctx, propertyID, blockID)
	if errors.Is(err, database.ErrNotFound) {
		return &domain.NotFoundError{Resource: "block", ID: blockID}
	}
	if err != nil {
		return &domain.PersistenceError{Op: "delete block", Err: err}
	}

	s.logger.Info().
		Int64("block_id", blockID).
		Int64("property_id", propertyID).
		Str("actor", actor.Name).
		Msg("availability block deleted")

	if s.eventBus != nil {
		payload := map[string]any{"block_id": blockID, "property_id": propertyID, "changed_by": actor.Name}
		if err := s.eventBus.PublishJSON(events.EventBlockDeleted, payload); err != nil {
			s.logger.Error().Err(err).Int64("block_id", blockID).Msg("publish event error")
		}
	}
	return nil
}

// ListReservations returns bookings of any status overlapping r. Owners see
// their own properties only; propertyID 0 means every visible property.
func (s *ReservationService) ListReservations(ctx context.Context, actor models.Actor, propertyID int64, r daterange.DateRange) ([]*models.Booking, error) {
	if err := authorize(actor, models.PermManageReservations); err != nil {
		return nil, err
	}
	if r.Nights() > maxCalendarDays {
		return nil, domain.NewValidationError("to", fmt.Sprintf("range must not exceed %d days", maxCalendarDays))
	}

	bookings, err := s.repo.GetBookingsByDateRange(ctx, r)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list bookings", Err: err}
	}

	visible := make(map[int64]bool)
	result := make([]*models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if propertyID != 0 && b.PropertyID != propertyID {
			continue
		}
		ok, seen := visible[b.PropertyID]
		if !seen {
			property, err := s.loadProperty(ctx, b.PropertyID)
			if err != nil {
				return nil, err
			}
			ok = actor.Owns(property)
			visible[b.PropertyID] = ok
		}
		if ok {
			result = append(result, b)
		}
	}
	return result, nil
}

// Calendar returns one entry per night starting at from.
func (s *ReservationService) Calendar(ctx context.Context, actor models.Actor, propertyID int64, from time.Time, days int) ([]models.CalendarDay, error) {
	if err := authorize(actor, models.PermReadAvailability); err != nil {
		return nil, err
	}
	if days < 1 || days > maxCalendarDays {
		return nil, domain.NewValidationError("days", fmt.Sprintf("must be between 1 and %d", maxCalendarDays))
	}

	property, err := s.loadProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	start := daterange.Date(from)
	r := daterange.DateRange{CheckIn: start, CheckOut: start.AddDate(0, 0, days)}

	bookings, err := s.repo.GetActiveBookings(ctx, propertyID, r)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load bookings", Err: err}
	}
	blocks, err := s.repo.GetBlocks(ctx, propertyID, r)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load availability blocks", Err: err}
	}
	overrides := pricing.OverridesFromBlocks(blocks, r)

	calendar := make([]models.CalendarDay, 0, days)
	for _, night := range r.Dates() {
		day := models.CalendarDay{
			Date:      night,
			Available: property.Bookable(),
			Price:     pricing.NightlyPrice(property, overrides, night),
		}
		if !property.Bookable() {
			day.Reason = property.Status
		}

		for _, b := range bookings {
			br := daterange.DateRange{CheckIn: b.CheckIn, CheckOut: b.CheckOut}
			if b.Active() && br.ContainsDate(night) {
				day.Available = false
				day.BookingID = b.ID
				day.Reason = b.Status
				break
			}
		}

		for _, blk := range blocks {
			if !blk.Range().ContainsDate(night) {
				continue
			}
			if blk.Blocking() {
				if day.BookingID == 0 {
					day.Reason = blk.Reason
				}
				day.Available = false
				continue
			}
			if blk.MinStay > day.MinStay {
				day.MinStay = blk.MinStay
			}
		}

		calendar = append(calendar, day)
	}
	return calendar, nil
}
