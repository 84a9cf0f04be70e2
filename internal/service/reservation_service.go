package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loft/internal/availability"
	"loft/internal/database"
	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/events"
	"loft/internal/metrics"
	"loft/internal/models"
	"loft/internal/pricing"

	"github.com/rs/zerolog"
)

const (
	defaultMaxAdvanceDays = 365
	defaultMaxNights      = 90
	maxCalendarDays       = 366
)

// AvailabilityChecker answers whether nights of a property are bookable.
type AvailabilityChecker interface {
	Check(ctx context.Context, propertyID int64, r daterange.DateRange) (*availability.Result, error)
}

// Options bound the booking window.
type Options struct {
	MaxAdvanceDays int
	MaxNights      int
	MaxGuests      int
	// LockBackend labels lock metrics.
	LockBackend string
}

// Reservation is a persisted booking with the price breakdown it was created with.
type Reservation struct {
	Booking   *models.Booking    `json:"booking"`
	Breakdown *pricing.Breakdown `json:"breakdown"`
}

// Quote is a price for a stay together with its current availability.
type Quote struct {
	PropertyID int64              `json:"property_id"`
	CheckIn    string             `json:"check_in"`
	CheckOut   string             `json:"check_out"`
	Available  bool               `json:"available"`
	Conflicts  []domain.Conflict  `json:"conflicts,omitempty"`
	Breakdown  *pricing.Breakdown `json:"breakdown"`
}

// ReservationService orchestrates availability, locking, pricing and persistence.
type ReservationService struct {
	repo       domain.Repository
	checker    AvailabilityChecker
	locker     domain.Locker
	calculator *pricing.Calculator
	eventBus   domain.EventPublisher
	validator  *requestValidator
	opts       Options
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewReservationService(
	repo domain.Repository,
	checker AvailabilityChecker,
	locker domain.Locker,
	calculator *pricing.Calculator,
	eventBus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *ReservationService {
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = defaultMaxAdvanceDays
	}
	if opts.MaxNights <= 0 {
		opts.MaxNights = defaultMaxNights
	}
	if opts.LockBackend == "" {
		opts.LockBackend = "unknown"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReservationService{
		repo:       repo,
		checker:    checker,
		locker:     locker,
		calculator: calculator,
		eventBus:   eventBus,
		validator:  newRequestValidator(),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the clock used for the booking window. Tests only.
func (s *ReservationService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateReservation books the requested nights. Once the lock is acquired it
// is released on every path, including after a successful commit.
func (s *ReservationService) CreateReservation(ctx context.Context, actor models.Actor, req ReservationRequest) (res *Reservation, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveReservation(outcome(err), started)
	}()

	if err := authorize(actor, models.PermCreateReservation); err != nil {
		return nil, err
	}

	r, err := s.validateReservation(req)
	if err != nil {
		return nil, err
	}

	property, err := s.loadProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if !property.Bookable() {
		return nil, propertyUnavailable(property, r)
	}

	// дешёвая проверка до блокировки
	pre, err := s.checker.Check(ctx, property.ID, r)
	if err != nil {
		return nil, err
	}
	if err := pre.Err(property.ID, r); err != nil {
		return nil, err
	}

	lock, err := s.locker.Acquire(ctx, property.ID, r)
	if err != nil {
		return nil, s.lockError(err)
	}
	metrics.IncLockAcquisition(s.opts.LockBackend, "acquired")
	defer s.release(ctx, lock)

	// authoritative check, nobody else can claim these nights now
	current, err := s.checker.Check(ctx, property.ID, r)
	if err != nil {
		return nil, err
	}
	if err := current.Err(property.ID, r); err != nil {
		return nil, err
	}

	breakdown, err := s.calculator.Compute(pricing.Input{
		Property:  property,
		Range:     r,
		Guests:    req.Guests,
		Overrides: pricing.OverridesFromBlocks(current.Blocks, r),
	})
	if err != nil {
		return nil, err
	}

	// only staff book on behalf of someone else
	guestID := actor.Name
	if req.GuestID != "" && actor.Role.Can(models.PermManageReservations) {
		guestID = req.GuestID
	}

	booking := &models.Booking{
		PropertyID:    property.ID,
		PropertyName:  property.Name,
		GuestID:       guestID,
		GuestName:     req.GuestName,
		GuestEmail:    req.GuestEmail,
		GuestPhone:    req.GuestPhone,
		CheckIn:       r.CheckIn,
		CheckOut:      r.CheckOut,
		Guests:        req.Guests,
		BasePrice:     breakdown.Base,
		Discount:      breakdown.Discount,
		ServiceFee:    breakdown.ServiceFee,
		CleaningFee:   breakdown.CleaningFee,
		Taxes:         breakdown.Taxes,
		TotalPrice:    breakdown.Total,
		Currency:      breakdown.Currency,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentUnpaid,
		Comment:       req.Comment,
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return nil, storeError("create booking", err, property.ID, r)
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("property_id", property.ID).
		Str("range", r.String()).
		Int64("total", booking.TotalPrice).
		Str("actor", actor.Name).
		Msg("reservation created")

	s.publishEvent(events.EventReservationCreated, booking, property, actor)

	return &Reservation{Booking: booking, Breakdown: breakdown}, nil
}

// CheckAvailability reports whether the range is bookable and why not.
func (s *ReservationService) CheckAvailability(ctx context.Context, actor models.Actor, propertyID int64, r daterange.DateRange) (*availability.Result, error) {
	if err := authorize(actor, models.PermReadAvailability); err != nil {
		return nil, err
	}

	property, err := s.loadProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	res, err := s.checker.Check(ctx, propertyID, r)
	if err != nil {
		return nil, err
	}

	if !property.Bookable() {
		res.Conflicts = append([]domain.Conflict{propertyConflict(property, r)}, res.Conflicts...)
		res.Available = false
	}
	return res, nil
}

// Quote prices a stay exactly as CreateReservation would persist it.
func (s *ReservationService) Quote(ctx context.Context, actor models.Actor, propertyID int64, r daterange.DateRange, guests int) (*Quote, error) {
	if err := authorize(actor, models.PermReadAvailability); err != nil {
		return nil, err
	}
	if err := s.checkStayWindow(r, guests); err != nil {
		return nil, err
	}

	property, err := s.loadProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	res, err := s.checker.Check(ctx, propertyID, r)
	if err != nil {
		return nil, err
	}

	breakdown, err := s.calculator.Compute(pricing.Input{
		Property:  property,
		Range:     r,
		Guests:    guests,
		Overrides: pricing.OverridesFromBlocks(res.Blocks, r),
	})
	if err != nil {
		return nil, err
	}

	q := &Quote{
		PropertyID: propertyID,
		CheckIn:    r.CheckIn.Format(daterange.Layout),
		CheckOut:   r.CheckOut.Format(daterange.Layout),
		Available:  res.Available && property.Bookable(),
		Conflicts:  res.Conflicts,
		Breakdown:  breakdown,
	}
	if !property.Bookable() {
		q.Conflicts = append([]domain.Conflict{propertyConflict(property, r)}, q.Conflicts...)
	}
	return q, nil
}

// GetReservation returns a booking visible to the actor.
func (s *ReservationService) GetReservation(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	if err := authorize(actor, models.PermReadReservation); err != nil {
		return nil, err
	}

	booking, property, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.Owns(property) && booking.GuestID != actor.Name {
		return nil, &domain.PermissionError{Actor: actor.Name, Permission: string(models.PermReadReservation)}
	}
	return booking, nil
}

func (s *ReservationService) validateReservation(req ReservationRequest) (daterange.DateRange, error) {
	if err := s.validator.Struct(req); err != nil {
		return daterange.DateRange{}, err
	}

	r, err := daterange.Parse(req.CheckIn, req.CheckOut)
	if err != nil {
		return daterange.DateRange{}, domain.NewValidationError("check_out", "must be after check_in")
	}

	if err := s.checkStayWindow(r, req.Guests); err != nil {
		return daterange.DateRange{}, err
	}
	return r, nil
}

// checkStayWindow applies the booking window shared by quotes and reservations.
func (s *ReservationService) checkStayWindow(r daterange.DateRange, guests int) error {
	today := daterange.Date(s.now())
	fields := make(map[string]string)
	if r.CheckIn.Before(today) {
		fields["check_in"] = "must not be in the past"
	}
	if r.CheckIn.After(today.AddDate(0, 0, s.opts.MaxAdvanceDays)) {
		fields["check_in"] = fmt.Sprintf("must be within %d days", s.opts.MaxAdvanceDays)
	}
	if r.Nights() > s.opts.MaxNights {
		fields["check_out"] = fmt.Sprintf("stay must not exceed %d nights", s.opts.MaxNights)
	}
	if s.opts.MaxGuests > 0 && guests > s.opts.MaxGuests {
		fields["guests"] = fmt.Sprintf("must be at most %d", s.opts.MaxGuests)
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

func (s *ReservationService) loadProperty(ctx context.Context, id int64) (*models.Property, error) {
	property, err := s.repo.GetProperty(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "property", ID: id}
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load property", Err: err}
	}
	return property, nil
}

func (s *ReservationService) loadBooking(ctx context.Context, id int64) (*models.Booking, *models.Property, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, &domain.NotFoundError{Resource: "booking", ID: id}
	}
	if err != nil {
		return nil, nil, &domain.PersistenceError{Op: "load booking", Err: err}
	}

	property, err := s.loadProperty(ctx, booking.PropertyID)
	if err != nil {
		return nil, nil, err
	}
	return booking, property, nil
}

func (s *ReservationService) lockError(err error) error {
	var conflict *domain.LockConflictError
	if errors.As(err, &conflict) {
		metrics.IncLockAcquisition(s.opts.LockBackend, "conflict")
		return err
	}

	metrics.IncLockAcquisition(s.opts.LockBackend, "error")
	var rangeErr *daterange.InvalidRangeError
	if errors.As(err, &rangeErr) {
		return &domain.ValidationError{Fields: map[string]string{"check_out": rangeErr.Reason}}
	}
	return &domain.PersistenceError{Op: "acquire lock", Err: err}
}

func (s *ReservationService) release(ctx context.Context, lock *models.ReservationLock) {
	// the request context may already be cancelled, the lock must still go
	if err := s.locker.Release(context.WithoutCancel(ctx), lock); err != nil {
		s.logger.Warn().
			Err(err).
			Int64("property_id", lock.PropertyID).
			Str("token", lock.Token).
			Msg("failed to release reservation lock")
	}
}

func (s *ReservationService) publishEvent(eventType string, booking *models.Booking, property *models.Property, actor models.Actor) {
	if s.eventBus == nil {
		return
	}

	payload := events.ReservationEventPayload{
		BookingID:     booking.ID,
		PropertyID:    booking.PropertyID,
		PropertyName:  booking.PropertyName,
		GuestName:     booking.GuestName,
		GuestEmail:    booking.GuestEmail,
		GuestPhone:    booking.GuestPhone,
		CheckIn:       booking.CheckIn.Format(daterange.Layout),
		CheckOut:      booking.CheckOut.Format(daterange.Layout),
		Nights:        daterange.DateRange{CheckIn: booking.CheckIn, CheckOut: booking.CheckOut}.Nights(),
		Guests:        booking.Guests,
		TotalPrice:    booking.TotalPrice,
		Currency:      booking.Currency,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		ChangedBy:     actor.Name,
		OccurredAt:    s.now(),
	}
	if property != nil {
		payload.OwnerChatID = property.OwnerChatID
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func authorize(actor models.Actor, p models.Permission) error {
	if !actor.Role.Can(p) {
		return &domain.PermissionError{Actor: actor.Name, Permission: string(p)}
	}
	return nil
}

func propertyConflict(p *models.Property, r daterange.DateRange) domain.Conflict {
	return domain.Conflict{
		Kind:      domain.ConflictProperty,
		Reference: p.ID,
		CheckIn:   r.CheckIn,
		CheckOut:  r.CheckOut,
		Reason:    p.Status,
	}
}

func propertyUnavailable(p *models.Property, r daterange.DateRange) error {
	return &domain.UnavailableError{PropertyID: p.ID, Range: r, Conflicts: []domain.Conflict{propertyConflict(p, r)}}
}

// storeError translates repository sentinels into domain errors.
func storeError(op string, err error, propertyID int64, r daterange.DateRange) error {
	switch {
	case errors.Is(err, database.ErrNotAvailable):
		return &domain.UnavailableError{
			PropertyID: propertyID,
			Range:      r,
			Conflicts: []domain.Conflict{{
				Kind:     domain.ConflictBooking,
				CheckIn:  r.CheckIn,
				CheckOut: r.CheckOut,
				Reason:   "nights already booked",
			}},
		}
	case errors.Is(err, database.ErrNotFound):
		return &domain.NotFoundError{Resource: "property", ID: propertyID}
	default:
		var rangeErr *daterange.InvalidRangeError
		if errors.As(err, &rangeErr) {
			return &domain.ValidationError{Fields: map[string]string{"range": rangeErr.Reason}}
		}
		return &domain.PersistenceError{Op: op, Err: err}
	}
}

// outcome labels a reservation attempt for metrics.
func outcome(err error) string {
	if err == nil {
		return "created"
	}

	var (
		validationErr *domain.ValidationError
		pricingErr    *pricing.PricingInputError
		unavailErr    *domain.UnavailableError
		lockErr       *domain.LockConflictError
		permErr       *domain.PermissionError
		notFoundErr   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &pricingErr):
		return "invalid"
	case errors.As(err, &unavailErr):
		return "unavailable"
	case errors.As(err, &lockErr):
		return "lock_conflict"
	case errors.As(err, &permErr):
		return "forbidden"
	case errors.As(err, &notFoundErr):
		return "not_found"
	default:
		return "error"
	}
}
