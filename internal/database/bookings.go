package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loft/internal/daterange"
	"loft/internal/models"
)

const bookingColumns = `id, property_id, property_name, guest_id, guest_name, guest_email, guest_phone,
	check_in, check_out, guests, base_price, discount, service_fee, cleaning_fee, taxes, total_price,
	currency, status, payment_status, comment, created_at, updated_at, version`

func scanBooking(s rowScanner) (*models.Booking, error) {
	var b models.Booking
	var checkIn, checkOut string
	err := s.Scan(
		&b.ID, &b.PropertyID, &b.PropertyName, &b.GuestID, &b.GuestName, &b.GuestEmail, &b.GuestPhone,
		&checkIn, &checkOut, &b.Guests, &b.BasePrice, &b.Discount, &b.ServiceFee, &b.CleaningFee, &b.Taxes, &b.TotalPrice,
		&b.Currency, &b.Status, &b.PaymentStatus, &b.Comment, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	r, err := daterange.Parse(checkIn, checkOut)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking %d dates: %w", b.ID, err)
	}
	b.CheckIn, b.CheckOut = r.CheckIn, r.CheckOut
	return &b, nil
}

// CreateBooking inserts the booking and claims its nights in one transaction.
// It returns ErrNotAvailable if an active booking already holds any night.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	r, err := daterange.New(booking.CheckIn, booking.CheckOut)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var overlapping int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE property_id = ? AND status IN (?, ?) AND check_in < ? AND check_out > ?`,
		booking.PropertyID, models.StatusPending, models.StatusConfirmed,
		r.CheckOut.Format(daterange.Layout), r.CheckIn.Format(daterange.Layout),
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("failed to check availability in tx: %w", err)
	}
	if overlapping > 0 {
		return ErrNotAvailable
	}

	if booking.Status == "" {
		booking.Status = models.StatusPending
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = models.PaymentUnpaid
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
			property_id, property_name, guest_id, guest_name, guest_email, guest_phone,
			check_in, check_out, guests, base_price, discount, service_fee, cleaning_fee, taxes, total_price,
			currency, status, payment_status, comment, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.PropertyID, booking.PropertyName, booking.GuestID, booking.GuestName, booking.GuestEmail, booking.GuestPhone,
		r.CheckIn.Format(daterange.Layout), r.CheckOut.Format(daterange.Layout), booking.Guests,
		booking.BasePrice, booking.Discount, booking.ServiceFee, booking.CleaningFee, booking.Taxes, booking.TotalPrice,
		booking.Currency, booking.Status, booking.PaymentStatus, booking.Comment, now, now, 1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if models.IsActiveStatus(booking.Status) {
		if err := claimNights(ctx, tx, booking.PropertyID, id, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.CheckIn, booking.CheckOut = r.CheckIn, r.CheckOut
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func claimNights(ctx context.Context, tx *sql.Tx, propertyID, bookingID int64, r daterange.DateRange) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO booked_nights (property_id, night, booking_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare night claim: %w", err)
	}
	defer stmt.Close()

	for _, night := range r.Dates() {
		if _, err := stmt.ExecContext(ctx, propertyID, night.Format(daterange.Layout), bookingID); err != nil {
			if isConstraintViolation(err) {
				return ErrNotAvailable
			}
			return fmt.Errorf("failed to claim night: %w", err)
		}
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatusWithVersion applies an optimistic status change.
// Leaving an active status frees the booking's nights.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status, paymentStatus string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, payment_status = COALESCE(NULLIF(?, ''), payment_status),
		 version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		status, paymentStatus, time.Now(), id, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if !models.IsActiveStatus(status) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM booked_nights WHERE booking_id = ?`, id); err != nil {
			return fmt.Errorf("failed to release booked nights: %w", err)
		}
	}

	return tx.Commit()
}

// GetActiveBookings returns pending and confirmed bookings overlapping r.
func (db *DB) GetActiveBookings(ctx context.Context, propertyID int64, r daterange.DateRange) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE property_id = ? AND status IN (?, ?) AND check_in < ? AND check_out > ?
		 ORDER BY check_in`,
		propertyID, models.StatusPending, models.StatusConfirmed,
		r.CheckOut.Format(daterange.Layout), r.CheckIn.Format(daterange.Layout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get active bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetBookingsByDateRange returns bookings of any status overlapping r.
func (db *DB) GetBookingsByDateRange(ctx context.Context, r daterange.DateRange) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE check_in < ? AND check_out > ? ORDER BY check_in ASC`,
		r.CheckOut.Format(daterange.Layout), r.CheckIn.Format(daterange.Layout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
