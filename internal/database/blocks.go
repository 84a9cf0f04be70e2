package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loft/internal/daterange"
	"loft/internal/models"
)

// CreateBlock stores an availability block. A blocking reason fails with
// ErrNotAvailable when an active booking holds any of its nights.
func (db *DB) CreateBlock(ctx context.Context, block *models.AvailabilityBlock) error {
	r, err := daterange.New(block.StartDate, block.EndDate)
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

	if block.Blocking() {
		var taken int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM booked_nights WHERE property_id = ? AND night >= ? AND night < ?`,
			block.PropertyID, r.CheckIn.Format(daterange.Layout), r.CheckOut.Format(daterange.Layout),
		).Scan(&taken)
		if err != nil {
			return fmt.Errorf("failed to check booked nights: %w", err)
		}
		if taken > 0 {
			return ErrNotAvailable
		}
	}

	var override sql.NullInt64
	if block.PriceOverride != nil {
		override = sql.NullInt64{Int64: *block.PriceOverride, Valid: true}
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO availability_blocks (property_id, start_date, end_date, reason, price_override, min_stay, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		block.PropertyID, r.CheckIn.Format(daterange.Layout), r.CheckOut.Format(daterange.Layout),
		block.Reason, override, block.MinStay, block.CreatedBy, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}

	block.ID = id
	block.StartDate, block.EndDate = r.CheckIn, r.CheckOut
	block.CreatedAt = now
	return nil
}

// GetBlocks returns every block overlapping r.
func (db *DB) GetBlocks(ctx context.Context, propertyID int64, r daterange.DateRange) ([]*models.AvailabilityBlock, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, property_id, start_date, end_date, reason, price_override, min_stay, created_by, created_at
		 FROM availability_blocks
		 WHERE property_id = ? AND start_date < ? AND end_date > ?
		 ORDER BY start_date`,
		propertyID, r.CheckOut.Format(daterange.Layout), r.CheckIn.Format(daterange.Layout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*models.AvailabilityBlock
	for rows.Next() {
		var b models.AvailabilityBlock
		var start, end string
		var override sql.NullInt64
		if err := rows.Scan(&b.ID, &b.PropertyID, &start, &end, &b.Reason, &override, &b.MinStay, &b.CreatedBy, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}

		br, err := daterange.Parse(start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to parse block %d dates: %w", b.ID, err)
		}
		b.StartDate, b.EndDate = br.CheckIn, br.CheckOut
		if override.Valid {
			v := override.Int64
			b.PriceOverride = &v
		}
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

func (db *DB) DeleteBlock(ctx context.Context, propertyID, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM availability_blocks WHERE id = ? AND property_id = ?`, id, propertyID)
	if err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
