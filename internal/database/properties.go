package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loft/internal/models"
)

const propertyColumns = `id, owner_id, name, description, nightly_price, cleaning_fee, cleaning_every_nights,
	tax_rate_bp, weekly_discount_bp, monthly_discount_bp, capacity, status, currency, owner_chat_id,
	created_at, updated_at`

func scanProperty(s rowScanner) (*models.Property, error) {
	var p models.Property
	err := s.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.NightlyPrice, &p.CleaningFee, &p.CleaningEveryNights,
		&p.TaxRateBP, &p.WeeklyDiscountBP, &p.MonthlyDiscountBP, &p.Capacity, &p.Status, &p.Currency, &p.OwnerChatID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SyncProperties upserts the property catalog in one transaction.
func (db *DB) SyncProperties(ctx context.Context, properties []*models.Property) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO properties (` + propertyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			description = excluded.description,
			nightly_price = excluded.nightly_price,
			cleaning_fee = excluded.cleaning_fee,
			cleaning_every_nights = excluded.cleaning_every_nights,
			tax_rate_bp = excluded.tax_rate_bp,
			weekly_discount_bp = excluded.weekly_discount_bp,
			monthly_discount_bp = excluded.monthly_discount_bp,
			capacity = excluded.capacity,
			status = excluded.status,
			currency = excluded.currency,
			owner_chat_id = excluded.owner_chat_id,
			updated_at = excluded.updated_at`

	now := time.Now()
	for _, p := range properties {
		if p.Status == "" {
			p.Status = models.PropertyAvailable
		}
		if p.Currency == "" {
			p.Currency = models.DefaultCurrency
		}
		if _, err := tx.ExecContext(ctx, query,
			p.ID, p.OwnerID, p.Name, p.Description, p.NightlyPrice, p.CleaningFee, p.CleaningEveryNights,
			p.TaxRateBP, p.WeeklyDiscountBP, p.MonthlyDiscountBP, p.Capacity, p.Status, p.Currency, p.OwnerChatID,
			now, now,
		); err != nil {
			return fmt.Errorf("failed to upsert property %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit properties: %w", err)
	}

	db.mu.Lock()
	db.propertiesCache = make(map[int64]*models.Property, len(properties))
	for _, p := range properties {
		cp := *p
		cp.CreatedAt, cp.UpdatedAt = now, now
		db.propertiesCache[p.ID] = &cp
	}
	db.mu.Unlock()

	return nil
}

func (db *DB) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	db.mu.RLock()
	cached, ok := db.propertiesCache[id]
	db.mu.RUnlock()
	if ok {
		cp := *cached
		return &cp, nil
	}

	row := db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}

	db.mu.Lock()
	cp := *p
	db.propertiesCache[id] = &cp
	db.mu.Unlock()

	return p, nil
}

func (db *DB) ListProperties(ctx context.Context) ([]*models.Property, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

// UpdatePropertyStatus opens or closes a property for new bookings.
func (db *DB) UpdatePropertyStatus(ctx context.Context, id int64, status string) error {
	result, err := db.ExecContext(ctx, `UPDATE properties SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update property status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	db.mu.Lock()
	delete(db.propertiesCache, id)
	db.mu.Unlock()
	return nil
}
