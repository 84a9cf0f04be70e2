package database

import (
	"context"
	"fmt"
	"time"

	"loft/internal/models"
)

func (db *DB) InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`INSERT INTO audit_log (event_type, booking_id, actor, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.EventType, entry.BookingID, entry.Actor, entry.Payload, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

func (db *DB) GetAuditEntries(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, event_type, booking_id, actor, payload, created_at FROM audit_log WHERE booking_id = ? ORDER BY id`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.BookingID, &e.Actor, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
