package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"loft/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotAvailable           = errors.New("nights are not available")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotFound               = errors.New("not found")
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger

	mu              sync.RWMutex
	propertiesCache map[int64]*models.Property

	now func() time.Time
}

// NewDB opens the SQLite database at path, creating directories and schema.
// ":memory:" is accepted for tests.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:              sqlDB,
		logger:          logger,
		propertiesCache: make(map[int64]*models.Property),
		now:             time.Now,
	}

	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// SetClock overrides the time source used for lock expiry.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			nightly_price INTEGER NOT NULL,
			cleaning_fee INTEGER NOT NULL DEFAULT 0,
			cleaning_every_nights INTEGER NOT NULL DEFAULT 0,
			tax_rate_bp INTEGER NOT NULL DEFAULT 0,
			weekly_discount_bp INTEGER NOT NULL DEFAULT 0,
			monthly_discount_bp INTEGER NOT NULL DEFAULT 0,
			capacity INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'available',
			currency TEXT NOT NULL DEFAULT 'DZD',
			owner_chat_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id INTEGER NOT NULL REFERENCES properties(id),
			property_name TEXT NOT NULL DEFAULT '',
			guest_id TEXT NOT NULL DEFAULT '',
			guest_name TEXT NOT NULL,
			guest_email TEXT NOT NULL DEFAULT '',
			guest_phone TEXT NOT NULL DEFAULT '',
			check_in TEXT NOT NULL,
			check_out TEXT NOT NULL,
			guests INTEGER NOT NULL,
			base_price INTEGER NOT NULL,
			discount INTEGER NOT NULL DEFAULT 0,
			service_fee INTEGER NOT NULL,
			cleaning_fee INTEGER NOT NULL,
			taxes INTEGER NOT NULL,
			total_price INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_status TEXT NOT NULL DEFAULT 'unpaid',
			comment TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (check_out > check_in)
		)`,
		// one row per occupied night of an active booking
		`CREATE TABLE IF NOT EXISTS booked_nights (
			property_id INTEGER NOT NULL,
			night TEXT NOT NULL,
			booking_id INTEGER NOT NULL REFERENCES bookings(id),
			PRIMARY KEY (property_id, night)
		)`,
		`CREATE TABLE IF NOT EXISTS availability_blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id INTEGER NOT NULL REFERENCES properties(id),
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			reason TEXT NOT NULL,
			price_override INTEGER,
			min_stay INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (end_date > start_date)
		)`,
		`CREATE TABLE IF NOT EXISTS reservation_locks (
			property_id INTEGER NOT NULL,
			night TEXT NOT NULL,
			token TEXT NOT NULL,
			check_in TEXT NOT NULL,
			check_out TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (property_id, night)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_type TEXT NOT NULL,
			booking_id INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			processed_at DATETIME,
			next_retry_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			booking_id INTEGER NOT NULL DEFAULT 0,
			actor TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_property_range ON bookings(property_id, check_in, check_out)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_property_range ON availability_blocks(property_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_expires ON reservation_locks(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_token ON reservation_locks(token)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_booking ON audit_log(booking_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
