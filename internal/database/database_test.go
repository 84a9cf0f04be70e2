package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"loft/internal/daterange"
	"loft/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedProperty(t *testing.T, db *DB, id int64) *models.Property {
	p := &models.Property{
		ID:           id,
		OwnerID:      10,
		Name:         "Loft Hydra",
		NightlyPrice: 10000,
		CleaningFee:  2000,
		TaxRateBP:    1900,
		Capacity:     4,
	}
	require.NoError(t, db.SyncProperties(context.Background(), []*models.Property{p}))
	return p
}

func newBooking(propertyID int64, in, out string) *models.Booking {
	r := daterange.MustParse(in, out)
	return &models.Booking{
		PropertyID:  propertyID,
		GuestName:   "Amina",
		GuestEmail:  "amina@example.com",
		CheckIn:     r.CheckIn,
		CheckOut:    r.CheckOut,
		Guests:      2,
		BasePrice:   30000,
		ServiceFee:  1500,
		CleaningFee: 2000,
		Taxes:       5985,
		TotalPrice:  39485,
		Currency:    "DZD",
		Status:      models.StatusPending,
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestCreateTablesIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.createTables())
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", dsn("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", dsn("file:a.db?mode=rwc"))
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	r := daterange.MustParse("2025-06-01", "2025-06-02")

	t.Run("CreateBooking_Error", func(t *testing.T) {
		assert.Error(t, db.CreateBooking(ctx, newBooking(1, "2025-06-01", "2025-06-02")))
	})

	t.Run("GetActiveBookings_Error", func(t *testing.T) {
		_, err := db.GetActiveBookings(ctx, 1, r)
		assert.Error(t, err)
	})

	t.Run("SyncProperties_Error", func(t *testing.T) {
		assert.Error(t, db.SyncProperties(ctx, []*models.Property{{ID: 1}}))
	})

	t.Run("CreateSyncTask_Error", func(t *testing.T) {
		assert.Error(t, db.CreateSyncTask(ctx, &models.SyncTask{}))
	})

	t.Run("AcquireLock_Error", func(t *testing.T) {
		_, err := NewLockRepository(db, 0).Acquire(ctx, 1, r)
		assert.Error(t, err)
	})
}
