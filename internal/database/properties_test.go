package database

import (
	"context"
	"testing"

	"loft/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedProperty(t, db, 1)
	seedProperty(t, db, 2)

	t.Run("GetFromCache", func(t *testing.T) {
		p, err := db.GetProperty(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), p.NightlyPrice)
		assert.Equal(t, models.PropertyAvailable, p.Status)
		assert.Equal(t, models.DefaultCurrency, p.Currency)
	})

	t.Run("GetFromDB", func(t *testing.T) {
		db.mu.Lock()
		db.propertiesCache = make(map[int64]*models.Property)
		db.mu.Unlock()

		p, err := db.GetProperty(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "Loft Hydra", p.Name)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.GetProperty(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		all, err := db.ListProperties(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("Upsert", func(t *testing.T) {
		p := seedProperty(t, db, 1)
		p.NightlyPrice = 12000
		require.NoError(t, db.SyncProperties(ctx, []*models.Property{p}))

		got, err := db.GetProperty(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(12000), got.NightlyPrice)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		require.NoError(t, db.UpdatePropertyStatus(ctx, 2, models.PropertyUnavailable))
		got, err := db.GetProperty(ctx, 2)
		require.NoError(t, err)
		assert.False(t, got.Bookable())

		assert.ErrorIs(t, db.UpdatePropertyStatus(ctx, 404, models.PropertyUnavailable), ErrNotFound)
	})
}
