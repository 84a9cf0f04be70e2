package database

import (
	"context"
	"testing"

	"loft/internal/daterange"
	"loft/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBlock(propertyID int64, in, out, reason string) *models.AvailabilityBlock {
	r := daterange.MustParse(in, out)
	return &models.AvailabilityBlock{PropertyID: propertyID, StartDate: r.CheckIn, EndDate: r.CheckOut, Reason: reason}
}

func TestBlocks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedProperty(t, db, 1)

	require.NoError(t, db.CreateBooking(ctx, newBooking(1, "2025-06-10", "2025-06-12")))

	t.Run("BlockingOverBookingRejected", func(t *testing.T) {
		err := db.CreateBlock(ctx, newBlock(1, "2025-06-11", "2025-06-13", models.BlockReasonMaintenance))
		assert.ErrorIs(t, err, ErrNotAvailable)
	})

	t.Run("RateOverBookingAccepted", func(t *testing.T) {
		price := int64(15000)
		b := newBlock(1, "2025-06-01", "2025-06-30", models.BlockReasonRate)
		b.PriceOverride = &price
		b.MinStay = 3
		require.NoError(t, db.CreateBlock(ctx, b))
		assert.NotZero(t, b.ID)
	})

	t.Run("BlockingAfterBooking", func(t *testing.T) {
		require.NoError(t, db.CreateBlock(ctx, newBlock(1, "2025-06-12", "2025-06-14", models.BlockReasonRenovation)))
	})

	t.Run("GetBlocks", func(t *testing.T) {
		blocks, err := db.GetBlocks(ctx, 1, daterange.MustParse("2025-06-13", "2025-06-15"))
		require.NoError(t, err)
		require.Len(t, blocks, 2)

		assert.Equal(t, models.BlockReasonRate, blocks[0].Reason)
		require.NotNil(t, blocks[0].PriceOverride)
		assert.Equal(t, int64(15000), *blocks[0].PriceOverride)
		assert.Equal(t, 3, blocks[0].MinStay)
		assert.Nil(t, blocks[1].PriceOverride)

		blocks, err = db.GetBlocks(ctx, 1, daterange.MustParse("2025-06-14", "2025-06-15"))
		require.NoError(t, err)
		assert.Len(t, blocks, 1, "back-to-back block is not returned")
	})

	t.Run("DeleteBlock", func(t *testing.T) {
		blocks, err := db.GetBlocks(ctx, 1, daterange.MustParse("2025-06-12", "2025-06-14"))
		require.NoError(t, err)
		for _, b := range blocks {
			if b.Blocking() {
				require.NoError(t, db.DeleteBlock(ctx, 1, b.ID))
			}
		}
		assert.ErrorIs(t, db.DeleteBlock(ctx, 1, 9999), ErrNotFound)
	})
}
