package models

import (
	"testing"
	"time"

	"loft/internal/daterange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoles(t *testing.T) {
	t.Run("ParseRole", func(t *testing.T) {
		r, err := ParseRole("owner")
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, r)

		_, err = ParseRole("janitor")
		assert.Error(t, err)
	})

	t.Run("Can", func(t *testing.T) {
		assert.True(t, RoleGuest.Can(PermCreateReservation))
		assert.False(t, RoleGuest.Can(PermManageBlocks))
		assert.True(t, RoleOwner.Can(PermManageBlocks))
		assert.True(t, RoleAdmin.Can(PermManageReservations))
		assert.False(t, Role("").Can(PermReadAvailability))
	})

	t.Run("Owns", func(t *testing.T) {
		p := &Property{ID: 1, OwnerID: 7}
		assert.True(t, Actor{Role: RoleOwner, OwnerID: 7}.Owns(p))
		assert.False(t, Actor{Role: RoleOwner, OwnerID: 8}.Owns(p))
		assert.False(t, Actor{Role: RoleOwner}.Owns(&Property{ID: 2}))
		assert.True(t, Actor{Role: RoleAdmin}.Owns(p))
		assert.False(t, Actor{Role: RoleGuest, OwnerID: 7}.Owns(p))
	})
}

func TestBookingTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusConfirmed, StatusCompleted))
	assert.False(t, CanTransition(StatusCancelled, StatusConfirmed))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))

	b := &Booking{Status: StatusConfirmed}
	assert.True(t, b.Active())
	b.Status = StatusCancelled
	assert.False(t, b.Active())
}

func TestAvailabilityBlock(t *testing.T) {
	b := &AvailabilityBlock{
		StartDate: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Reason:    BlockReasonMaintenance,
	}
	assert.True(t, b.Blocking())
	assert.Equal(t, daterange.MustParse("2025-06-01", "2025-06-03"), b.Range())

	b.Reason = BlockReasonRate
	assert.False(t, b.Blocking())
}

func TestReservationLockExpired(t *testing.T) {
	now := time.Now()
	l := &ReservationLock{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, l.Expired(now))
	assert.True(t, l.Expired(now.Add(time.Minute)))
	assert.True(t, l.Expired(now.Add(time.Minute+time.Second)))
}

func TestPropertyBookable(t *testing.T) {
	assert.True(t, (&Property{}).Bookable())
	assert.True(t, (&Property{Status: PropertyAvailable}).Bookable())
	assert.False(t, (&Property{Status: PropertyUnavailable}).Bookable())
}
