package service

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/pricing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPError(t *testing.T) {
	_, rangeErr := daterange.Parse("2030-02-04", "2030-02-01")

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"Validation", domain.NewValidationError("guests", "is required"), http.StatusBadRequest, CodeValidation},
		{"Range", rangeErr, http.StatusBadRequest, CodeValidation},
		{"Pricing", &pricing.PricingInputError{Field: "guests", Reason: "too many"}, http.StatusBadRequest, CodePricingInput},
		{"Unavailable", &domain.UnavailableError{PropertyID: 1}, http.StatusConflict, CodeUnavailable},
		{"Lock", &domain.LockConflictError{PropertyID: 1}, http.StatusConflict, CodeLockConflict},
		{"NotFound", &domain.NotFoundError{Resource: "booking", ID: 3}, http.StatusNotFound, CodeNotFound},
		{"Forbidden", &domain.PermissionError{Actor: "x", Permission: "manage:blocks"}, http.StatusForbidden, CodeForbidden},
		{"Transition", &domain.InvalidTransitionError{From: "cancelled", To: "confirmed"}, http.StatusConflict, CodeInvalidTransition},
		{"Concurrent", &domain.ConcurrentModificationError{BookingID: 1}, http.StatusConflict, CodeConcurrentModification},
		{"Persistence", &domain.PersistenceError{Op: "load", Err: errors.New("disk I/O error")}, http.StatusInternalServerError, CodePersistence},
		{"Wrapped", fmt.Errorf("outer: %w", &domain.LockConflictError{}), http.StatusConflict, CodeLockConflict},
		{"Unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := HTTPError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHTTPError_Details(t *testing.T) {
	_, body := HTTPError(&domain.ValidationError{Fields: map[string]string{"check_in": "is required"}})
	assert.Equal(t, "is required", body.Fields["check_in"])

	_, body = HTTPError(&domain.UnavailableError{Conflicts: []domain.Conflict{{Kind: domain.ConflictBlock}}})
	assert.Len(t, body.Conflicts, 1)

	_, body = HTTPError(&domain.PersistenceError{Op: "load", Err: errors.New("secret path /var/db")})
	assert.NotContains(t, body.Error, "secret")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "created", outcome(nil))
	assert.Equal(t, "invalid", outcome(&pricing.PricingInputError{}))
	assert.Equal(t, "unavailable", outcome(&domain.UnavailableError{}))
	assert.Equal(t, "lock_conflict", outcome(&domain.LockConflictError{}))
	assert.Equal(t, "forbidden", outcome(&domain.PermissionError{}))
	assert.Equal(t, "error", outcome(errors.New("x")))
}
