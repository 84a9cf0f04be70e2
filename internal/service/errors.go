package service

import (
	"errors"
	"net/http"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/pricing"
)

// Error codes returned to API clients.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodePricingInput           = "PRICING_INPUT_ERROR"
	CodeUnavailable            = "UNAVAILABLE"
	CodeLockConflict           = "LOCK_CONFLICT"
	CodeNotFound               = "NOT_FOUND"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodePersistence            = "PERSISTENCE_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"`
	Conflicts []domain.Conflict `json:"conflicts,omitempty"`
}

// HTTPError maps a service error to an HTTP status and response body.
// Store failures never leak their message to the client.
func HTTPError(err error) (int, ErrorResponse) {
	var (
		validationErr *domain.ValidationError
		rangeErr      *daterange.InvalidRangeError
		pricingErr    *pricing.PricingInputError
		unavailErr    *domain.UnavailableError
		lockErr       *domain.LockConflictError
		notFoundErr   *domain.NotFoundError
		permErr       *domain.PermissionError
		transErr      *domain.InvalidTransitionError
		concErr       *domain.ConcurrentModificationError
		persistErr    *domain.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ErrorResponse{Error: validationErr.Error(), Code: CodeValidation, Fields: validationErr.Fields}
	case errors.As(err, &rangeErr):
		return http.StatusBadRequest, ErrorResponse{Error: rangeErr.Error(), Code: CodeValidation}
	case errors.As(err, &pricingErr):
		return http.StatusBadRequest, ErrorResponse{Error: pricingErr.Error(), Code: CodePricingInput}
	case errors.As(err, &unavailErr):
		return http.StatusConflict, ErrorResponse{Error: unavailErr.Error(), Code: CodeUnavailable, Conflicts: unavailErr.Conflicts}
	case errors.As(err, &lockErr):
		return http.StatusConflict, ErrorResponse{Error: lockErr.Error(), Code: CodeLockConflict}
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, ErrorResponse{Error: notFoundErr.Error(), Code: CodeNotFound}
	case errors.As(err, &permErr):
		return http.StatusForbidden, ErrorResponse{Error: permErr.Error(), Code: CodeForbidden}
	case errors.As(err, &transErr):
		return http.StatusConflict, ErrorResponse{Error: transErr.Error(), Code: CodeInvalidTransition}
	case errors.As(err, &concErr):
		return http.StatusConflict, ErrorResponse{Error: concErr.Error(), Code: CodeConcurrentModification}
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, ErrorResponse{Error: "storage failure", Code: CodePersistence}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal}
	}
}
