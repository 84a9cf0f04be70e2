package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"loft/internal/domain"
	"loft/internal/models"

	"github.com/go-playground/validator/v10"
)

// ReservationRequest is the input of CreateReservation.
type ReservationRequest struct {
	PropertyID int64  `json:"property_id" validate:"required,gt=0"`
	CheckIn    string `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut   string `json:"check_out" validate:"required,datetime=2006-01-02"`
	Guests     int    `json:"guests" validate:"required,gte=1"`
	GuestID    string `json:"guest_id" validate:"omitempty,max=64"`
	GuestName  string `json:"guest_name" validate:"required,max=200"`
	GuestEmail string `json:"guest_email" validate:"omitempty,email"`
	GuestPhone string `json:"guest_phone" validate:"omitempty,e164"`
	Comment    string `json:"comment" validate:"max=1000"`
}

// BlockRequest closes or reprices nights of a property.
type BlockRequest struct {
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason        string `json:"reason" validate:"required,block_reason"`
	PriceOverride *int64 `json:"price_override" validate:"omitempty,gte=0"`
	MinStay       int    `json:"min_stay" validate:"gte=0,lte=365"`
}

var blockReasons = map[string]bool{
	models.BlockReasonMaintenance: true,
	models.BlockReasonRenovation:  true,
	models.BlockReasonOwnerUse:    true,
	models.BlockReasonManual:      true,
	models.BlockReasonRate:        true,
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json field names so errors match the request body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("block_reason", func(fl validator.FieldLevel) bool {
		return blockReasons[fl.Field().String()]
	}); err != nil {
		panic(fmt.Sprintf("register block_reason validation: %v", err))
	}

	return &requestValidator{validate: v}
}

// Struct validates s and converts failures into *domain.ValidationError.
func (v *requestValidator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "email":
		return "must be a valid email"
	case "e164":
		return "must be an E.164 phone number"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "block_reason":
		return "is not a known block reason"
	default:
		return "is invalid"
	}
}

