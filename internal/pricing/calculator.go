// Package pricing computes the price of a stay in integer minor currency units.
package pricing

import (
	"fmt"
	"time"

	"loft/internal/daterange"
	"loft/internal/models"
)

const (
	weeklyNights  = 7
	monthlyNights = 28
)

// PricingInputError is returned for inputs that cannot be priced.
type PricingInputError struct {
	Field  string
	Reason string
}

func (e *PricingInputError) Error() string {
	return fmt.Sprintf("cannot price stay: %s %s", e.Field, e.Reason)
}

// Input describes the stay to price.
type Input struct {
	Property *models.Property
	Range    daterange.DateRange
	Guests   int
	// Overrides maps YYYY-MM-DD to a nightly rate replacing the property price.
	Overrides map[string]int64
}

// NightRate is the rate charged for one night.
type NightRate struct {
	Date  string `json:"date"`
	Price int64  `json:"price"`
}

// Breakdown is the priced stay. Total always equals
// Base - Discount + ServiceFee + CleaningFee + Taxes.
type Breakdown struct {
	Nights      int         `json:"nights"`
	Currency    string      `json:"currency"`
	NightlyRate []NightRate `json:"nightly_rates"`
	Base        int64       `json:"base"`
	DiscountBP  int64       `json:"discount_bp"`
	Discount    int64       `json:"discount"`
	ServiceFee  int64       `json:"service_fee"`
	CleaningFee int64       `json:"cleaning_fee"`
	Taxes       int64       `json:"taxes"`
	Total       int64       `json:"total"`
}

// Calculator is a pure function of its inputs and configured rates.
type Calculator struct {
	serviceFeeBP int64
	currency     string
}

func NewCalculator(serviceFeeBP int64, currency string) *Calculator {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &Calculator{serviceFeeBP: serviceFeeBP, currency: currency}
}

func (c *Calculator) ServiceFeeBP() int64 {
	return c.serviceFeeBP
}

// Compute prices a stay. The service fee applies to the discounted base,
// taxes apply to the discounted base plus service fee, cleaning is untaxed.
func (c *Calculator) Compute(in Input) (*Breakdown, error) {
	if in.Property == nil {
		return nil, &PricingInputError{Field: "property", Reason: "is required"}
	}

	nights := in.Range.Nights()
	if nights < 1 {
		return nil, &PricingInputError{Field: "nights", Reason: fmt.Sprintf("must be at least 1, got %d", nights)}
	}
	if in.Guests < 1 {
		return nil, &PricingInputError{Field: "guests", Reason: fmt.Sprintf("must be at least 1, got %d", in.Guests)}
	}
	if in.Property.Capacity > 0 && in.Guests > in.Property.Capacity {
		return nil, &PricingInputError{
			Field:  "guests",
			Reason: fmt.Sprintf("%d exceeds capacity %d", in.Guests, in.Property.Capacity),
		}
	}
	if in.Property.NightlyPrice < 0 || in.Property.CleaningFee < 0 {
		return nil, &PricingInputError{Field: "property", Reason: "has negative prices"}
	}

	currency := in.Property.Currency
	if currency == "" {
		currency = c.currency
	}

	b := &Breakdown{
		Nights:      nights,
		Currency:    currency,
		NightlyRate: make([]NightRate, 0, nights),
	}

	for _, night := range in.Range.Dates() {
		price := NightlyPrice(in.Property, in.Overrides, night)
		b.NightlyRate = append(b.NightlyRate, NightRate{Date: night.Format(daterange.Layout), Price: price})
		b.Base += price
	}

	b.DiscountBP = discountRate(in.Property, nights)
	b.Discount = RoundBP(b.Base, b.DiscountBP)

	discounted := b.Base - b.Discount
	b.ServiceFee = RoundBP(discounted, c.serviceFeeBP)
	b.CleaningFee = cleaningFee(in.Property, nights)
	b.Taxes = RoundBP(discounted+b.ServiceFee, in.Property.TaxRateBP)
	b.Total = discounted + b.ServiceFee + b.CleaningFee + b.Taxes

	return b, nil
}

func discountRate(p *models.Property, nights int) int64 {
	switch {
	case nights >= monthlyNights && p.MonthlyDiscountBP > 0:
		return p.MonthlyDiscountBP
	case nights >= weeklyNights && p.WeeklyDiscountBP > 0:
		return p.WeeklyDiscountBP
	default:
		return 0
	}
}

func cleaningFee(p *models.Property, nights int) int64 {
	if p.CleaningEveryNights <= 0 {
		return p.CleaningFee
	}
	visits := (nights + p.CleaningEveryNights - 1) / p.CleaningEveryNights
	return p.CleaningFee * int64(visits)
}

// RoundBP returns amount * bp / 10000 rounded half-up on the minor unit.
func RoundBP(amount, bp int64) int64 {
	if amount < 0 {
		return -RoundBP(-amount, bp)
	}
	return (amount*bp + models.BasisPoints/2) / models.BasisPoints
}

// OverridesFromBlocks collects nightly price overrides from rate blocks
// that cover nights of r.
func OverridesFromBlocks(blocks []*models.AvailabilityBlock, r daterange.DateRange) map[string]int64 {
	overrides := make(map[string]int64)
	for _, b := range blocks {
		if b.PriceOverride == nil {
			continue
		}
		shared, ok := b.Range().Intersect(r)
		if !ok {
			continue
		}
		for _, night := range shared.Dates() {
			overrides[night.Format(daterange.Layout)] = *b.PriceOverride
		}
	}
	return overrides
}

// NightlyPrice returns the rate charged on day d.
func NightlyPrice(p *models.Property, overrides map[string]int64, d time.Time) int64 {
	if v, ok := overrides[d.Format(daterange.Layout)]; ok {
		return v
	}
	return p.NightlyPrice
}
