package pricing

import (
	"errors"
	"testing"

	"loft/internal/daterange"
	"loft/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProperty() *models.Property {
	return &models.Property{
		ID:           1,
		NightlyPrice: 10000,
		CleaningFee:  2000,
		TaxRateBP:    1900,
		Capacity:     4,
		Currency:     "DZD",
	}
}

func TestComputeScenario(t *testing.T) {
	calc := NewCalculator(500, "")

	b, err := calc.Compute(Input{
		Property: testProperty(),
		Range:    daterange.MustParse("2025-06-01", "2025-06-04"),
		Guests:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, b.Nights)
	assert.Equal(t, int64(30000), b.Base)
	assert.Equal(t, int64(0), b.Discount)
	assert.Equal(t, int64(1500), b.ServiceFee)
	assert.Equal(t, int64(2000), b.CleaningFee)
	assert.Equal(t, int64(5985), b.Taxes)
	assert.Equal(t, int64(39485), b.Total)
	assert.Equal(t, "DZD", b.Currency)
	assert.Len(t, b.NightlyRate, 3)
}

func TestComputeGolden(t *testing.T) {
	calc := NewCalculator(500, "DZD")

	tests := []struct {
		name     string
		mutate   func(p *models.Property)
		checkIn  string
		checkOut string
		over     map[string]int64
		want     Breakdown
	}{
		{
			name:     "one night rounding half up",
			mutate:   func(p *models.Property) { p.NightlyPrice = 10010; p.TaxRateBP = 900 },
			checkIn:  "2025-06-01",
			checkOut: "2025-06-02",
			// service 500.5 -> 501, taxes (10010+501)*0.09 = 945.99 -> 946
			want: Breakdown{Nights: 1, Base: 10010, ServiceFee: 501, CleaningFee: 2000, Taxes: 946, Total: 13457},
		},
		{
			name:     "weekly discount",
			mutate:   func(p *models.Property) { p.WeeklyDiscountBP = 1000; p.MonthlyDiscountBP = 2000 },
			checkIn:  "2025-06-01",
			checkOut: "2025-06-08",
			// base 70000, discount 7000, service 3150, taxes 12568.5 -> 12569
			want: Breakdown{Nights: 7, Base: 70000, DiscountBP: 1000, Discount: 7000, ServiceFee: 3150, CleaningFee: 2000, Taxes: 12569, Total: 80719},
		},
		{
			name:     "monthly discount supersedes weekly",
			mutate:   func(p *models.Property) { p.WeeklyDiscountBP = 1000; p.MonthlyDiscountBP = 2000; p.TaxRateBP = 0 },
			checkIn:  "2025-06-01",
			checkOut: "2025-06-29",
			// base 280000, discount 56000, service 11200
			want: Breakdown{Nights: 28, Base: 280000, DiscountBP: 2000, Discount: 56000, ServiceFee: 11200, CleaningFee: 2000, Taxes: 0, Total: 237200},
		},
		{
			name:     "cleaning cadence",
			mutate:   func(p *models.Property) { p.CleaningEveryNights = 3; p.TaxRateBP = 0 },
			checkIn:  "2025-06-01",
			checkOut: "2025-06-08",
			// 7 nights -> 3 cleanings
			want: Breakdown{Nights: 7, Base: 70000, ServiceFee: 3500, CleaningFee: 6000, Taxes: 0, Total: 79500},
		},
		{
			name:     "price override",
			mutate:   func(p *models.Property) { p.TaxRateBP = 0 },
			checkIn:  "2025-06-01",
			checkOut: "2025-06-03",
			over:     map[string]int64{"2025-06-02": 15000},
			want:     Breakdown{Nights: 2, Base: 25000, ServiceFee: 1250, CleaningFee: 2000, Taxes: 0, Total: 28250},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProperty()
			tt.mutate(p)

			got, err := calc.Compute(Input{
				Property:  p,
				Range:     daterange.MustParse(tt.checkIn, tt.checkOut),
				Guests:    1,
				Overrides: tt.over,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.want.Nights, got.Nights)
			assert.Equal(t, tt.want.Base, got.Base)
			assert.Equal(t, tt.want.DiscountBP, got.DiscountBP)
			assert.Equal(t, tt.want.Discount, got.Discount)
			assert.Equal(t, tt.want.ServiceFee, got.ServiceFee)
			assert.Equal(t, tt.want.CleaningFee, got.CleaningFee)
			assert.Equal(t, tt.want.Taxes, got.Taxes)
			assert.Equal(t, tt.want.Total, got.Total)
			assert.Equal(t, got.Base-got.Discount+got.ServiceFee+got.CleaningFee+got.Taxes, got.Total)
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	calc := NewCalculator(500, "DZD")
	in := Input{Property: testProperty(), Range: daterange.MustParse("2025-01-01", "2025-01-11"), Guests: 3}

	first, err := calc.Compute(in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := calc.Compute(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeInputErrors(t *testing.T) {
	calc := NewCalculator(500, "DZD")
	r := daterange.MustParse("2025-06-01", "2025-06-03")

	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"nil property", Input{Range: r, Guests: 1}, "property"},
		{"zero nights", Input{Property: testProperty(), Range: daterange.DateRange{}, Guests: 1}, "nights"},
		{"no guests", Input{Property: testProperty(), Range: r, Guests: 0}, "guests"},
		{"over capacity", Input{Property: testProperty(), Range: r, Guests: 5}, "guests"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Compute(tt.in)
			require.Error(t, err)

			var pe *PricingInputError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestRoundBP(t *testing.T) {
	assert.Equal(t, int64(1500), RoundBP(30000, 500))
	assert.Equal(t, int64(5985), RoundBP(31500, 1900))
	assert.Equal(t, int64(503), RoundBP(10050, 500))  // 502.5
	assert.Equal(t, int64(500), RoundBP(10009, 500))  // 500.45
	assert.Equal(t, int64(0), RoundBP(0, 1900))
	assert.Equal(t, int64(-503), RoundBP(-10050, 500))
}

func TestOverridesFromBlocks(t *testing.T) {
	price := int64(12000)
	blocks := []*models.AvailabilityBlock{
		{
			StartDate:     daterange.MustParse("2025-05-30", "2025-06-02").CheckIn,
			EndDate:       daterange.MustParse("2025-05-30", "2025-06-02").CheckOut,
			Reason:        models.BlockReasonRate,
			PriceOverride: &price,
		},
		{
			StartDate: daterange.MustParse("2025-06-02", "2025-06-03").CheckIn,
			EndDate:   daterange.MustParse("2025-06-02", "2025-06-03").CheckOut,
			Reason:    models.BlockReasonRate,
			MinStay:   2,
		},
	}

	got := OverridesFromBlocks(blocks, daterange.MustParse("2025-06-01", "2025-06-04"))
	assert.Equal(t, map[string]int64{"2025-06-01": 12000}, got)
}
