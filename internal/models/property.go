package models

import "time"

type Property struct {
	ID                  int64     `yaml:"id" json:"id"`
	OwnerID             int64     `yaml:"owner_id" json:"owner_id"`
	Name                string    `yaml:"name" json:"name"`
	Description         string    `yaml:"description" json:"description"`
	NightlyPrice        int64     `yaml:"nightly_price" json:"nightly_price"`
	CleaningFee         int64     `yaml:"cleaning_fee" json:"cleaning_fee"`
	CleaningEveryNights int       `yaml:"cleaning_every_nights" json:"cleaning_every_nights"`
	TaxRateBP           int64     `yaml:"tax_rate_bp" json:"tax_rate_bp"`
	WeeklyDiscountBP    int64     `yaml:"weekly_discount_bp" json:"weekly_discount_bp"`
	MonthlyDiscountBP   int64     `yaml:"monthly_discount_bp" json:"monthly_discount_bp"`
	Capacity            int       `yaml:"capacity" json:"capacity"`
	Status              string    `yaml:"status" json:"status"`
	Currency            string    `yaml:"currency" json:"currency"`
	OwnerChatID         int64     `yaml:"owner_chat_id" json:"-"`
	CreatedAt           time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt           time.Time `yaml:"updated_at" json:"updated_at"`
}

func (p *Property) Bookable() bool {
	return p.Status == "" || p.Status == PropertyAvailable
}
