package models

import (
	"encoding/json"
	"time"
)

const (
	BillingIntervalMonthly  = "MONTHLY"
	BillingIntervalYearly   = "YEARLY"
	BillingIntervalLifetime = "LIFETIME"
)

// SubscriptionTier is a catalog row describing a purchasable access tier.
// Rows are maintained by the admin tooling; the payment core only reads them.
type SubscriptionTier struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Slug            string    `gorm:"type:varchar(100);uniqueIndex" json:"slug" validate:"required,min=2,max=100"`
	Name            string    `gorm:"type:varchar(100)" json:"name" validate:"required,max=100"`
	Description     string    `gorm:"type:text" json:"description"`
	Price           float64   `gorm:"type:decimal(10,2);not null" json:"price" validate:"gte=0"`
	Currency        string    `gorm:"type:char(3);not null;default:'RON'" json:"currency" validate:"len=3"`
	BillingInterval string    `gorm:"type:varchar(16);not null" json:"billing_interval" validate:"oneof=MONTHLY YEARLY LIFETIME"`
	TrialDays       int       `gorm:"default:0" json:"trial_days" validate:"gte=0"`
	FeaturesJSON    string    `gorm:"type:text" json:"-"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubscriptionTier) TableName() string {
	return "subscription_tiers"
}

// Features decodes the stored feature list. A broken or empty column yields nil.
func (t *SubscriptionTier) Features() []string {
	if t.FeaturesJSON == "" {
		return nil
	}
	var features []string
	if err := json.Unmarshal([]byte(t.FeaturesJSON), &features); err != nil {
		return nil
	}
	return features
}

func (t *SubscriptionTier) SetFeatures(features []string) error {
	data, err := json.Marshal(features)
	if err != nil {
		return err
	}
	t.FeaturesJSON = string(data)
	return nil
}
