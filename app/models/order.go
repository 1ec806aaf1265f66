package models

import (
	"encoding/json"
	"time"
)

const (
	OrderStatusPending           = "PENDING"
	OrderStatusSucceeded         = "SUCCEEDED"
	OrderStatusFailed            = "FAILED"
	OrderStatusCanceled          = "CANCELED"
	OrderStatusRefunded          = "REFUNDED"
	OrderStatusPartiallyRefunded = "PARTIALLY_REFUNDED"
)

// Order is a single checkout/payment attempt. Orders are part of the financial
// audit trail and are never deleted; status only moves forward
// (PENDING -> terminal -> refund states).
type Order struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PublicID       string     `gorm:"type:char(36);uniqueIndex;not null" json:"public_id"`
	UserID         uint       `gorm:"not null;index:idx_orders_user_tier,priority:1" json:"user_id"`
	TierID         uint       `gorm:"not null;index:idx_orders_user_tier,priority:2" json:"tier_id"`
	Amount         float64    `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency       string     `gorm:"type:char(3);not null;default:'RON'" json:"currency"`
	Status         string     `gorm:"type:varchar(32);not null;default:'PENDING';index" json:"status"`
	GatewayOrderID string     `gorm:"type:varchar(191);index" json:"gateway_order_id"`
	CheckoutURL    string     `gorm:"type:varchar(512)" json:"checkout_url"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	MetadataJSON   string     `gorm:"type:text" json:"-"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderMetadata carries free-form checkout context. TrialConversion marks an
// order that supersedes an active trial when it settles.
type OrderMetadata struct {
	TrialConversion     bool              `json:"trial_conversion,omitempty"`
	TrialSubscriptionID uint              `json:"trial_subscription_id,omitempty"`
	TrialTierID         uint              `json:"trial_tier_id,omitempty"`
	Renewal             bool              `json:"renewal,omitempty"`
	SubscriptionID      uint              `json:"subscription_id,omitempty"`
	CustomData          map[string]string `json:"custom_data,omitempty"`
}

func (o *Order) Metadata() OrderMetadata {
	var md OrderMetadata
	if o.MetadataJSON == "" {
		return md
	}
	_ = json.Unmarshal([]byte(o.MetadataJSON), &md)
	return md
}

func (o *Order) SetMetadata(md OrderMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return err
	}
	o.MetadataJSON = string(data)
	return nil
}

// IsRefundable reports whether the order can accept a(nother) refund.
func (o *Order) IsRefundable() bool {
	return o.Status == OrderStatusSucceeded || o.Status == OrderStatusPartiallyRefunded
}
