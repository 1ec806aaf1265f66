package models

import "time"

const (
	RefundStatusPending   = "PENDING"
	RefundStatusSucceeded = "SUCCEEDED"
	RefundStatusFailed    = "FAILED"
)

// Refund records money returned for a settled order. A row is only created
// after the gateway accepted the refund; settled rows are immutable.
type Refund struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PublicID        string    `gorm:"type:char(36);uniqueIndex;not null" json:"public_id"`
	OrderID         uint      `gorm:"not null;index" json:"order_id"`
	GatewayRefundID string    `gorm:"type:varchar(191)" json:"gateway_refund_id"`
	Amount          float64   `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency        string    `gorm:"type:char(3);not null;default:'RON'" json:"currency"`
	Reason          string    `gorm:"type:varchar(255)" json:"reason"`
	Status          string    `gorm:"type:varchar(32);not null;index" json:"status"`
	MetadataJSON    string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}
