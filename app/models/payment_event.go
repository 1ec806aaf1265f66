package models

import "time"

const (
	PaymentEventOrderCreated         = "ORDER_CREATED"
	PaymentEventWebhookProcessed     = "WEBHOOK_PROCESSED"
	PaymentEventOrphanPayment        = "ORPHAN_PAYMENT"
	PaymentEventRefundIssued         = "REFUND_ISSUED"
	PaymentEventRefundUnrecorded     = "REFUND_UNRECORDED"
	PaymentEventAutoRenewalAttempted = "AUTO_RENEWAL_ATTEMPTED"
	PaymentEventAutoRenewalFailed    = "AUTO_RENEWAL_FAILED"
	PaymentEventSubscriptionCanceled = "SUBSCRIPTION_CANCELED"
	PaymentEventTierLabelRepaired    = "TIER_LABEL_REPAIRED"
)

// PaymentEvent is an append-only audit log entry. Rows are write-only: they
// feed reconciliation (orphan payments, unrecorded refunds) and are never
// updated or deleted.
type PaymentEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrderID        *uint     `gorm:"index" json:"order_id,omitempty"`
	SubscriptionID *uint     `gorm:"index" json:"subscription_id,omitempty"`
	EventType      string    `gorm:"type:varchar(50);not null;index" json:"event_type"`
	GatewayOrderID string    `gorm:"type:varchar(191);index" json:"gateway_order_id"`
	Amount         float64   `gorm:"type:decimal(10,2)" json:"amount"`
	Currency       string    `gorm:"type:char(3)" json:"currency"`
	RawPayload     string    `gorm:"type:longtext" json:"raw_payload"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_events"
}
