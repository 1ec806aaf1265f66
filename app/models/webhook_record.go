package models

import "time"

const (
	WebhookStatusProcessing = "PROCESSING"
	WebhookStatusSucceeded  = "SUCCEEDED"
	WebhookStatusFailed     = "FAILED"
)

// WebhookRecord is the idempotency ledger for inbound gateway notifications.
// The composite unique index on (gateway_order_id, event_type, idempotency_key)
// is the concurrency control for duplicate deliveries: a second insert of the
// same tuple is rejected by the database, which holds across process instances.
type WebhookRecord struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	GatewayOrderID string     `gorm:"type:varchar(191);not null;index:ux_webhook_records_claim,unique,priority:1" json:"gateway_order_id"`
	EventType      string     `gorm:"type:varchar(100);not null;index:ux_webhook_records_claim,unique,priority:2" json:"event_type"`
	IdempotencyKey string     `gorm:"type:char(64);not null;index:ux_webhook_records_claim,unique,priority:3" json:"idempotency_key"`
	Status         string     `gorm:"type:varchar(16);not null;default:'PROCESSING';index" json:"status"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message"`
	PayloadJSON    string     `gorm:"type:longtext" json:"payload_json"`
	Attempts       int        `gorm:"default:0" json:"attempts"`
	ProcessedAt    *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookRecord) TableName() string {
	return "webhook_records"
}
