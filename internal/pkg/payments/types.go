package payments

import (
	"strings"
	"time"
)

// GatewayStatus is the closed set of payment states reported by the gateway.
// Everything the gateway sends is parsed into one of these values or rejected;
// the state machine switches exhaustively over them so a new status can never
// silently fall through as a no-op.
type GatewayStatus string

const (
	GatewayStatusPending   GatewayStatus = "pending"
	GatewayStatusSucceeded GatewayStatus = "succeeded"
	GatewayStatusFailed    GatewayStatus = "failed"
	GatewayStatusCanceled  GatewayStatus = "canceled"
)

// ParseGatewayStatus maps raw gateway status strings onto the closed enum.
// The second return value is false for statuses this core does not handle.
func ParseGatewayStatus(raw string) (GatewayStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "paid", "confirmed":
		return GatewayStatusSucceeded, true
	case "failed", "rejected", "declined":
		return GatewayStatusFailed, true
	case "canceled", "cancelled":
		return GatewayStatusCanceled, true
	case "pending", "new", "in_progress":
		return GatewayStatusPending, true
	default:
		return GatewayStatus(strings.ToLower(strings.TrimSpace(raw))), false
	}
}

// BillingAddress is the customer contact block forwarded to the gateway.
// Every field is optional at checkout; the hosted payment page collects
// whatever the gateway still needs.
type BillingAddress struct {
	FirstName  string `json:"firstName" validate:"max=100"`
	LastName   string `json:"lastName" validate:"max=100"`
	Phone      string `json:"phone" validate:"max=20"`
	City       string `json:"city" validate:"max=100"`
	Country    string `json:"country" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"max=20"`
	Details    string `json:"details" validate:"max=255"`
}

// StartPaymentRequest is the adapter input for a hosted-checkout payment.
// Amount is in major units (RON); conversion to the gateway's minor-unit
// convention happens inside the adapter only.
type StartPaymentRequest struct {
	OrderPublicID string
	Amount        float64
	Currency      string
	Description   string
	CustomerEmail string
	Billing       BillingAddress
}

// StartPaymentResult carries the gateway correlation id and the hosted
// checkout URL the customer is redirected to.
type StartPaymentResult struct {
	GatewayOrderID string
	CheckoutURL    string
	ExpiresAt      time.Time
}

// RecurringChargeRequest charges a stored card token without customer
// interaction (renewals and trial conversions driven by the billing cron).
type RecurringChargeRequest struct {
	OrderPublicID string
	GatewayToken  string
	Amount        float64
	Currency      string
	Description   string
}

// RecurringChargeResult reports the outcome of a token charge.
type RecurringChargeResult struct {
	GatewayOrderID string
	Status         GatewayStatus
}

// RefundResult is the adapter output for an accepted refund.
type RefundResult struct {
	GatewayRefundID string
	Status          string
}

// WebhookNotification is the flat payload POSTed by the gateway's IPN channel.
type WebhookNotification struct {
	OrderID        string  `json:"orderId"`
	GatewayOrderID string  `json:"gatewayOrderId" validate:"required"`
	EventType      string  `json:"eventType"`
	Status         string  `json:"status" validate:"required"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Timestamp      int64   `json:"timestamp"`
}

// StartCheckoutInput is the checkout call consumed by the API layer.
type StartCheckoutInput struct {
	UserID        uint              `json:"userId" validate:"required"`
	TierID        uint              `json:"tierId" validate:"required"`
	CustomerEmail string            `json:"customerEmail" validate:"required,email"`
	Billing       BillingAddress    `json:"billingAddress"`
	CustomData    map[string]string `json:"customData,omitempty"`
}

// StartCheckoutResult is returned to the API layer after checkout initiation.
type StartCheckoutResult struct {
	OrderID     string    `json:"orderId"`
	CheckoutURL string    `json:"checkoutUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RefundInput is the administrative refund call.
type RefundInput struct {
	OrderID string  `json:"orderId" validate:"required"`
	Amount  float64 `json:"amount" validate:"required,gt=0"`
	Reason  string  `json:"reason" validate:"max=255"`
}

// IngestResult reports how an inbound webhook was received.
type IngestResult struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
	WebhookID uint `json:"webhookId,omitempty"`
}
