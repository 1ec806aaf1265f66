package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrTierNotFound is returned when the requested tier is missing or inactive.
	ErrTierNotFound = errors.New("tier not found")
	// ErrOrderNotFound is returned when an order lookup by public id fails.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotRefundable is returned for refunds against orders that never settled.
	ErrOrderNotRefundable = errors.New("order is not refundable")
	// ErrRefundExceedsRemaining is returned when a refund would exceed the
	// unrefunded remainder of the order.
	ErrRefundExceedsRemaining = errors.New("refund amount exceeds remaining order amount")
	// ErrInvalidNotification is returned for webhook bodies missing required fields.
	ErrInvalidNotification = errors.New("invalid webhook notification")
	// ErrNoGatewayToken is returned when a recurring charge is attempted for a
	// subscription without a stored card token.
	ErrNoGatewayToken = errors.New("subscription has no stored gateway token")
)

// Gateway error codes. Every transport or non-success gateway response is
// normalized into exactly one of these.
const (
	GatewayAuthError       = "GATEWAY_AUTH_ERROR"
	GatewayValidationError = "GATEWAY_VALIDATION_ERROR"
	GatewayUnavailable     = "GATEWAY_UNAVAILABLE"
	GatewayUnknown         = "GATEWAY_UNKNOWN"
)

// GatewayError wraps any failed gateway interaction with a stable code the
// caller can branch on.
type GatewayError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is a normalized gateway failure and
// returns it when so.
func IsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
