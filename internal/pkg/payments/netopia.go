package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
)

const (
	defaultNetopiaSandboxBaseURL    = "https://sandboxsecure.mobilpay.ro"
	defaultNetopiaProductionBaseURL = "https://secure.mobilpay.ro"

	netopiaStartPath     = "/api/v1/payments"
	netopiaStatusPath    = "/api/v1/payments/status"
	netopiaRecurrentPath = "/api/v1/payments/recurrent"
	netopiaRefundPath    = "/api/v1/payments/refund"
)

// NetopiaClient talks to the Netopia (mobilpay) card gateway. Credentials and
// base URL are resolved once at construction; Validate must pass before the
// client is used so a misconfigured deployment fails at startup, not on the
// first checkout.
type NetopiaClient struct {
	Environment string
	APIKey      string
	SecretKey   string
	BaseURL     string
	ConfirmURL  string
	RedirectURL string

	HTTPClient *http.Client
}

// NewNetopiaClientFromEnv builds the client for the environment selected by
// NETOPIA_ENV (sandbox or production), each with its own credential pair.
func NewNetopiaClientFromEnv() *NetopiaClient {
	environment := strings.ToLower(strings.TrimSpace(env.GetEnv("NETOPIA_ENV", "sandbox")))

	apiKey := env.GetEnv("NETOPIA_SANDBOX_API_KEY", "")
	secretKey := env.GetEnv("NETOPIA_SANDBOX_SECRET_KEY", "")
	baseURL := env.GetEnv("NETOPIA_SANDBOX_BASE_URL", defaultNetopiaSandboxBaseURL)
	if environment == "production" {
		apiKey = env.GetEnv("NETOPIA_API_KEY", "")
		secretKey = env.GetEnv("NETOPIA_SECRET_KEY", "")
		baseURL = env.GetEnv("NETOPIA_BASE_URL", defaultNetopiaProductionBaseURL)
	}

	publicDomain := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	confirmURL := strings.TrimSpace(env.GetEnv("WEBHOOK_CONFIRM_URL", ""))
	if confirmURL == "" && publicDomain != "" {
		confirmURL = publicDomain + "/webhook/netopia/ipn"
	}
	redirectURL := strings.TrimSpace(env.GetEnv("CHECKOUT_REDIRECT_URL", ""))
	if redirectURL == "" && publicDomain != "" {
		redirectURL = publicDomain + "/payment/return"
	}

	return &NetopiaClient{
		Environment: environment,
		APIKey:      strings.TrimSpace(apiKey),
		SecretKey:   strings.TrimSpace(secretKey),
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ConfirmURL:  confirmURL,
		RedirectURL: redirectURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Validate fails fast on missing credentials or callback URLs.
func (c *NetopiaClient) Validate() error {
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("NETOPIA_ENV must be sandbox or production, got %q", c.Environment)
	}
	if c.APIKey == "" || c.SecretKey == "" {
		return fmt.Errorf("netopia %s credentials are not configured", c.Environment)
	}
	if c.BaseURL == "" {
		return errors.New("netopia base URL is not configured")
	}
	if c.ConfirmURL == "" {
		return errors.New("webhook confirm URL is not configured (set WEBHOOK_CONFIRM_URL or PUBLIC_DOMAIN)")
	}
	if c.RedirectURL == "" {
		return errors.New("checkout redirect URL is not configured (set CHECKOUT_REDIRECT_URL or PUBLIC_DOMAIN)")
	}
	return nil
}

type netopiaConfig struct {
	ConfirmURL  string `json:"confirmUrl"`
	RedirectURL string `json:"redirectUrl"`
	Language    string `json:"language"`
}

type netopiaBilling struct {
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Details    string `json:"details,omitempty"`
}

type netopiaOrder struct {
	OrderID     string         `json:"orderID"`
	Amount      int64          `json:"amount"` // minor units (bani)
	Currency    string         `json:"currency"`
	Description string         `json:"description"`
	Billing     netopiaBilling `json:"billing"`
	Token       string         `json:"token,omitempty"`
}

type netopiaRequest struct {
	Config netopiaConfig `json:"config"`
	Order  netopiaOrder  `json:"order"`
}

type netopiaRefundRequest struct {
	NtpID  string `json:"ntpID"`
	Amount int64  `json:"amount"` // minor units (bani)
	Reason string `json:"reason,omitempty"`
}

type netopiaStatusRequest struct {
	NtpID string `json:"ntpID"`
}

type netopiaResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Payment struct {
		NtpID      string `json:"ntpID"`
		Status     string `json:"status"`
		PaymentURL string `json:"paymentURL"`
		ExpiresAt  string `json:"expiresAt"`
	} `json:"payment"`
	Refund struct {
		NtpRefundID string `json:"ntpRefundID"`
		Status      string `json:"status"`
	} `json:"refund"`
}

// StartPayment asks the gateway for a hosted checkout session. The major-unit
// amount is converted to bani here and nowhere else.
func (c *NetopiaClient) StartPayment(ctx context.Context, req StartPaymentRequest) (*StartPaymentResult, error) {
	payload := netopiaRequest{
		Config: netopiaConfig{
			ConfirmURL:  c.ConfirmURL,
			RedirectURL: c.RedirectURL,
			Language:    "ro",
		},
		Order: netopiaOrder{
			OrderID:     req.OrderPublicID,
			Amount:      minorUnits(req.Amount),
			Currency:    req.Currency,
			Description: req.Description,
			Billing: netopiaBilling{
				Email:      req.CustomerEmail,
				Phone:      req.Billing.Phone,
				FirstName:  req.Billing.FirstName,
				LastName:   req.Billing.LastName,
				City:       req.Billing.City,
				Country:    req.Billing.Country,
				PostalCode: req.Billing.PostalCode,
				Details:    req.Billing.Details,
			},
		},
	}

	resp, err := c.post(ctx, netopiaStartPath, payload)
	if err != nil {
		return nil, err
	}
	if resp.Payment.NtpID == "" || resp.Payment.PaymentURL == "" {
		return nil, &GatewayError{Code: GatewayUnknown, Message: "gateway response missing payment id or checkout URL"}
	}

	expiresAt := time.Now().Add(time.Hour)
	if resp.Payment.ExpiresAt != "" {
		if t, perr := time.Parse(time.RFC3339, resp.Payment.ExpiresAt); perr == nil {
			expiresAt = t
		}
	}

	return &StartPaymentResult{
		GatewayOrderID: resp.Payment.NtpID,
		CheckoutURL:    resp.Payment.PaymentURL,
		ExpiresAt:      expiresAt,
	}, nil
}

// GetStatus pulls the current payment status for a gateway order id. Used by
// the reconciliation paths when the IPN channel is late or lost.
func (c *NetopiaClient) GetStatus(ctx context.Context, gatewayOrderID string) (GatewayStatus, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return "", errors.New("gateway order id is required")
	}
	resp, err := c.post(ctx, netopiaStatusPath, netopiaStatusRequest{NtpID: gatewayOrderID})
	if err != nil {
		return "", err
	}
	status, ok := ParseGatewayStatus(resp.Payment.Status)
	if !ok {
		return status, &GatewayError{Code: GatewayUnknown, Message: fmt.Sprintf("unhandled gateway status %q", resp.Payment.Status)}
	}
	return status, nil
}

// ChargeToken charges a stored card token for a renewal order.
func (c *NetopiaClient) ChargeToken(ctx context.Context, req RecurringChargeRequest) (*RecurringChargeResult, error) {
	if strings.TrimSpace(req.GatewayToken) == "" {
		return nil, ErrNoGatewayToken
	}
	payload := netopiaRequest{
		Config: netopiaConfig{
			ConfirmURL:  c.ConfirmURL,
			RedirectURL: c.RedirectURL,
			Language:    "ro",
		},
		Order: netopiaOrder{
			OrderID:     req.OrderPublicID,
			Amount:      minorUnits(req.Amount),
			Currency:    req.Currency,
			Description: req.Description,
			Token:       req.GatewayToken,
		},
	}

	resp, err := c.post(ctx, netopiaRecurrentPath, payload)
	if err != nil {
		return nil, err
	}
	if resp.Payment.NtpID == "" {
		return nil, &GatewayError{Code: GatewayUnknown, Message: "gateway response missing payment id"}
	}
	status, _ := ParseGatewayStatus(resp.Payment.Status)
	return &RecurringChargeResult{
		GatewayOrderID: resp.Payment.NtpID,
		Status:         status,
	}, nil
}

// IssueRefund reverses up to the full settled amount of a gateway order.
func (c *NetopiaClient) IssueRefund(ctx context.Context, gatewayOrderID string, amount float64, reason string) (*RefundResult, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return nil, errors.New("gateway order id is required")
	}
	resp, err := c.post(ctx, netopiaRefundPath, netopiaRefundRequest{
		NtpID:  gatewayOrderID,
		Amount: minorUnits(amount),
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}
	if resp.Refund.NtpRefundID == "" {
		return nil, &GatewayError{Code: GatewayUnknown, Message: "gateway response missing refund id"}
	}
	return &RefundResult{
		GatewayRefundID: resp.Refund.NtpRefundID,
		Status:          strings.ToUpper(strings.TrimSpace(resp.Refund.Status)),
	}, nil
}

// post signs and sends one gateway request and normalizes every failure mode
// into a *GatewayError. A 200 body with success=false is still a failure: the
// gateway reports business rejections inside an otherwise-OK response.
func (c *NetopiaClient) post(ctx context.Context, path string, payload interface{}) (*netopiaResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Code: GatewayUnknown, Message: "failed to encode gateway request", Err: err}
	}

	timestamp := time.Now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Code: GatewayUnknown, Message: "failed to build gateway request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("X-Ntp-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-Ntp-Signature", SignPayload(body, timestamp, c.SecretKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Code: GatewayUnavailable, Message: "gateway request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &GatewayError{Code: GatewayAuthError, Message: "gateway rejected credentials", StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &GatewayError{Code: GatewayValidationError, Message: gatewayMessage(respBody), StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &GatewayError{Code: GatewayUnavailable, Message: "gateway unavailable", StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &GatewayError{Code: GatewayUnknown, Message: gatewayMessage(respBody), StatusCode: resp.StatusCode}
	}

	var out netopiaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &GatewayError{Code: GatewayUnknown, Message: "failed to decode gateway response", StatusCode: resp.StatusCode, Err: err}
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "gateway reported failure"
		}
		code := GatewayUnknown
		if strings.HasPrefix(out.Code, "4") {
			code = GatewayValidationError
		}
		return nil, &GatewayError{Code: code, Message: msg, StatusCode: resp.StatusCode}
	}
	return &out, nil
}

func gatewayMessage(body []byte) string {
	var partial struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &partial); err == nil && partial.Message != "" {
		return partial.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
