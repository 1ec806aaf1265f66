package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// pendingOrderReuseWindow is how long an existing PENDING order with a live
// checkout URL is handed back instead of creating a new one. A user
// double-clicking "pay" must not be double-charged.
const pendingOrderReuseWindow = time.Hour

// Gateway is the payment-gateway adapter contract the services depend on.
type Gateway interface {
	StartPayment(ctx context.Context, req StartPaymentRequest) (*StartPaymentResult, error)
	GetStatus(ctx context.Context, gatewayOrderID string) (GatewayStatus, error)
	ChargeToken(ctx context.Context, req RecurringChargeRequest) (*RecurringChargeResult, error)
	IssueRefund(ctx context.Context, gatewayOrderID string, amount float64, reason string) (*RefundResult, error)
}

// Service orchestrates checkout, webhook processing, refunds and renewals on
// top of the repository and the gateway adapter.
type Service struct {
	repo     Repository
	gateway  Gateway
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a payment service from an injected repository and gateway.
func NewService(repo Repository, gateway Gateway) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		validate: validator.New(),
		now:      time.Now,
	}
}

// NewServiceFromDB creates a payment service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway) *Service {
	return NewService(NewRepository(db), gateway)
}

// StartCheckout creates a PENDING order for the tier and asks the gateway for
// a hosted checkout session. If the gateway call fails the order stays PENDING
// without a gateway reference and is left for the expiry reconciliation.
func (s *Service) StartCheckout(ctx context.Context, in StartCheckoutInput) (*StartCheckoutResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid checkout input: %w", err)
	}

	tier, err := s.repo.GetActiveTier(in.TierID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	// Double-click guard: hand back a still-live pending checkout for the
	// same user and tier instead of charging twice.
	if existing, err := s.repo.FindReusablePendingOrder(in.UserID, in.TierID, now.Add(-pendingOrderReuseWindow)); err != nil {
		return nil, err
	} else if existing != nil {
		log.Infof("[Checkout] Reusing pending order %s for user %d tier %d", existing.PublicID, in.UserID, in.TierID)
		return &StartCheckoutResult{
			OrderID:     existing.PublicID,
			CheckoutURL: existing.CheckoutURL,
			ExpiresAt:   derefTime(existing.ExpiresAt),
		}, nil
	}

	order := &models.Order{
		PublicID: uuid.New().String(),
		UserID:   in.UserID,
		TierID:   in.TierID,
		Amount:   tier.Price,
		Currency: tier.Currency,
		Status:   models.OrderStatusPending,
	}

	md := models.OrderMetadata{CustomData: in.CustomData}
	if trialing, terr := s.detectTrialConversion(in.UserID, now); terr != nil {
		return nil, terr
	} else if trialing != nil {
		md.TrialConversion = true
		md.TrialSubscriptionID = trialing.ID
		md.TrialTierID = trialing.TierID
	}
	if err := order.SetMetadata(md); err != nil {
		return nil, err
	}

	if err := s.repo.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result, err := s.gateway.StartPayment(ctx, StartPaymentRequest{
		OrderPublicID: order.PublicID,
		Amount:        order.Amount,
		Currency:      order.Currency,
		Description:   fmt.Sprintf("LexMonitor %s subscription", tier.Name),
		CustomerEmail: in.CustomerEmail,
		Billing:       in.Billing,
	})
	if err != nil {
		log.Errorf("[Checkout] Gateway start failed for order %s: %v", order.PublicID, err)
		return nil, err
	}

	if err := s.repo.SaveOrderGatewayRef(order.ID, result.GatewayOrderID, result.CheckoutURL, &result.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to persist gateway reference: %w", err)
	}

	orderID := order.ID
	if err := s.repo.AppendPaymentEvent(&models.PaymentEvent{
		OrderID:        &orderID,
		EventType:      models.PaymentEventOrderCreated,
		GatewayOrderID: result.GatewayOrderID,
		Amount:         order.Amount,
		Currency:       order.Currency,
	}); err != nil {
		log.Errorf("[Checkout] Failed to log ORDER_CREATED for order %s: %v", order.PublicID, err)
	}

	log.Infof("[Checkout] Order %s created for user %d tier %q (gateway %s)",
		order.PublicID, in.UserID, tier.Slug, result.GatewayOrderID)

	return &StartCheckoutResult{
		OrderID:     order.PublicID,
		CheckoutURL: result.CheckoutURL,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

// detectTrialConversion returns the user's TRIALING subscription when this
// checkout supersedes it: the trial has not elapsed and its tier is what the
// profile currently displays.
func (s *Service) detectTrialConversion(userID uint, now time.Time) (*models.Subscription, error) {
	trialing, err := s.repo.GetTrialingSubscription(userID)
	if err != nil {
		return nil, err
	}
	if trialing == nil || trialing.TrialExpired(now) {
		return nil, nil
	}
	user, err := s.repo.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user.SubscriptionTier != trialing.Tier.Name {
		return nil, nil
	}
	return trialing, nil
}

// GetOrderStatus is the poll-based status lookup for clients waiting on the
// redirect page. The webhook channel remains authoritative.
func (s *Service) GetOrderStatus(publicID string) (*models.Order, error) {
	return s.repo.GetOrderByPublicID(publicID)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
