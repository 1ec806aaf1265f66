package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmonitor/LexMonitor/app/models"
)

func checkoutFixture(t *testing.T) (*fakeRepository, *fakeGateway, *Service, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepository()
	repo.addTier(&models.SubscriptionTier{
		ID: 3, Slug: "pro-monthly", Name: "Pro Monthly",
		Price: 49.99, Currency: "RON",
		BillingInterval: models.BillingIntervalMonthly, IsActive: true,
	})
	repo.addUser(&models.User{ID: 42, Name: "Ana Pop", Email: "ana@example.ro"})
	gw := &fakeGateway{}
	return repo, gw, newTestService(repo, gw, now), now
}

func TestStartCheckoutCreatesPendingOrder(t *testing.T) {
	repo, gw, svc, _ := checkoutFixture(t)

	result, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.NoError(t, err)

	require.Len(t, repo.orders, 1)
	order := repo.orders[0]
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 49.99, order.Amount)
	assert.Equal(t, "RON", order.Currency)
	assert.NotEmpty(t, order.PublicID)
	assert.Equal(t, order.PublicID, result.OrderID)
	assert.Equal(t, "NTP-"+order.PublicID, order.GatewayOrderID)
	assert.NotEmpty(t, result.CheckoutURL)

	require.Len(t, gw.startCalls, 1)
	assert.Equal(t, 49.99, gw.startCalls[0].Amount)

	events := repo.eventsOfType(models.PaymentEventOrderCreated)
	require.Len(t, events, 1)
	assert.Equal(t, order.GatewayOrderID, events[0].GatewayOrderID)
}

func TestStartCheckoutUnknownTier(t *testing.T) {
	_, _, svc, _ := checkoutFixture(t)

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 99, CustomerEmail: "ana@example.ro",
	})
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestStartCheckoutInactiveTier(t *testing.T) {
	repo, _, svc, _ := checkoutFixture(t)
	repo.addTier(&models.SubscriptionTier{ID: 8, Slug: "legacy", Name: "Legacy", Price: 9.99, IsActive: false})

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 8, CustomerEmail: "ana@example.ro",
	})
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestStartCheckoutBillingAddressOptional(t *testing.T) {
	repo, gw, svc, _ := checkoutFixture(t)

	// No billing block at all: the hosted payment page collects it.
	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.NoError(t, err)
	require.Len(t, repo.orders, 1)

	// When provided, the block is forwarded to the gateway as-is. A second
	// user avoids the pending-order reuse window.
	repo.addUser(&models.User{ID: 43, Name: "Ion Rus", Email: "ion@example.ro"})
	_, err = svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 43, TierID: 3, CustomerEmail: "ion@example.ro",
		Billing: BillingAddress{FirstName: "Ion", LastName: "Rus", City: "Cluj-Napoca"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, gw.startCalls)
	last := gw.startCalls[len(gw.startCalls)-1]
	assert.Equal(t, "Ion", last.Billing.FirstName)
	assert.Equal(t, "Cluj-Napoca", last.Billing.City)

	// Length limits still apply to what is provided.
	_, err = svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
		Billing: BillingAddress{FirstName: strings.Repeat("a", 101)},
	})
	assert.Error(t, err)
}

func TestStartCheckoutValidatesInput(t *testing.T) {
	_, gw, svc, _ := checkoutFixture(t)

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "not-an-email",
	})
	assert.Error(t, err)
	assert.Empty(t, gw.startCalls)
}

func TestStartCheckoutReusesLivePendingOrder(t *testing.T) {
	repo, gw, svc, now := checkoutFixture(t)
	existing := repo.addOrder(&models.Order{
		PublicID: "existing-order", UserID: 42, TierID: 3,
		Amount: 49.99, Currency: "RON", Status: models.OrderStatusPending,
		CheckoutURL: "https://pay.netopia.test/existing",
		CreatedAt:   now.Add(-10 * time.Minute),
	})

	result, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.NoError(t, err)

	assert.Equal(t, existing.PublicID, result.OrderID)
	assert.Equal(t, existing.CheckoutURL, result.CheckoutURL)
	assert.Len(t, repo.orders, 1, "no second order is created")
	assert.Empty(t, gw.startCalls, "gateway is not called again")
}

func TestStartCheckoutIgnoresStalePendingOrder(t *testing.T) {
	repo, gw, svc, now := checkoutFixture(t)
	repo.addOrder(&models.Order{
		PublicID: "stale-order", UserID: 42, TierID: 3,
		Amount: 49.99, Currency: "RON", Status: models.OrderStatusPending,
		CheckoutURL: "https://pay.netopia.test/stale",
		CreatedAt:   now.Add(-2 * time.Hour),
	})

	result, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.NoError(t, err)

	assert.NotEqual(t, "stale-order", result.OrderID)
	assert.Len(t, repo.orders, 2)
	assert.Len(t, gw.startCalls, 1)
}

func TestStartCheckoutMarksTrialConversion(t *testing.T) {
	repo, _, svc, now := checkoutFixture(t)
	trialEnd := now.Add(48 * time.Hour)
	trialing := repo.addSubscription(&models.Subscription{
		UserID: 42, TierID: 3, Status: models.SubscriptionStatusTrialing, TrialEnd: &trialEnd,
	})
	repo.users[42].SubscriptionTier = "Pro Monthly"

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.NoError(t, err)

	require.Len(t, repo.orders, 1)
	md := repo.orders[0].Metadata()
	assert.True(t, md.TrialConversion)
	assert.Equal(t, trialing.ID, md.TrialSubscriptionID)
	assert.Equal(t, uint(3), md.TrialTierID)
}

func TestStartCheckoutExpiredTrialIsNotAConversion(t *testing.T) {
	repo, _, svc, now := checkoutFixture(t)
	trialEnd := now.Add(-time.Hour)
	repo.addSubscription(&models.Subscription{
		UserID: 42, TierID: 3, Status: models.SubscriptionStatusTrialing, TrialEnd: &trialEnd,
	})
	repo.users[42].SubscriptionTier = "Pro Monthly"

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.NoError(t, err)

	assert.False(t, repo.orders[0].Metadata().TrialConversion)
}

func TestStartCheckoutGatewayFailureLeavesOrderPending(t *testing.T) {
	repo, gw, svc, _ := checkoutFixture(t)
	gw.startErr = &GatewayError{Code: GatewayUnavailable, Message: "gateway unavailable", StatusCode: 502}

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	require.Error(t, err)

	ge, ok := IsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, GatewayUnavailable, ge.Code)

	// The order exists but has no gateway reference and no checkout URL, so
	// it is never handed back for reuse.
	require.Len(t, repo.orders, 1)
	assert.Equal(t, models.OrderStatusPending, repo.orders[0].Status)
	assert.Empty(t, repo.orders[0].GatewayOrderID)
	assert.Empty(t, repo.orders[0].CheckoutURL)
}

func TestStartCheckoutOrderCreateFailure(t *testing.T) {
	repo, gw, svc, _ := checkoutFixture(t)
	repo.createOrderErr = errors.New("db gone")

	_, err := svc.StartCheckout(context.Background(), StartCheckoutInput{
		UserID: 42, TierID: 3, CustomerEmail: "ana@example.ro",
	})
	assert.Error(t, err)
	assert.Empty(t, gw.startCalls, "gateway is not called without a persisted order")
}

func TestGetOrderStatus(t *testing.T) {
	repo, _, svc, _ := checkoutFixture(t)
	repo.addOrder(&models.Order{PublicID: "order-1", UserID: 42, TierID: 3, Status: models.OrderStatusSucceeded})

	order, err := svc.GetOrderStatus("order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSucceeded, order.Status)

	_, err = svc.GetOrderStatus("missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
