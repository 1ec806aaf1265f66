package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmonitor/LexMonitor/app/models"
)

func monthlyTier() *models.SubscriptionTier {
	return &models.SubscriptionTier{
		ID:              3,
		Slug:            "pro-monthly",
		Name:            "Pro Monthly",
		Price:           49.99,
		Currency:        "RON",
		BillingInterval: models.BillingIntervalMonthly,
		IsActive:        true,
	}
}

func TestDecideSucceededActivatesSubscription(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	order := &models.Order{ID: 7, UserID: 42, TierID: 3, Status: models.OrderStatusPending, GatewayOrderID: "NTP-1"}
	tier := monthlyTier()

	transition, err := Decide(order, tier, nil, GatewayStatusSucceeded, now)
	require.NoError(t, err)

	assert.False(t, transition.NoOp)
	assert.Equal(t, models.OrderStatusSucceeded, transition.OrderStatus)
	assert.Equal(t, "Pro Monthly", transition.ProfileTierLabel)
	assert.Zero(t, transition.CancelSubscriptionID)

	require.NotNil(t, transition.Subscription)
	assert.Equal(t, uint(42), transition.Subscription.UserID)
	assert.Equal(t, uint(3), transition.Subscription.TierID)
	assert.Equal(t, models.SubscriptionStatusActive, transition.Subscription.Status)
	assert.Equal(t, "NTP-1", transition.Subscription.GatewayOrderRef)
	assert.True(t, transition.Subscription.AutoRenew)
	require.NotNil(t, transition.Subscription.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC), *transition.Subscription.CurrentPeriodEnd)
}

func TestDecideSucceededReplayIsNoOp(t *testing.T) {
	order := &models.Order{ID: 7, UserID: 42, TierID: 3, Status: models.OrderStatusSucceeded}

	transition, err := Decide(order, monthlyTier(), nil, GatewayStatusSucceeded, time.Now())
	require.NoError(t, err)

	assert.True(t, transition.NoOp)
	assert.Empty(t, transition.OrderStatus)
	assert.Nil(t, transition.Subscription)
}

func TestDecideTrialConversionSameTierUpdatesInPlace(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	order := &models.Order{ID: 7, UserID: 42, TierID: 3, Status: models.OrderStatusPending}
	require.NoError(t, order.SetMetadata(models.OrderMetadata{TrialConversion: true, TrialSubscriptionID: 11, TrialTierID: 3}))

	trialing := &models.Subscription{ID: 11, UserID: 42, TierID: 3, Status: models.SubscriptionStatusTrialing}

	transition, err := Decide(order, monthlyTier(), trialing, GatewayStatusSucceeded, now)
	require.NoError(t, err)

	// Same tier as the trial: the upsert keyed on (user_id, tier_id) converts
	// the TRIALING row to ACTIVE, nothing is canceled.
	assert.Zero(t, transition.CancelSubscriptionID)
	require.NotNil(t, transition.Subscription)
	assert.Equal(t, uint(3), transition.Subscription.TierID)
	assert.Equal(t, models.SubscriptionStatusActive, transition.Subscription.Status)
}

func TestDecideTrialConversionDifferentTierCancelsTrial(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	order := &models.Order{ID: 7, UserID: 42, TierID: 5, Status: models.OrderStatusPending}
	require.NoError(t, order.SetMetadata(models.OrderMetadata{TrialConversion: true, TrialSubscriptionID: 11, TrialTierID: 3}))

	trialing := &models.Subscription{ID: 11, UserID: 42, TierID: 3, Status: models.SubscriptionStatusTrialing}
	tier := &models.SubscriptionTier{ID: 5, Name: "Premium Yearly", BillingInterval: models.BillingIntervalYearly, IsActive: true}

	transition, err := Decide(order, tier, trialing, GatewayStatusSucceeded, now)
	require.NoError(t, err)

	assert.Equal(t, uint(11), transition.CancelSubscriptionID)
	require.NotNil(t, transition.Subscription)
	assert.Equal(t, uint(5), transition.Subscription.TierID)
	assert.Equal(t, "Premium Yearly", transition.ProfileTierLabel)
}

func TestDecideFailedAndCanceled(t *testing.T) {
	tests := []struct {
		name       string
		status     GatewayStatus
		current    string
		wantStatus string
		wantNoOp   bool
	}{
		{"failed", GatewayStatusFailed, models.OrderStatusPending, models.OrderStatusFailed, false},
		{"failed replay", GatewayStatusFailed, models.OrderStatusFailed, "", true},
		{"canceled", GatewayStatusCanceled, models.OrderStatusPending, models.OrderStatusCanceled, false},
		{"canceled replay", GatewayStatusCanceled, models.OrderStatusCanceled, "", true},
		{"pending ping", GatewayStatusPending, models.OrderStatusPending, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &models.Order{ID: 1, UserID: 2, TierID: 3, Status: tt.current}
			transition, err := Decide(order, nil, nil, tt.status, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.wantNoOp, transition.NoOp)
			assert.Equal(t, tt.wantStatus, transition.OrderStatus)
			assert.Nil(t, transition.Subscription)
		})
	}
}

func TestDecideSettledOrderIgnoresLateDeliveries(t *testing.T) {
	settled := []string{
		models.OrderStatusSucceeded,
		models.OrderStatusFailed,
		models.OrderStatusCanceled,
		models.OrderStatusRefunded,
		models.OrderStatusPartiallyRefunded,
	}
	statuses := []GatewayStatus{
		GatewayStatusSucceeded,
		GatewayStatusFailed,
		GatewayStatusCanceled,
		GatewayStatusPending,
	}

	for _, current := range settled {
		for _, status := range statuses {
			t.Run(current+"/"+string(status), func(t *testing.T) {
				order := &models.Order{ID: 1, UserID: 2, TierID: 3, Status: current}
				transition, err := Decide(order, monthlyTier(), nil, status, time.Now())
				require.NoError(t, err)

				assert.True(t, transition.NoOp)
				assert.Empty(t, transition.OrderStatus)
				assert.Nil(t, transition.Subscription)
			})
		}
	}
}

func TestDecideUnhandledStatus(t *testing.T) {
	order := &models.Order{ID: 1, UserID: 2, TierID: 3, Status: models.OrderStatusPending}

	transition, err := Decide(order, nil, nil, GatewayStatus("chargeback"), time.Now())
	require.NoError(t, err)

	assert.True(t, transition.Unhandled)
	assert.Empty(t, transition.OrderStatus)
	assert.Nil(t, transition.Subscription)
}

func TestDecideSucceededRequiresTier(t *testing.T) {
	order := &models.Order{ID: 1, UserID: 2, TierID: 3, Status: models.OrderStatusPending}

	_, err := Decide(order, nil, nil, GatewayStatusSucceeded, time.Now())
	assert.Error(t, err)
}

func TestNextPeriodEndMonthlyClampsToShortMonths(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		want  time.Time
	}{
		{
			"jan 31 clamps to feb 28",
			time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
		},
		{
			"jan 31 leap year clamps to feb 29",
			time.Date(2028, 1, 31, 12, 0, 0, 0, time.UTC),
			time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC),
		},
		{
			"mar 31 clamps to apr 30",
			time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			"dec 15 rolls into next year",
			time.Date(2026, 12, 15, 9, 30, 0, 0, time.UTC),
			time.Date(2027, 1, 15, 9, 30, 0, 0, time.UTC),
		},
		{
			"plain mid-month",
			time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextPeriodEnd(tt.start, models.BillingIntervalMonthly))
		})
	}
}

func TestNextPeriodEndYearly(t *testing.T) {
	// Feb 29 + 1 year clamps to Feb 28.
	got := NextPeriodEnd(time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), models.BillingIntervalYearly)
	assert.Equal(t, time.Date(2029, 2, 28, 0, 0, 0, 0, time.UTC), got)

	got = NextPeriodEnd(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), models.BillingIntervalYearly)
	assert.Equal(t, time.Date(2027, 7, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestNextPeriodEndLifetime(t *testing.T) {
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got := NextPeriodEnd(start, models.BillingIntervalLifetime)
	assert.Equal(t, 2126, got.Year())
}

func TestParseGatewayStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    GatewayStatus
		handled bool
	}{
		{"paid", GatewayStatusSucceeded, true},
		{"Confirmed", GatewayStatusSucceeded, true},
		{"DECLINED", GatewayStatusFailed, true},
		{"cancelled", GatewayStatusCanceled, true},
		{" pending ", GatewayStatusPending, true},
		{"chargeback", GatewayStatus("chargeback"), false},
	}

	for _, tt := range tests {
		got, handled := ParseGatewayStatus(tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.handled, handled, tt.raw)
	}
}
