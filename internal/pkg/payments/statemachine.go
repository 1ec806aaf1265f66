package payments

import (
	"fmt"
	"time"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// lifetimeYears is the horizon used for LIFETIME tiers. Effectively unlimited
// while keeping date arithmetic well-defined.
const lifetimeYears = 100

// Transition is the full outcome of one state-machine decision: the next
// order status plus every side effect the repository must apply atomically.
type Transition struct {
	OrderID uint
	UserID  uint
	Now     time.Time

	// OrderStatus is the next order status; empty means unchanged.
	OrderStatus string
	// NoOp marks a replay against an order already in the target state.
	NoOp bool
	// Unhandled marks a gateway status outside the closed enum; the decision
	// changes nothing and the caller logs it.
	Unhandled bool

	// CancelSubscriptionID is a TRIALING row superseded by a different paid tier.
	CancelSubscriptionID uint
	// Subscription is the desired row, upserted keyed on (user_id, tier_id).
	Subscription *models.Subscription
	// ProfileTierLabel is the denormalized tier name written onto the user's
	// profile in the same unit of work as the subscription.
	ProfileTierLabel string

	Events []models.PaymentEvent
}

// Decide maps (order, optional trialing subscription, incoming gateway status)
// to the next order/subscription state. Pure: no clock, no storage; the caller
// supplies now and applies the result.
//
// Replays are idempotent and order history is forward-only: any delivery
// against an order no longer PENDING decides a no-op, which makes the
// webhook path safe against duplicates, late retries and out-of-order
// notifications alike.
func Decide(order *models.Order, tier *models.SubscriptionTier, trialing *models.Subscription, status GatewayStatus, now time.Time) (*Transition, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}

	t := &Transition{OrderID: order.ID, UserID: order.UserID, Now: now}

	// Order history is forward-only: only a PENDING order may settle. A
	// delivery against an order that already reached a terminal or refund
	// state is a late retry or a replay and decides a no-op, whatever
	// status it carries. A success must never be undone by a stale
	// "declined", and a refunded order must never flip back.
	if order.Status != models.OrderStatusPending {
		switch status {
		case GatewayStatusSucceeded, GatewayStatusFailed, GatewayStatusCanceled, GatewayStatusPending:
			t.NoOp = true
		default:
			t.Unhandled = true
		}
		return t, nil
	}

	switch status {
	case GatewayStatusSucceeded:
		if tier == nil {
			return nil, fmt.Errorf("tier is required for a succeeded payment")
		}
		t.OrderStatus = models.OrderStatusSucceeded

		md := order.Metadata()
		if md.TrialConversion && trialing != nil && trialing.TierID != order.TierID {
			t.CancelSubscriptionID = trialing.ID
		}

		periodEnd := NextPeriodEnd(now, tier.BillingInterval)
		t.Subscription = &models.Subscription{
			UserID:             order.UserID,
			TierID:             order.TierID,
			Status:             models.SubscriptionStatusActive,
			CurrentPeriodStart: &now,
			CurrentPeriodEnd:   &periodEnd,
			GatewayOrderRef:    order.GatewayOrderID,
			AutoRenew:          true,
		}
		t.ProfileTierLabel = tier.Name

	case GatewayStatusFailed:
		t.OrderStatus = models.OrderStatusFailed

	case GatewayStatusCanceled:
		t.OrderStatus = models.OrderStatusCanceled

	case GatewayStatusPending:
		// The order was created PENDING; an interim gateway ping changes nothing.
		t.NoOp = true

	default:
		t.Unhandled = true
	}

	return t, nil
}

// NextPeriodEnd computes the calendar-aware end of a billing period.
// MONTHLY and YEARLY clamp to the last valid day of the target month
// (Jan 31 + 1 month = Feb 28/29); LIFETIME uses a fixed large horizon.
func NextPeriodEnd(start time.Time, interval string) time.Time {
	switch interval {
	case models.BillingIntervalMonthly:
		return addMonthsClamped(start, 1)
	case models.BillingIntervalYearly:
		return addYearsClamped(start, 1)
	case models.BillingIntervalLifetime:
		return start.AddDate(lifetimeYears, 0, 0)
	default:
		return addMonthsClamped(start, 1)
	}
}

// addMonthsClamped adds calendar months, clamping the day of month so the
// result is always a valid date. time.AddDate would normalize Jan 31 + 1
// month into March; billing periods must not skip a month that way.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	m := int(month) + months
	year += (m - 1) / 12
	m = (m-1)%12 + 1
	if m <= 0 {
		m += 12
		year--
	}
	if last := daysInMonth(year, time.Month(m)); day > last {
		day = last
	}
	return time.Date(year, time.Month(m), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func addYearsClamped(t time.Time, years int) time.Time {
	year, month, day := t.Date()
	year += years
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
