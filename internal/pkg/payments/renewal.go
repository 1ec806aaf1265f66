package payments

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// maxRenewalAttempts caps consecutive failed renewal charges per
// subscription before it is parked PAST_DUE and drops out of the due list.
const maxRenewalAttempts = 3

// ProcessDueRenewals charges every ACTIVE auto-renewing subscription whose
// period has ended and which holds a stored card token. Each renewal gets its
// own order; the gateway confirms the charge through the usual IPN channel,
// so the period is only advanced optimistically here and the webhook path
// remains authoritative for the order itself.
func (s *Service) ProcessDueRenewals(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.ListDueRenewals(now)
	if err != nil {
		return fmt.Errorf("failed to list due renewals: %w", err)
	}
	log.Infof("[Renewal] %d subscription(s) due for renewal", len(due))

	for i := range due {
		sub := &due[i]
		if err := s.renewSubscription(ctx, sub); err != nil {
			s.recordRenewalFailure(sub, err)
		}
	}
	return nil
}

// recordRenewalFailure counts a failed renewal charge. Below the cap the
// subscription stays ACTIVE and is retried on the next cron run; at the cap
// it moves to PAST_DUE and the profile drops back to the free label.
func (s *Service) recordRenewalFailure(sub *models.Subscription, cause error) {
	attempts := sub.RenewalAttempts + 1
	log.Errorf("[Renewal] Renewal failed for subscription %d (attempt %d/%d): %v",
		sub.ID, attempts, maxRenewalAttempts, cause)

	subID := sub.ID
	_ = s.repo.AppendPaymentEvent(&models.PaymentEvent{
		SubscriptionID: &subID,
		EventType:      models.PaymentEventAutoRenewalFailed,
		Amount:         sub.Tier.Price,
		Currency:       sub.Tier.Currency,
		RawPayload:     fmt.Sprintf(`{"error":%q,"attempt":%d}`, cause.Error(), attempts),
	})

	if attempts >= maxRenewalAttempts {
		if err := s.repo.MarkSubscriptionPastDue(sub.ID, s.now()); err != nil {
			log.Errorf("[Renewal] Failed to mark subscription %d past due: %v", sub.ID, err)
			return
		}
		log.Warnf("[Renewal] Subscription %d is PAST_DUE after %d failed charge(s)", sub.ID, attempts)
		return
	}
	if err := s.repo.SetSubscriptionRenewalAttempts(sub.ID, attempts); err != nil {
		log.Errorf("[Renewal] Failed to record renewal attempt for subscription %d: %v", sub.ID, err)
	}
}

func (s *Service) renewSubscription(ctx context.Context, sub *models.Subscription) error {
	now := s.now()

	order := &models.Order{
		PublicID: uuid.New().String(),
		UserID:   sub.UserID,
		TierID:   sub.TierID,
		Amount:   sub.Tier.Price,
		Currency: sub.Tier.Currency,
		Status:   models.OrderStatusPending,
	}
	if err := order.SetMetadata(models.OrderMetadata{Renewal: true, SubscriptionID: sub.ID}); err != nil {
		return err
	}
	if err := s.repo.CreateOrder(order); err != nil {
		return fmt.Errorf("failed to create renewal order: %w", err)
	}

	result, err := s.gateway.ChargeToken(ctx, RecurringChargeRequest{
		OrderPublicID: order.PublicID,
		GatewayToken:  sub.GatewayToken,
		Amount:        order.Amount,
		Currency:      order.Currency,
		Description:   fmt.Sprintf("Renewal for subscription %d", sub.ID),
	})
	if err != nil {
		return err
	}

	if err := s.repo.SaveOrderGatewayRef(order.ID, result.GatewayOrderID, "", nil); err != nil {
		return fmt.Errorf("failed to persist renewal gateway reference: %w", err)
	}

	periodEnd := NextPeriodEnd(now, sub.Tier.BillingInterval)
	if err := s.repo.AdvanceSubscriptionPeriod(sub.ID, now, periodEnd); err != nil {
		return fmt.Errorf("failed to advance subscription period: %w", err)
	}

	orderID := order.ID
	subID := sub.ID
	if err := s.repo.AppendPaymentEvent(&models.PaymentEvent{
		OrderID:        &orderID,
		SubscriptionID: &subID,
		EventType:      models.PaymentEventAutoRenewalAttempted,
		GatewayOrderID: result.GatewayOrderID,
		Amount:         order.Amount,
		Currency:       order.Currency,
	}); err != nil {
		log.Errorf("[Renewal] Failed to log renewal attempt for subscription %d: %v", sub.ID, err)
	}

	log.Infof("[Renewal] Subscription %d renewed via order %s (gateway %s, charge status %s)",
		sub.ID, order.PublicID, result.GatewayOrderID, result.Status)
	return nil
}

// ProcessTrialExpirations resolves every TRIALING subscription whose trial has
// elapsed: charge the stored token when one exists, cancel otherwise.
func (s *Service) ProcessTrialExpirations(ctx context.Context) error {
	now := s.now()
	expired, err := s.repo.ListExpiredTrials(now)
	if err != nil {
		return fmt.Errorf("failed to list expired trials: %w", err)
	}
	log.Infof("[Renewal] %d trial(s) expired", len(expired))

	for i := range expired {
		sub := &expired[i]
		if sub.GatewayToken == "" {
			if err := s.cancelExpiredTrial(sub, "trial expired - no payment method"); err != nil {
				log.Errorf("[Renewal] Failed to cancel trial subscription %d: %v", sub.ID, err)
			}
			continue
		}
		if err := s.renewSubscription(ctx, sub); err != nil {
			log.Errorf("[Renewal] Trial charge failed for subscription %d: %v", sub.ID, err)
			if cerr := s.cancelExpiredTrial(sub, "trial expired - charge failed"); cerr != nil {
				log.Errorf("[Renewal] Failed to cancel trial subscription %d after charge failure: %v", sub.ID, cerr)
			}
		}
	}
	return nil
}

func (s *Service) cancelExpiredTrial(sub *models.Subscription, reason string) error {
	if err := s.repo.CancelSubscription(sub.ID, s.now()); err != nil {
		return err
	}
	subID := sub.ID
	_ = s.repo.AppendPaymentEvent(&models.PaymentEvent{
		SubscriptionID: &subID,
		EventType:      models.PaymentEventSubscriptionCanceled,
		RawPayload:     fmt.Sprintf(`{"reason":%q,"auto_cancel":true}`, reason),
	})
	log.Infof("[Renewal] Canceled trial subscription %d (%s)", sub.ID, reason)
	return nil
}

// RepairTierLabels is the safety net behind the write-path invariant: the
// profile's denormalized tier label must equal the tier name of the user's
// ACTIVE subscription. Any drift is repaired and logged.
func (s *Service) RepairTierLabels() error {
	drift, err := s.repo.ListTierLabelDrift()
	if err != nil {
		return fmt.Errorf("failed to scan for tier label drift: %w", err)
	}
	if len(drift) == 0 {
		return nil
	}
	log.Warnf("[Renewal] %d profile(s) with tier label drift", len(drift))

	for _, d := range drift {
		if err := s.repo.SetUserTierLabel(d.UserID, d.ExpectedLabel); err != nil {
			log.Errorf("[Renewal] Failed to repair tier label for user %d: %v", d.UserID, err)
			continue
		}
		_ = s.repo.AppendPaymentEvent(&models.PaymentEvent{
			EventType:  models.PaymentEventTierLabelRepaired,
			RawPayload: fmt.Sprintf(`{"user_id":%d,"from":%q,"to":%q}`, d.UserID, d.CurrentLabel, d.ExpectedLabel),
		})
		log.Infof("[Renewal] Repaired tier label for user %d: %q -> %q", d.UserID, d.CurrentLabel, d.ExpectedLabel)
	}
	return nil
}
