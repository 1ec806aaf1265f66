package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// webhookEventTypePayment is the ledger event type for IPN payment
// notifications that do not declare their own event type.
const webhookEventTypePayment = "payment.status"

// IngestWebhook is the synchronous half of webhook handling: validate, claim
// the idempotency ledger row, and report whether this delivery was seen first.
// The state transition itself runs asynchronously (ProcessWebhook) so the
// gateway gets its acknowledgment immediately and never retries a slow
// delivery into a duplicate.
func (s *Service) IngestWebhook(n *WebhookNotification, rawPayload []byte) (*IngestResult, error) {
	if n == nil || strings.TrimSpace(n.GatewayOrderID) == "" || strings.TrimSpace(n.Status) == "" {
		return nil, ErrInvalidNotification
	}

	eventType := strings.TrimSpace(n.EventType)
	if eventType == "" {
		eventType = webhookEventTypePayment
	}

	rec := &models.WebhookRecord{
		GatewayOrderID: n.GatewayOrderID,
		EventType:      eventType,
		IdempotencyKey: IdempotencyKey(n.GatewayOrderID, eventType, rawPayload),
		Status:         models.WebhookStatusProcessing,
		PayloadJSON:    string(rawPayload),
	}

	claimed, err := s.repo.ClaimWebhook(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook: %w", err)
	}
	if !claimed {
		log.Infof("[Webhook] Duplicate delivery for gateway order %s (record %d)", n.GatewayOrderID, rec.ID)
		return &IngestResult{Accepted: true, Duplicate: true, WebhookID: rec.ID}, nil
	}

	log.Infof("[Webhook] Claimed delivery %d for gateway order %s status=%s", rec.ID, n.GatewayOrderID, n.Status)
	return &IngestResult{Accepted: true, WebhookID: rec.ID}, nil
}

// ProcessWebhook is the asynchronous half: it drives the state machine for a
// claimed ledger record. Errors mark the record FAILED and propagate so the
// job queue retries with backoff; a record that already reached SUCCEEDED is
// skipped, which keeps retries after partial failures harmless.
func (s *Service) ProcessWebhook(ctx context.Context, recordID uint) error {
	// A canceled job (worker shutdown) must not half-apply a transition;
	// bail before touching the record so the retry picks it up intact.
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := s.repo.GetWebhookRecord(recordID)
	if err != nil {
		return fmt.Errorf("failed to load webhook record %d: %w", recordID, err)
	}
	if rec.Status == models.WebhookStatusSucceeded {
		return nil
	}

	var n WebhookNotification
	if err := json.Unmarshal([]byte(rec.PayloadJSON), &n); err != nil {
		// A payload that passed ingestion but no longer parses is not retryable.
		_ = s.repo.MarkWebhookRecord(rec.ID, models.WebhookStatusFailed, "unparseable payload: "+err.Error())
		return nil
	}

	order, err := s.repo.GetOrderByGatewayOrderID(rec.GatewayOrderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return s.recordOrphanPayment(rec, &n)
		}
		return s.failWebhook(rec, fmt.Errorf("order lookup failed: %w", err))
	}

	status, handled := ParseGatewayStatus(n.Status)
	if !handled {
		log.Warnf("[Webhook] Unhandled gateway status %q for order %s; leaving order untouched", n.Status, order.PublicID)
	}

	tier, err := s.repo.GetActiveTier(order.TierID)
	if err != nil && err != ErrTierNotFound {
		return s.failWebhook(rec, fmt.Errorf("tier lookup failed: %w", err))
	}

	trialing, err := s.repo.GetTrialingSubscription(order.UserID)
	if err != nil {
		return s.failWebhook(rec, fmt.Errorf("subscription lookup failed: %w", err))
	}

	transition, err := Decide(order, tier, trialing, status, s.now())
	if err != nil {
		return s.failWebhook(rec, fmt.Errorf("state machine rejected notification: %w", err))
	}

	if transition.Unhandled {
		log.Warnf("[Webhook] No transition for status %q on order %s", n.Status, order.PublicID)
	}

	orderID := order.ID
	transition.Events = append(transition.Events, models.PaymentEvent{
		OrderID:        &orderID,
		EventType:      models.PaymentEventWebhookProcessed,
		GatewayOrderID: rec.GatewayOrderID,
		Amount:         n.Amount,
		Currency:       n.Currency,
		RawPayload:     rec.PayloadJSON,
	})

	if err := s.repo.ApplyTransition(transition); err != nil {
		return s.failWebhook(rec, fmt.Errorf("failed to apply transition: %w", err))
	}
	// NoOp transitions skip the transactional write; the audit entry still matters.
	if transition.NoOp {
		if err := s.repo.AppendPaymentEvent(&transition.Events[len(transition.Events)-1]); err != nil {
			log.Errorf("[Webhook] Failed to log replayed delivery %d: %v", rec.ID, err)
		}
	}

	if err := s.repo.MarkWebhookRecord(rec.ID, models.WebhookStatusSucceeded, ""); err != nil {
		return fmt.Errorf("transition applied but record %d not marked: %w", rec.ID, err)
	}

	log.Infof("[Webhook] Processed delivery %d for order %s: status %s -> %s",
		rec.ID, order.PublicID, order.Status, orNext(transition.OrderStatus, order.Status))
	return nil
}

// recordOrphanPayment logs a gateway-confirmed payment with no local order.
// It is money received: the event feeds manual reconciliation and the record
// is closed so the gateway is never given a reason to redeliver.
func (s *Service) recordOrphanPayment(rec *models.WebhookRecord, n *WebhookNotification) error {
	log.Warnf("[Webhook] Orphan payment: gateway order %s matches no local order", rec.GatewayOrderID)

	if err := s.repo.AppendPaymentEvent(&models.PaymentEvent{
		EventType:      models.PaymentEventOrphanPayment,
		GatewayOrderID: rec.GatewayOrderID,
		Amount:         n.Amount,
		Currency:       n.Currency,
		RawPayload:     rec.PayloadJSON,
	}); err != nil {
		return s.failWebhook(rec, fmt.Errorf("failed to log orphan payment: %w", err))
	}
	return s.repo.MarkWebhookRecord(rec.ID, models.WebhookStatusSucceeded, "orphan payment: no matching order")
}

func (s *Service) failWebhook(rec *models.WebhookRecord, cause error) error {
	if err := s.repo.MarkWebhookRecord(rec.ID, models.WebhookStatusFailed, cause.Error()); err != nil {
		log.Errorf("[Webhook] Failed to mark record %d failed: %v", rec.ID, err)
	}
	return cause
}

func orNext(next, current string) string {
	if next == "" {
		return current
	}
	return next
}
