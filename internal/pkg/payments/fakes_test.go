package payments

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// fakeRepository is an in-memory Repository with the same observable
// semantics as the GORM implementation, including the unique-tuple claim on
// webhook records and the (user_id, tier_id) subscription upsert.
type fakeRepository struct {
	tiers    map[uint]*models.SubscriptionTier
	users    map[uint]*models.User
	orders   []*models.Order
	subs     []*models.Subscription
	refunds  []*models.Refund
	webhooks []*models.WebhookRecord
	events   []models.PaymentEvent

	nextID uint

	createOrderErr  error
	recordRefundErr error
	applyErr        error

	appliedTransitions []*Transition
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		tiers: make(map[uint]*models.SubscriptionTier),
		users: make(map[uint]*models.User),
	}
}

func (r *fakeRepository) id() uint {
	r.nextID++
	return r.nextID
}

func (r *fakeRepository) addTier(t *models.SubscriptionTier) *models.SubscriptionTier {
	if t.ID == 0 {
		t.ID = r.id()
	}
	r.tiers[t.ID] = t
	return t
}

func (r *fakeRepository) addUser(u *models.User) *models.User {
	if u.ID == 0 {
		u.ID = r.id()
	}
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = models.FreeTierLabel
	}
	r.users[u.ID] = u
	return u
}

func (r *fakeRepository) addOrder(o *models.Order) *models.Order {
	if o.ID == 0 {
		o.ID = r.id()
	}
	r.orders = append(r.orders, o)
	return o
}

func (r *fakeRepository) addSubscription(s *models.Subscription) *models.Subscription {
	if s.ID == 0 {
		s.ID = r.id()
	}
	if tier, ok := r.tiers[s.TierID]; ok {
		s.Tier = *tier
	}
	r.subs = append(r.subs, s)
	return s
}

func (r *fakeRepository) eventsOfType(eventType string) []models.PaymentEvent {
	var out []models.PaymentEvent
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *fakeRepository) GetActiveTier(id uint) (*models.SubscriptionTier, error) {
	tier, ok := r.tiers[id]
	if !ok || !tier.IsActive {
		return nil, ErrTierNotFound
	}
	return tier, nil
}

func (r *fakeRepository) GetUser(id uint) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *fakeRepository) CreateOrder(o *models.Order) error {
	if r.createOrderErr != nil {
		return r.createOrderErr
	}
	r.addOrder(o)
	return nil
}

func (r *fakeRepository) SaveOrderGatewayRef(orderID uint, gatewayOrderID, checkoutURL string, expiresAt *time.Time) error {
	for _, o := range r.orders {
		if o.ID == orderID {
			o.GatewayOrderID = gatewayOrderID
			o.CheckoutURL = checkoutURL
			o.ExpiresAt = expiresAt
			return nil
		}
	}
	return ErrOrderNotFound
}

func (r *fakeRepository) GetOrderByPublicID(publicID string) (*models.Order, error) {
	for _, o := range r.orders {
		if o.PublicID == publicID {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *fakeRepository) GetOrderByGatewayOrderID(gatewayOrderID string) (*models.Order, error) {
	for _, o := range r.orders {
		if o.GatewayOrderID == gatewayOrderID {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *fakeRepository) FindReusablePendingOrder(userID, tierID uint, notBefore time.Time) (*models.Order, error) {
	var newest *models.Order
	for _, o := range r.orders {
		if o.UserID != userID || o.TierID != tierID || o.Status != models.OrderStatusPending {
			continue
		}
		if o.CheckoutURL == "" || o.CreatedAt.Before(notBefore) {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	return newest, nil
}

func (r *fakeRepository) GetTrialingSubscription(userID uint) (*models.Subscription, error) {
	for _, s := range r.subs {
		if s.UserID == userID && s.Status == models.SubscriptionStatusTrialing {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeRepository) ListDueRenewals(now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range r.subs {
		if s.Status != models.SubscriptionStatusActive || !s.AutoRenew || s.CancelAtPeriodEnd {
			continue
		}
		if s.GatewayToken == "" || s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeRepository) ListExpiredTrials(now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range r.subs {
		if s.Status == models.SubscriptionStatusTrialing && s.TrialExpired(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeRepository) AdvanceSubscriptionPeriod(subID uint, start, end time.Time) error {
	for _, s := range r.subs {
		if s.ID == subID {
			st, en := start, end
			s.CurrentPeriodStart = &st
			s.CurrentPeriodEnd = &en
			s.RenewalAttempts = 0
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) SetSubscriptionRenewalAttempts(subID uint, attempts int) error {
	for _, s := range r.subs {
		if s.ID == subID {
			s.RenewalAttempts = attempts
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) MarkSubscriptionPastDue(subID uint, now time.Time) error {
	for _, s := range r.subs {
		if s.ID == subID {
			s.Status = models.SubscriptionStatusPastDue
			if u, ok := r.users[s.UserID]; ok {
				u.SubscriptionTier = models.FreeTierLabel
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) CancelSubscription(subID uint, now time.Time) error {
	for _, s := range r.subs {
		if s.ID == subID {
			t := now
			s.Status = models.SubscriptionStatusCanceled
			s.CanceledAt = &t
			if u, ok := r.users[s.UserID]; ok {
				u.SubscriptionTier = models.FreeTierLabel
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) SumRefundedAmount(orderID uint) (float64, error) {
	var total int64
	for _, ref := range r.refunds {
		if ref.OrderID == orderID && ref.Status == models.RefundStatusSucceeded {
			total += minorUnits(ref.Amount)
		}
	}
	return majorUnits(total), nil
}

func (r *fakeRepository) RecordRefund(refund *models.Refund, orderStatus string, event *models.PaymentEvent) error {
	if r.recordRefundErr != nil {
		return r.recordRefundErr
	}
	// Same in-transaction recheck as the GORM implementation.
	var order *models.Order
	for _, o := range r.orders {
		if o.ID == refund.OrderID {
			order = o
		}
	}
	if order == nil {
		return gorm.ErrRecordNotFound
	}
	var prior int64
	for _, ref := range r.refunds {
		if ref.OrderID == refund.OrderID && ref.Status == models.RefundStatusSucceeded {
			prior += minorUnits(ref.Amount)
		}
	}
	if prior+minorUnits(refund.Amount) > minorUnits(order.Amount) {
		return fmt.Errorf("%w: %.2f already refunded of %.2f",
			ErrRefundExceedsRemaining, majorUnits(prior), order.Amount)
	}
	refund.ID = r.id()
	r.refunds = append(r.refunds, refund)
	for _, o := range r.orders {
		if o.ID == refund.OrderID {
			o.Status = orderStatus
		}
	}
	if event != nil {
		r.events = append(r.events, *event)
	}
	return nil
}

func (r *fakeRepository) AppendPaymentEvent(ev *models.PaymentEvent) error {
	r.events = append(r.events, *ev)
	return nil
}

func (r *fakeRepository) ClaimWebhook(rec *models.WebhookRecord) (bool, error) {
	for _, existing := range r.webhooks {
		if existing.GatewayOrderID == rec.GatewayOrderID &&
			existing.EventType == rec.EventType &&
			existing.IdempotencyKey == rec.IdempotencyKey {
			*rec = *existing
			return false, nil
		}
	}
	rec.ID = r.id()
	stored := *rec
	r.webhooks = append(r.webhooks, &stored)
	return true, nil
}

func (r *fakeRepository) GetWebhookRecord(id uint) (*models.WebhookRecord, error) {
	for _, rec := range r.webhooks {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) MarkWebhookRecord(id uint, status, errMsg string) error {
	for _, rec := range r.webhooks {
		if rec.ID == id {
			now := time.Now()
			rec.Status = status
			rec.ErrorMessage = errMsg
			rec.ProcessedAt = &now
			rec.Attempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) ApplyTransition(t *Transition) error {
	if r.applyErr != nil {
		return r.applyErr
	}
	r.appliedTransitions = append(r.appliedTransitions, t)
	if t.NoOp {
		return nil
	}

	if t.OrderStatus != "" {
		for _, o := range r.orders {
			if o.ID == t.OrderID {
				o.Status = t.OrderStatus
			}
		}
	}
	if t.CancelSubscriptionID != 0 {
		for _, s := range r.subs {
			if s.ID == t.CancelSubscriptionID {
				now := t.Now
				s.Status = models.SubscriptionStatusCanceled
				s.CanceledAt = &now
			}
		}
	}
	if t.Subscription != nil {
		var existing *models.Subscription
		for _, s := range r.subs {
			if s.UserID == t.Subscription.UserID && s.TierID == t.Subscription.TierID {
				existing = s
				break
			}
		}
		if existing != nil {
			existing.Status = t.Subscription.Status
			existing.CurrentPeriodStart = t.Subscription.CurrentPeriodStart
			existing.CurrentPeriodEnd = t.Subscription.CurrentPeriodEnd
			existing.GatewayOrderRef = t.Subscription.GatewayOrderRef
			existing.CanceledAt = t.Subscription.CanceledAt
			existing.CancelAtPeriodEnd = t.Subscription.CancelAtPeriodEnd
			*t.Subscription = *existing
		} else {
			r.addSubscription(t.Subscription)
		}
	}
	if t.ProfileTierLabel != "" {
		if u, ok := r.users[t.UserID]; ok {
			u.SubscriptionTier = t.ProfileTierLabel
		}
	}
	r.events = append(r.events, t.Events...)
	return nil
}

func (r *fakeRepository) ListTierLabelDrift() ([]TierLabelDrift, error) {
	var drift []TierLabelDrift
	for _, u := range r.users {
		expected := models.FreeTierLabel
		for _, s := range r.subs {
			if s.UserID == u.ID && s.Status == models.SubscriptionStatusActive {
				if tier, ok := r.tiers[s.TierID]; ok {
					expected = tier.Name
				}
			}
		}
		if u.SubscriptionTier != expected {
			drift = append(drift, TierLabelDrift{
				UserID:        u.ID,
				CurrentLabel:  u.SubscriptionTier,
				ExpectedLabel: expected,
			})
		}
	}
	return drift, nil
}

func (r *fakeRepository) SetUserTierLabel(userID uint, label string) error {
	if u, ok := r.users[userID]; ok {
		u.SubscriptionTier = label
	}
	return nil
}

// fakeGateway is a scriptable Gateway.
type fakeGateway struct {
	startResult *StartPaymentResult
	startErr    error
	startCalls  []StartPaymentRequest

	chargeResult *RecurringChargeResult
	chargeErr    error
	chargeCalls  []RecurringChargeRequest

	refundResult *RefundResult
	refundErr    error
	refundHook   func()
	refundCalls  []struct {
		GatewayOrderID string
		Amount         float64
		Reason         string
	}

	status    GatewayStatus
	statusErr error
}

func (g *fakeGateway) StartPayment(_ context.Context, req StartPaymentRequest) (*StartPaymentResult, error) {
	g.startCalls = append(g.startCalls, req)
	if g.startErr != nil {
		return nil, g.startErr
	}
	if g.startResult != nil {
		return g.startResult, nil
	}
	return &StartPaymentResult{
		GatewayOrderID: "NTP-" + req.OrderPublicID,
		CheckoutURL:    "https://pay.example.com/" + req.OrderPublicID,
		ExpiresAt:      time.Now().Add(time.Hour),
	}, nil
}

func (g *fakeGateway) GetStatus(_ context.Context, _ string) (GatewayStatus, error) {
	if g.statusErr != nil {
		return "", g.statusErr
	}
	return g.status, nil
}

func (g *fakeGateway) ChargeToken(_ context.Context, req RecurringChargeRequest) (*RecurringChargeResult, error) {
	g.chargeCalls = append(g.chargeCalls, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeResult != nil {
		return g.chargeResult, nil
	}
	return &RecurringChargeResult{
		GatewayOrderID: "NTP-REC-" + req.OrderPublicID,
		Status:         GatewayStatusSucceeded,
	}, nil
}

func (g *fakeGateway) IssueRefund(_ context.Context, gatewayOrderID string, amount float64, reason string) (*RefundResult, error) {
	g.refundCalls = append(g.refundCalls, struct {
		GatewayOrderID string
		Amount         float64
		Reason         string
	}{gatewayOrderID, amount, reason})
	if g.refundHook != nil {
		g.refundHook()
	}
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refundResult != nil {
		return g.refundResult, nil
	}
	return &RefundResult{GatewayRefundID: "RF-" + gatewayOrderID, Status: "SUCCEEDED"}, nil
}

// newTestService wires a service onto the fakes with a fixed clock.
func newTestService(repo *fakeRepository, gw *fakeGateway, now time.Time) *Service {
	s := NewService(repo, gw)
	s.now = func() time.Time { return now }
	return s
}
