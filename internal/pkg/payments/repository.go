package payments

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexmonitor/LexMonitor/app/models"
)

// TierLabelDrift is a user whose denormalized profile tier label disagrees
// with their active subscription.
type TierLabelDrift struct {
	UserID        uint
	CurrentLabel  string
	ExpectedLabel string
}

// Repository provides the DB operations used by the payment services.
type Repository interface {
	GetActiveTier(id uint) (*models.SubscriptionTier, error)
	GetUser(id uint) (*models.User, error)

	CreateOrder(o *models.Order) error
	SaveOrderGatewayRef(orderID uint, gatewayOrderID, checkoutURL string, expiresAt *time.Time) error
	GetOrderByPublicID(publicID string) (*models.Order, error)
	GetOrderByGatewayOrderID(gatewayOrderID string) (*models.Order, error)
	FindReusablePendingOrder(userID, tierID uint, notBefore time.Time) (*models.Order, error)

	GetTrialingSubscription(userID uint) (*models.Subscription, error)
	ListDueRenewals(now time.Time) ([]models.Subscription, error)
	ListExpiredTrials(now time.Time) ([]models.Subscription, error)
	AdvanceSubscriptionPeriod(subID uint, start, end time.Time) error
	SetSubscriptionRenewalAttempts(subID uint, attempts int) error
	MarkSubscriptionPastDue(subID uint, now time.Time) error
	CancelSubscription(subID uint, now time.Time) error

	SumRefundedAmount(orderID uint) (float64, error)
	RecordRefund(refund *models.Refund, orderStatus string, event *models.PaymentEvent) error

	AppendPaymentEvent(ev *models.PaymentEvent) error

	ClaimWebhook(rec *models.WebhookRecord) (bool, error)
	GetWebhookRecord(id uint) (*models.WebhookRecord, error)
	MarkWebhookRecord(id uint, status, errMsg string) error

	ApplyTransition(t *Transition) error

	ListTierLabelDrift() ([]TierLabelDrift, error)
	SetUserTierLabel(userID uint, label string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetActiveTier(id uint) (*models.SubscriptionTier, error) {
	var tier models.SubscriptionTier
	err := r.db.Where("id = ? AND is_active = ?", id, true).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierNotFound
		}
		return nil, err
	}
	return &tier, nil
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateOrder(o *models.Order) error {
	return r.db.Create(o).Error
}

func (r *gormRepository) SaveOrderGatewayRef(orderID uint, gatewayOrderID, checkoutURL string, expiresAt *time.Time) error {
	return r.db.Model(&models.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
		"gateway_order_id": gatewayOrderID,
		"checkout_url":     checkoutURL,
		"expires_at":       expiresAt,
	}).Error
}

func (r *gormRepository) GetOrderByPublicID(publicID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("public_id = ?", publicID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetOrderByGatewayOrderID(gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("gateway_order_id = ?", gatewayOrderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) FindReusablePendingOrder(userID, tierID uint, notBefore time.Time) (*models.Order, error) {
	var order models.Order
	err := r.db.
		Where("user_id = ? AND tier_id = ? AND status = ? AND checkout_url <> '' AND created_at >= ?",
			userID, tierID, models.OrderStatusPending, notBefore).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetTrialingSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Tier").
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusTrialing).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListDueRenewals(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Tier").
		Where("status = ? AND auto_renew = ? AND cancel_at_period_end = ? AND current_period_end <= ? AND gateway_token <> ''",
			models.SubscriptionStatusActive, true, false, now).
		Order("current_period_end ASC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListExpiredTrials(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Tier").
		Where("status = ? AND trial_end <= ?", models.SubscriptionStatusTrialing, now).
		Order("trial_end ASC").
		Find(&subs).Error
	return subs, err
}

// AdvanceSubscriptionPeriod moves the billing window forward after a
// successful charge and resets the renewal failure counter.
func (r *gormRepository) AdvanceSubscriptionPeriod(subID uint, start, end time.Time) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", subID).Updates(map[string]interface{}{
		"current_period_start": start,
		"current_period_end":   end,
		"renewal_attempts":     0,
	}).Error
}

func (r *gormRepository) SetSubscriptionRenewalAttempts(subID uint, attempts int) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", subID).
		Update("renewal_attempts", attempts).Error
}

// MarkSubscriptionPastDue parks a subscription whose renewal charges
// exhausted their retries and resets the owner's profile tier label to free
// in the same transaction. A later successful payment reactivates the row
// through the usual (user_id, tier_id) upsert.
func (r *gormRepository) MarkSubscriptionPastDue(subID uint, now time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.First(&sub, subID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Subscription{}).Where("id = ?", subID).
			Update("status", models.SubscriptionStatusPastDue).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", sub.UserID).
			Update("subscription_tier", models.FreeTierLabel).Error
	})
}

// CancelSubscription cancels a subscription and resets the owner's profile
// tier label to free inside one transaction.
func (r *gormRepository) CancelSubscription(subID uint, now time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.First(&sub, subID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Subscription{}).Where("id = ?", subID).Updates(map[string]interface{}{
			"status":      models.SubscriptionStatusCanceled,
			"canceled_at": now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", sub.UserID).
			Update("subscription_tier", models.FreeTierLabel).Error
	})
}

func (r *gormRepository) SumRefundedAmount(orderID uint) (float64, error) {
	var total float64
	err := r.db.Model(&models.Refund{}).
		Where("order_id = ? AND status = ?", orderID, models.RefundStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// RecordRefund persists the refund row, the new order status and the audit
// event as one unit of work. The remaining-amount check runs again under a
// row lock here: the service-level check happens before the gateway call and
// outside any transaction, so two concurrent refunds can both pass it. Only
// one of them may commit; the loser surfaces as a persistence failure and is
// flagged for reconciliation by the caller.
func (r *gormRepository) RecordRefund(refund *models.Refund, orderStatus string, event *models.PaymentEvent) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, refund.OrderID).Error; err != nil {
			return err
		}
		var prior float64
		if err := tx.Model(&models.Refund{}).
			Where("order_id = ? AND status = ?", refund.OrderID, models.RefundStatusSucceeded).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&prior).Error; err != nil {
			return err
		}
		if minorUnits(prior)+minorUnits(refund.Amount) > minorUnits(order.Amount) {
			return fmt.Errorf("%w: %.2f already refunded of %.2f",
				ErrRefundExceedsRemaining, prior, order.Amount)
		}
		if err := tx.Create(refund).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", refund.OrderID).
			Update("status", orderStatus).Error; err != nil {
			return err
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormRepository) AppendPaymentEvent(ev *models.PaymentEvent) error {
	return r.db.Create(ev).Error
}

// ClaimWebhook inserts the idempotency ledger row. The boolean is the claim:
// true means this process saw the delivery first; false means the tuple
// already exists and the event is a duplicate. The insert relies on the
// database unique constraint, not a check-then-insert, so two concurrently
// arriving duplicates cannot both win.
func (r *gormRepository) ClaimWebhook(rec *models.WebhookRecord) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway_order_id"},
			{Name: "event_type"},
			{Name: "idempotency_key"},
		},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, tx.Error
	}
	claimed := tx.RowsAffected > 0

	// Ensure ID is populated for duplicate replies too.
	var stored models.WebhookRecord
	if err := r.db.Where("gateway_order_id = ? AND event_type = ? AND idempotency_key = ?",
		rec.GatewayOrderID, rec.EventType, rec.IdempotencyKey).First(&stored).Error; err != nil {
		return false, err
	}
	*rec = stored
	return claimed, nil
}

func (r *gormRepository) GetWebhookRecord(id uint) (*models.WebhookRecord, error) {
	var rec models.WebhookRecord
	if err := r.db.First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) MarkWebhookRecord(id uint, status, errMsg string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"processed_at":  &now,
		"attempts":      gorm.Expr("attempts + 1"),
	}).Error
}

// ApplyTransition writes everything a state-machine decision requires in one
// transaction: the order status, the superseded trial, the subscription upsert
// keyed on (user_id, tier_id), the denormalized profile tier label and the
// audit events. The label must never drift from the subscription inside this
// unit of work.
func (r *gormRepository) ApplyTransition(t *Transition) error {
	if t.NoOp {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if t.OrderStatus != "" {
			// Status guard mirrors the state machine's forward-only rule at
			// the database level: a concurrently settled order is not
			// overwritten.
			if err := tx.Model(&models.Order{}).
				Where("id = ? AND status = ?", t.OrderID, models.OrderStatusPending).
				Update("status", t.OrderStatus).Error; err != nil {
				return err
			}
		}

		if t.CancelSubscriptionID != 0 {
			if err := tx.Model(&models.Subscription{}).Where("id = ?", t.CancelSubscriptionID).
				Updates(map[string]interface{}{
					"status":      models.SubscriptionStatusCanceled,
					"canceled_at": t.Now,
				}).Error; err != nil {
				return err
			}
		}

		if t.Subscription != nil {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "user_id"},
					{Name: "tier_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"status",
					"current_period_start",
					"current_period_end",
					"gateway_order_ref",
					"canceled_at",
					"cancel_at_period_end",
					"updated_at",
				}),
			}).Create(t.Subscription).Error; err != nil {
				return err
			}
			// Ensure ID is populated after upsert.
			if err := tx.Where("user_id = ? AND tier_id = ?", t.Subscription.UserID, t.Subscription.TierID).
				First(t.Subscription).Error; err != nil {
				return err
			}
		}

		if t.ProfileTierLabel != "" {
			if err := tx.Model(&models.User{}).Where("id = ?", t.UserID).
				Update("subscription_tier", t.ProfileTierLabel).Error; err != nil {
				return err
			}
		}

		for i := range t.Events {
			if err := tx.Create(&t.Events[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTierLabelDrift finds users whose profile label disagrees with their
// active subscription. Safety net for the write-path invariant; drift is
// repaired by the billing cron.
func (r *gormRepository) ListTierLabelDrift() ([]TierLabelDrift, error) {
	var drift []TierLabelDrift
	err := r.db.Raw(`
		SELECT u.id AS user_id,
		       u.subscription_tier AS current_label,
		       COALESCE(st.name, ?) AS expected_label
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id AND s.status = ?
		LEFT JOIN subscription_tiers st ON st.id = s.tier_id
		WHERE u.deleted_at IS NULL
		  AND u.subscription_tier <> COALESCE(st.name, ?)`,
		models.FreeTierLabel, models.SubscriptionStatusActive, models.FreeTierLabel,
	).Scan(&drift).Error
	return drift, err
}

func (r *gormRepository) SetUserTierLabel(userID uint, label string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("subscription_tier", label).Error
}
