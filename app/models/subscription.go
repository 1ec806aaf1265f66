package models

import "time"

const (
	SubscriptionStatusPending  = "PENDING"
	SubscriptionStatusTrialing = "TRIALING"
	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusCanceled = "CANCELED"
	SubscriptionStatusPastDue  = "PAST_DUE"
)

// Subscription is a user's entitlement to a tier, trial or paid. At most one
// row exists per (user, tier); the row is updated in place on every state
// transition and never physically deleted. At most one ACTIVE and one TRIALING
// subscription may exist per user at any time.
type Subscription struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	UserID             uint             `gorm:"not null;index:ux_subscriptions_user_tier,unique,priority:1" json:"user_id"`
	TierID             uint             `gorm:"not null;index:ux_subscriptions_user_tier,unique,priority:2" json:"tier_id"`
	Tier               SubscriptionTier `gorm:"foreignKey:TierID" json:"-"`
	Status             string           `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	TrialStart         *time.Time       `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd           *time.Time       `gorm:"type:timestamp;default:null;index" json:"trial_end,omitempty"`
	CurrentPeriodStart *time.Time       `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time       `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	GatewayOrderRef    string           `gorm:"type:varchar(191)" json:"gateway_order_ref"`
	GatewayToken       string           `gorm:"type:varchar(191)" json:"-"`
	AutoRenew          bool             `gorm:"default:true" json:"auto_renew"`
	RenewalAttempts    int              `gorm:"default:0" json:"renewal_attempts"`
	CancelAtPeriodEnd  bool             `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time       `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// TrialExpired reports whether the trial window has elapsed at the given time.
// Subscriptions without a trial window never expire this way.
func (s *Subscription) TrialExpired(now time.Time) bool {
	return s.TrialEnd != nil && !s.TrialEnd.After(now)
}
