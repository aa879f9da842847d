package models

import "time"

// Subscription status values stored on an Account.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusFree      = "free"
)

// Account is the local profile whose paid-access state is kept in sync with
// the payment processor. Email is not unique: several profiles may share one
// address, but at most one of them carries a given StripeCustomerID.
type Account struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Email                string     `gorm:"type:varchar(200);not null;index" json:"email"`
	StripeCustomerID     *string    `gorm:"type:varchar(191);uniqueIndex" json:"stripe_customer_id,omitempty"`
	SubscriptionStatus   string     `gorm:"type:varchar(20);not null;default:'free';index" json:"subscription_status"`
	SubscriptionStart    *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start,omitempty"`
	SubscriptionEnd      *time.Time `gorm:"type:timestamp;default:null" json:"subscription_end,omitempty"`
	StripeSubscriptionID *string    `gorm:"type:varchar(191);index" json:"stripe_subscription_id,omitempty"`
	PriceID              string     `gorm:"type:varchar(191);default:''" json:"price_id"`
	ProductID            string     `gorm:"type:varchar(191);default:''" json:"product_id"`
	PriceAmount          int64      `gorm:"default:0" json:"price_amount"`
	ActualAmount         int64      `gorm:"default:0" json:"actual_amount"`
	Currency             string     `gorm:"type:varchar(8);default:''" json:"currency"`
	BillingInterval      string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	DiscountPercent      float64    `gorm:"default:0" json:"discount_percent"`
	DiscountName         string     `gorm:"type:varchar(191);default:''" json:"discount_name"`
	AutoRenew            bool       `gorm:"default:false" json:"auto_renew"`
	CancelledAt          *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	LastEventAppliedAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_event_applied_at,omitempty"`
	Version              uint       `gorm:"not null;default:1" json:"-"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPaidAccess reports whether the account is entitled at the given time.
func (a *Account) HasPaidAccess(at time.Time) bool {
	if a == nil || a.SubscriptionStatus != SubscriptionStatusActive {
		return false
	}
	return a.SubscriptionEnd == nil || a.SubscriptionEnd.After(at)
}

// CustomerID returns the linked processor customer id or "".
func (a *Account) CustomerID() string {
	if a == nil || a.StripeCustomerID == nil {
		return ""
	}
	return *a.StripeCustomerID
}
