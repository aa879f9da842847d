package billing

import (
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
)

// ProvisionalPeriod is the window granted before authoritative period data
// arrives, and the fallback length when period fields are unusable.
const ProvisionalPeriod = 30 * 24 * time.Hour

// Status is the normalized subscription status of an account.
type Status string

const (
	StatusActive    Status = models.SubscriptionStatusActive
	StatusCancelled Status = models.SubscriptionStatusCancelled
	StatusExpired   Status = models.SubscriptionStatusExpired
	StatusFree      Status = models.SubscriptionStatusFree
)

// Field names the parts of a Snapshot an event actually carries.
type Field uint16

const (
	FieldStatus Field = 1 << iota
	FieldPeriodStart
	FieldPeriodEnd
	FieldSubscriptionID
	FieldPricing
	FieldAutoRenew
	FieldCancelledAt
)

// Has reports whether every bit of f2 is set on f.
func (f Field) Has(f2 Field) bool { return f&f2 == f2 }

// Snapshot is the normalized, event-derived view of subscription facts.
// It is computed fresh from each event and never merged with a prior one.
type Snapshot struct {
	Fields Field

	Status         Status
	PeriodStart    time.Time
	PeriodEnd      time.Time
	SubscriptionID string
	PriceID        string
	ProductID      string
	BaseAmount     int64
	ActualAmount   int64
	Currency       string
	Interval       string
	DiscountPct    float64
	DiscountName   string
	AutoRenew      bool
	CancelledAt    time.Time

	// CustomerID is linked onto the target account when it has none yet.
	CustomerID string
	// Provisional marks the optimistic checkout unlock that a later
	// authoritative subscription event corrects.
	Provisional bool
}

// Action describes what processing did with an event.
type Action string

const (
	ActionApplied      Action = "applied"
	ActionCreated      Action = "created"
	ActionSkippedStale Action = "skipped_stale"
	ActionIgnored      Action = "ignored"
	ActionUnresolved   Action = "unresolved"
	ActionDuplicate    Action = "duplicate"
)

// Outcome is the result of routing one event.
type Outcome struct {
	Action     Action
	Flow       Flow
	AccountID  uint
	CustomerID string
	Reason     string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
