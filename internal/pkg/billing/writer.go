package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
	"gorm.io/gorm"
)

const defaultWriteAttempts = 3

// WriteStatus is the result of a single Writer call.
type WriteStatus string

const (
	WriteApplied      WriteStatus = "applied"
	WriteCreated      WriteStatus = "created"
	WriteSkippedStale WriteStatus = "skipped_stale"
)

type WriteResult struct {
	Status    WriteStatus
	AccountID uint
	Attempts  int
}

// Writer applies snapshots to exactly one account with a version-checked
// update. Events older than the last one applied are skipped.
type Writer struct {
	repo        Repository
	now         func() time.Time
	maxAttempts int
}

func NewWriter(repo Repository, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{repo: repo, now: now, maxAttempts: defaultWriteAttempts}
}

// Apply writes the fields carried by snap onto account. On a concurrent
// modification the account is re-read and the staleness check repeated.
func (w *Writer) Apply(ctx context.Context, account *models.Account, snap Snapshot, eventAt time.Time) (WriteResult, error) {
	if account == nil {
		return WriteResult{}, ErrAccountNotFound
	}
	eventAt = eventAt.UTC()
	current := account

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if isStale(current, eventAt) {
			return WriteResult{Status: WriteSkippedStale, AccountID: current.ID, Attempts: attempt}, nil
		}

		updates := w.updates(current, snap, eventAt)
		err := w.repo.UpdateAccountIfVersion(ctx, current.ID, current.Version, updates)
		if err == nil {
			return WriteResult{Status: WriteApplied, AccountID: current.ID, Attempts: attempt}, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return WriteResult{AccountID: current.ID, Attempts: attempt}, fmt.Errorf("update account %d: %w", current.ID, err)
		}

		current, err = w.repo.FindAccountByID(ctx, account.ID)
		if err != nil {
			return WriteResult{AccountID: account.ID, Attempts: attempt}, fmt.Errorf("reload account %d: %w", account.ID, err)
		}
	}
	return WriteResult{AccountID: account.ID, Attempts: w.maxAttempts}, ErrWriteConflict
}

// CreateFromCheckout creates the account for a first-time payer. If another
// delivery created it first the snapshot is applied to that account instead.
func (w *Writer) CreateFromCheckout(ctx context.Context, email string, snap Snapshot, eventAt time.Time) (WriteResult, error) {
	eventAt = eventAt.UTC()
	account := &models.Account{
		Email:              normalizeEmail(email),
		SubscriptionStatus: string(StatusFree),
		BillingInterval:    "unknown",
		Version:            1,
	}
	w.fill(account, snap, eventAt)

	err := w.repo.CreateAccount(ctx, account)
	if err == nil {
		return WriteResult{Status: WriteCreated, AccountID: account.ID, Attempts: 1}, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) || snap.CustomerID == "" {
		return WriteResult{}, fmt.Errorf("create account: %w", err)
	}

	existing, ferr := w.repo.FindAccountByCustomerID(ctx, snap.CustomerID)
	if ferr != nil {
		return WriteResult{}, fmt.Errorf("reload account after create conflict: %w", ferr)
	}
	return w.Apply(ctx, existing, snap, eventAt)
}

func isStale(account *models.Account, eventAt time.Time) bool {
	return account.LastEventAppliedAt != nil && eventAt.Before(*account.LastEventAppliedAt)
}

// keepsWindow reports whether a provisional write must leave the current
// window alone because it still runs into the future.
func (w *Writer) keepsWindow(account *models.Account, snap Snapshot) bool {
	return snap.Provisional && account.SubscriptionEnd != nil && account.SubscriptionEnd.After(w.now())
}

func (w *Writer) updates(account *models.Account, snap Snapshot, eventAt time.Time) map[string]interface{} {
	u := map[string]interface{}{
		"version":    account.Version + 1,
		"updated_at": w.now().UTC(),
	}
	if snap.Fields.Has(FieldStatus) {
		u["subscription_status"] = string(snap.Status)
	}
	if !w.keepsWindow(account, snap) {
		if snap.Fields.Has(FieldPeriodStart) {
			u["subscription_start"] = snap.PeriodStart
		}
		if snap.Fields.Has(FieldPeriodEnd) {
			u["subscription_end"] = snap.PeriodEnd
		}
	}
	if snap.Fields.Has(FieldSubscriptionID) {
		u["stripe_subscription_id"] = snap.SubscriptionID
	}
	if snap.Fields.Has(FieldPricing) {
		u["price_id"] = snap.PriceID
		u["product_id"] = snap.ProductID
		u["price_amount"] = snap.BaseAmount
		u["actual_amount"] = snap.ActualAmount
		u["currency"] = snap.Currency
		u["billing_interval"] = snap.Interval
		u["discount_percent"] = snap.DiscountPct
		u["discount_name"] = snap.DiscountName
	}
	if snap.Fields.Has(FieldAutoRenew) {
		u["auto_renew"] = snap.AutoRenew
	}
	if snap.Fields.Has(FieldCancelledAt) {
		u["cancelled_at"] = snap.CancelledAt
	}
	if snap.CustomerID != "" && account.CustomerID() == "" {
		u["stripe_customer_id"] = snap.CustomerID
	}
	// A provisional unlock must not hide the authoritative event that follows.
	if !snap.Provisional {
		u["last_event_applied_at"] = eventAt
	}
	return u
}

// fill copies snap onto a not yet persisted account.
func (w *Writer) fill(account *models.Account, snap Snapshot, eventAt time.Time) {
	if snap.Fields.Has(FieldStatus) {
		account.SubscriptionStatus = string(snap.Status)
	}
	if snap.Fields.Has(FieldPeriodStart) {
		start := snap.PeriodStart
		account.SubscriptionStart = &start
	}
	if snap.Fields.Has(FieldPeriodEnd) {
		end := snap.PeriodEnd
		account.SubscriptionEnd = &end
	}
	if snap.Fields.Has(FieldSubscriptionID) {
		id := snap.SubscriptionID
		account.StripeSubscriptionID = &id
	}
	if snap.Fields.Has(FieldPricing) {
		account.PriceID = snap.PriceID
		account.ProductID = snap.ProductID
		account.PriceAmount = snap.BaseAmount
		account.ActualAmount = snap.ActualAmount
		account.Currency = snap.Currency
		account.BillingInterval = snap.Interval
		account.DiscountPercent = snap.DiscountPct
		account.DiscountName = snap.DiscountName
	}
	if snap.Fields.Has(FieldAutoRenew) {
		account.AutoRenew = snap.AutoRenew
	}
	if snap.Fields.Has(FieldCancelledAt) {
		at := snap.CancelledAt
		account.CancelledAt = &at
	}
	if snap.CustomerID != "" {
		id := snap.CustomerID
		account.StripeCustomerID = &id
	}
	if !snap.Provisional {
		at := eventAt
		account.LastEventAppliedAt = &at
	}
}
