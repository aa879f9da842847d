package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time { return &t }

func fullSnapshot(start, end time.Time, amount int64) Snapshot {
	return Snapshot{
		Fields:         FieldStatus | FieldPeriodStart | FieldPeriodEnd | FieldSubscriptionID | FieldPricing | FieldAutoRenew,
		Status:         StatusActive,
		PeriodStart:    start,
		PeriodEnd:      end,
		SubscriptionID: "sub_1",
		PriceID:        "price_1",
		ProductID:      "prod_1",
		BaseAmount:     amount,
		ActualAmount:   amount,
		Currency:       "EUR",
		Interval:       "month",
		AutoRenew:      true,
		CustomerID:     "cus_1",
	}
}

func TestWriter_AppliesMaskedFields(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(models.Account{Email: "a@x.com", StripeCustomerID: strPtr("cus_1")})
	w := NewWriter(repo, testClock)
	eventAt := testNow.Add(-time.Minute)

	acc, _ := repo.FindAccountByID(context.Background(), id)
	res, err := w.Apply(context.Background(), acc, fullSnapshot(testNow, testNow.AddDate(0, 1, 0), 5000), eventAt)
	require.NoError(t, err)
	assert.Equal(t, WriteApplied, res.Status)

	got := repo.get(id)
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Equal(t, int64(5000), got.PriceAmount)
	assert.Equal(t, "month", got.BillingInterval)
	assert.Equal(t, uint(2), got.Version)
	require.NotNil(t, got.LastEventAppliedAt)
	assert.True(t, got.LastEventAppliedAt.Equal(eventAt))

	// A cancellation carries no pricing and must not clobber it.
	cancelAt := testNow
	acc, _ = repo.FindAccountByID(context.Background(), id)
	_, err = w.Apply(context.Background(), acc, Snapshot{
		Fields:      FieldStatus | FieldPeriodEnd | FieldCancelledAt | FieldAutoRenew,
		Status:      StatusCancelled,
		PeriodEnd:   cancelAt,
		CancelledAt: cancelAt,
	}, cancelAt)
	require.NoError(t, err)

	got = repo.get(id)
	assert.Equal(t, models.SubscriptionStatusCancelled, got.SubscriptionStatus)
	assert.Equal(t, int64(5000), got.PriceAmount)
	assert.Equal(t, "price_1", got.PriceID)
	assert.True(t, got.SubscriptionStart.Equal(testNow))
	assert.True(t, got.SubscriptionEnd.Equal(cancelAt))
	assert.False(t, got.AutoRenew)
}

func TestWriter_StaleGuard(t *testing.T) {
	repo := newFakeRepo()
	last := testNow.Add(-time.Hour)
	id := repo.seed(models.Account{
		Email:              "a@x.com",
		StripeCustomerID:   strPtr("cus_1"),
		SubscriptionStatus: models.SubscriptionStatusCancelled,
		LastEventAppliedAt: timePtr(last),
	})
	w := NewWriter(repo, testClock)

	acc, _ := repo.FindAccountByID(context.Background(), id)
	res, err := w.Apply(context.Background(), acc, fullSnapshot(testNow, testNow.AddDate(0, 1, 0), 5000), last.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, WriteSkippedStale, res.Status)
	assert.Equal(t, 0, repo.updates)
	assert.Equal(t, models.SubscriptionStatusCancelled, repo.get(id).SubscriptionStatus)

	// Equal timestamps re-apply.
	res, err = w.Apply(context.Background(), acc, fullSnapshot(testNow, testNow.AddDate(0, 1, 0), 5000), last)
	require.NoError(t, err)
	assert.Equal(t, WriteApplied, res.Status)
	assert.Equal(t, models.SubscriptionStatusActive, repo.get(id).SubscriptionStatus)
}

func TestWriter_ProvisionalKeepsFutureWindow(t *testing.T) {
	repo := newFakeRepo()
	start := testNow.Add(-24 * time.Hour)
	end := testNow.Add(90 * 24 * time.Hour)
	last := testNow.Add(-time.Hour)
	id := repo.seed(models.Account{
		Email:              "a@x.com",
		SubscriptionStatus: models.SubscriptionStatusExpired,
		SubscriptionStart:  timePtr(start),
		SubscriptionEnd:    timePtr(end),
		LastEventAppliedAt: timePtr(last),
	})
	w := NewWriter(repo, testClock)
	snap := NewExtractor(StatusExpired, testClock).ProvisionalCheckout("cus_1")

	acc, _ := repo.FindAccountByID(context.Background(), id)
	_, err := w.Apply(context.Background(), acc, snap, testNow)
	require.NoError(t, err)

	got := repo.get(id)
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.True(t, got.SubscriptionStart.Equal(start))
	assert.True(t, got.SubscriptionEnd.Equal(end))
	assert.Equal(t, "cus_1", got.CustomerID())
	assert.True(t, got.LastEventAppliedAt.Equal(last), "provisional writes must not advance the guard")
}

func TestWriter_ProvisionalReplacesLapsedWindow(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(models.Account{
		Email:             "a@x.com",
		StripeCustomerID:  strPtr("cus_old"),
		SubscriptionStart: timePtr(testNow.AddDate(0, -2, 0)),
		SubscriptionEnd:   timePtr(testNow.AddDate(0, -1, 0)),
	})
	w := NewWriter(repo, testClock)
	snap := NewExtractor(StatusExpired, testClock).ProvisionalCheckout("cus_1")

	acc, _ := repo.FindAccountByID(context.Background(), id)
	_, err := w.Apply(context.Background(), acc, snap, testNow)
	require.NoError(t, err)

	got := repo.get(id)
	assert.True(t, got.SubscriptionEnd.Equal(testNow.Add(ProvisionalPeriod)))
	assert.Equal(t, "cus_old", got.CustomerID(), "an existing link is never replaced")
	assert.Nil(t, got.LastEventAppliedAt)
}

func TestWriter_RetriesOnConcurrentWrite(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(models.Account{Email: "a@x.com", StripeCustomerID: strPtr("cus_1")})
	w := NewWriter(repo, testClock)

	raced := false
	repo.beforeUpdate = func(r *fakeRepo, id uint) {
		if raced {
			return
		}
		raced = true
		r.mu.Lock()
		r.accounts[id].Version++
		r.mu.Unlock()
	}

	acc, _ := repo.FindAccountByID(context.Background(), id)
	res, err := w.Apply(context.Background(), acc, fullSnapshot(testNow, testNow.AddDate(0, 1, 0), 5000), testNow)
	require.NoError(t, err)
	assert.Equal(t, WriteApplied, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, uint(3), repo.get(id).Version)
}

func TestWriter_RecheckGuardAfterConflict(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(models.Account{Email: "a@x.com", StripeCustomerID: strPtr("cus_1")})
	w := NewWriter(repo, testClock)

	newer := testNow.Add(time.Hour)
	repo.beforeUpdate = func(r *fakeRepo, id uint) {
		r.mu.Lock()
		defer r.mu.Unlock()
		a := r.accounts[id]
		if a.LastEventAppliedAt == nil {
			a.Version++
			a.LastEventAppliedAt = &newer
		}
	}

	acc, _ := repo.FindAccountByID(context.Background(), id)
	res, err := w.Apply(context.Background(), acc, fullSnapshot(testNow, testNow.AddDate(0, 1, 0), 5000), testNow)
	require.NoError(t, err)
	assert.Equal(t, WriteSkippedStale, res.Status)
}

func TestWriter_ConflictExhausted(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(models.Account{Email: "a@x.com"})
	w := NewWriter(repo, testClock)
	repo.beforeUpdate = func(r *fakeRepo, id uint) {
		r.mu.Lock()
		r.accounts[id].Version++
		r.mu.Unlock()
	}

	acc, _ := repo.FindAccountByID(context.Background(), id)
	res, err := w.Apply(context.Background(), acc, fullSnapshot(testNow, testNow.AddDate(0, 1, 0), 5000), testNow)
	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.Equal(t, defaultWriteAttempts, res.Attempts)
	assert.Equal(t, ClassRetryable, Classify(Outcome{}, err))
}

func TestWriter_StorageError(t *testing.T) {
	repo := newFakeRepo()
	id := repo.seed(models.Account{Email: "a@x.com"})
	repo.updateErr = errors.New("db down")

	acc, _ := repo.FindAccountByID(context.Background(), id)
	_, err := NewWriter(repo, testClock).Apply(context.Background(), acc, fullSnapshot(testNow, testNow, 1), testNow)
	assert.ErrorIs(t, err, repo.updateErr)
}

func TestWriter_CreateFromCheckout(t *testing.T) {
	repo := newFakeRepo()
	w := NewWriter(repo, testClock)
	snap := NewExtractor(StatusExpired, testClock).ProvisionalCheckout("cus_1")

	res, err := w.CreateFromCheckout(context.Background(), "A@x.com", snap, testNow)
	require.NoError(t, err)
	assert.Equal(t, WriteCreated, res.Status)

	got := repo.get(res.AccountID)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "cus_1", got.CustomerID())
	assert.Equal(t, models.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.True(t, got.SubscriptionEnd.Equal(testNow.Add(ProvisionalPeriod)))
	assert.Nil(t, got.LastEventAppliedAt)
	assert.Equal(t, "unknown", got.BillingInterval)
}

func TestWriter_CreateCollisionFallsBackToUpdate(t *testing.T) {
	repo := newFakeRepo()
	existing := repo.seed(models.Account{Email: "b@x.com", StripeCustomerID: strPtr("cus_1")})
	w := NewWriter(repo, testClock)
	snap := NewExtractor(StatusExpired, testClock).ProvisionalCheckout("cus_1")

	res, err := w.CreateFromCheckout(context.Background(), "a@x.com", snap, testNow)
	require.NoError(t, err)
	assert.Equal(t, WriteApplied, res.Status)
	assert.Equal(t, existing, res.AccountID)
	assert.Len(t, repo.all(), 1)
	assert.Equal(t, models.SubscriptionStatusActive, repo.get(existing).SubscriptionStatus)
}
