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

func TestResolver_ExactCustomerMatch(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(models.Account{Email: "a@x.com"})
	linked := repo.seed(models.Account{Email: "a@x.com", StripeCustomerID: strPtr("cus_1")})
	repo.seed(models.Account{Email: "a@x.com"})

	res, err := NewResolver(repo).Resolve(context.Background(), "cus_1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, linked, res.Account.ID)
	assert.Equal(t, MatchCustomerID, res.Match)
	assert.False(t, res.Provisional)
}

func TestResolver_EmailFallbackPicksMostRecent(t *testing.T) {
	repo := newFakeRepo()
	base := testNow.Add(-48 * time.Hour)
	repo.seed(models.Account{Email: "a@x.com", CreatedAt: base})
	newest := repo.seed(models.Account{Email: "a@x.com", CreatedAt: base.Add(2 * time.Hour)})
	repo.seed(models.Account{Email: "a@x.com", CreatedAt: base.Add(time.Hour)})

	res, err := NewResolver(repo).Resolve(context.Background(), "cus_new", " A@X.com ")
	require.NoError(t, err)
	assert.Equal(t, newest, res.Account.ID)
	assert.Equal(t, MatchEmail, res.Match)
	assert.True(t, res.Provisional)
}

func TestResolver_EmailFallbackTieBreaksOnID(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(models.Account{Email: "a@x.com", CreatedAt: testNow})
	second := repo.seed(models.Account{Email: "a@x.com", CreatedAt: testNow})

	res, err := NewResolver(repo).Resolve(context.Background(), "cus_1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, second, res.Account.ID)
}

func TestResolver_SkipsAccountsOfOtherCustomers(t *testing.T) {
	repo := newFakeRepo()
	base := testNow.Add(-48 * time.Hour)
	older := repo.seed(models.Account{Email: "a@x.com", CreatedAt: base})
	repo.seed(models.Account{Email: "a@x.com", CreatedAt: base.Add(time.Hour), StripeCustomerID: strPtr("cus_other")})

	res, err := NewResolver(repo).Resolve(context.Background(), "cus_1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, older, res.Account.ID)

	repo2 := newFakeRepo()
	repo2.seed(models.Account{Email: "a@x.com", StripeCustomerID: strPtr("cus_other")})
	_, err = NewResolver(repo2).Resolve(context.Background(), "cus_1", "a@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestResolver_NotFound(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(models.Account{Email: "someone@else.com"})

	_, err := NewResolver(repo).Resolve(context.Background(), "cus_1", "a@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = NewResolver(repo).Resolve(context.Background(), "cus_1", "")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = NewResolver(repo).Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestResolver_StorageErrorPropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.findErr = errors.New("connection reset")

	_, err := NewResolver(repo).Resolve(context.Background(), "cus_1", "a@x.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, err, repo.findErr)
}
