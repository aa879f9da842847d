package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/memberhub/app/models"
	"gorm.io/gorm"
)

// MatchKind says how an account was resolved.
type MatchKind string

const (
	MatchCustomerID MatchKind = "customer_id"
	MatchEmail      MatchKind = "email"
)

// Resolution is the single account selected for an event.
type Resolution struct {
	Account *models.Account
	Match   MatchKind
	// Provisional is set for email matches; the account is not yet proven to
	// belong to the paying customer.
	Provisional bool
}

// Resolver maps an external customer to exactly one local account.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the account linked to customerID, or failing that the most
// recently created account with the given email that is not linked to some
// other customer. ErrAccountNotFound is returned when neither exists.
func (r *Resolver) Resolve(ctx context.Context, customerID, email string) (*Resolution, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID != "" {
		account, err := r.repo.FindAccountByCustomerID(ctx, customerID)
		if err == nil {
			return &Resolution{Account: account, Match: MatchCustomerID}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup account by customer: %w", err)
		}
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrAccountNotFound
	}

	accounts, err := r.repo.ListAccountsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup accounts by email: %w", err)
	}
	for i := range accounts {
		linked := accounts[i].CustomerID()
		if linked != "" && linked != customerID {
			continue
		}
		return &Resolution{Account: &accounts[i], Match: MatchEmail, Provisional: true}, nil
	}
	return nil, ErrAccountNotFound
}
