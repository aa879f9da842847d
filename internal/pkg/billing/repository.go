package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing engine.
type Repository interface {
	FindAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	FindAccountByID(ctx context.Context, id uint) (*models.Account, error)
	ListAccountsByEmail(ctx context.Context, email string) ([]models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	// UpdateAccountIfVersion applies updates only when the stored version
	// still equals version, and returns ErrStaleWrite otherwise.
	UpdateAccountIfVersion(ctx context.Context, id, version uint, updates map[string]interface{}) error
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	FindWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) FindAccountByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) ListAccountsByEmail(ctx context.Context, email string) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&accounts).Error
	return accounts, err
}

func (r *gormRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	account.Email = normalizeEmail(account.Email)
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *gormRepository) UpdateAccountIfVersion(ctx context.Context, id, version uint, updates map[string]interface{}) error {
	tx := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.FindWebhookEvent(ctx, event.Provider, event.ProviderEventID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *gormRepository) FindWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.BillingWebhookEvent, error) {
	var stored models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
