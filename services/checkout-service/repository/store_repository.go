package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// SubscriptionChange is the set of columns written when a plan payment lands.
type SubscriptionChange struct {
	Plan         string
	StartDate    time.Time
	ExpiryDate   time.Time
	ProductLimit int
	Reference    string
	Amount       decimal.Decimal
}

// StoreRepository reads and updates store subscription state.
type StoreRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	FindByPaymentReference(ctx context.Context, reference string) (*models.Store, error)
	ApplySubscription(ctx context.Context, id uuid.UUID, change SubscriptionChange) (bool, error)
	RecordPayment(ctx context.Context, payment *models.SubscriptionPayment) error
	FindPayment(ctx context.Context, reference string) (*models.SubscriptionPayment, error)
	WithTx(tx *gorm.DB) StoreRepository
}

// GormStoreRepository implements StoreRepository using GORM.
type GormStoreRepository struct {
	db *gorm.DB
}

func NewGormStoreRepository(db *gorm.DB) StoreRepository {
	return &GormStoreRepository{db: db}
}

func (r *GormStoreRepository) WithTx(tx *gorm.DB) StoreRepository {
	return &GormStoreRepository{db: tx}
}

func (r *GormStoreRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).First(&store, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// FindByPaymentReference returns the store stamped with reference, or nil.
func (r *GormStoreRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.Store, error) {
	var store models.Store
	err := r.db.WithContext(ctx).Where("last_payment_reference = ?", reference).First(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// ApplySubscription writes change unless the store already carries
// change.Reference. It returns false when no row was updated, either because
// the reference was applied before or because the store does not exist.
func (r *GormStoreRepository) ApplySubscription(ctx context.Context, id uuid.UUID, change SubscriptionChange) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ? AND (last_payment_reference IS NULL OR last_payment_reference <> ?)", id, change.Reference).
		Updates(map[string]any{
			"subscription_plan":        change.Plan,
			"subscription_status":      models.SubscriptionStatusActive,
			"subscription_start_date":  change.StartDate,
			"subscription_expiry_date": change.ExpiryDate,
			"product_limit":            change.ProductLimit,
			"last_payment_reference":   change.Reference,
			"last_payment_amount":      change.Amount,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordPayment inserts the applied-payment row. A reference applied before
// fails on the unique index; check it with IsDuplicateKey.
func (r *GormStoreRepository) RecordPayment(ctx context.Context, payment *models.SubscriptionPayment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

// FindPayment returns the applied payment for reference, or nil.
func (r *GormStoreRepository) FindPayment(ctx context.Context, reference string) (*models.SubscriptionPayment, error) {
	var payment models.SubscriptionPayment
	err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
