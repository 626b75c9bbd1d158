package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// OrderRepository persists SubOrders and MainOrders.
type OrderRepository interface {
	FindByReference(ctx context.Context, reference string) (*models.ExistingOrder, error)
	CountSubOrdersByReference(ctx context.Context, reference string) (int64, error)
	CreateSubOrders(ctx context.Context, subOrders []models.SubOrder) error
	CreateMainOrder(ctx context.Context, order *models.MainOrder) error
	WithTx(tx *gorm.DB) OrderRepository
}

// GormOrderRepository implements OrderRepository using GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: tx}
}

// FindByReference returns the MainOrder and SubOrders created for reference,
// or nil when the reference has not produced an order.
func (r *GormOrderRepository) FindByReference(ctx context.Context, reference string) (*models.ExistingOrder, error) {
	var main models.MainOrder
	err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&main).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var subs []models.SubOrder
	if err := r.db.WithContext(ctx).
		Where("payment_reference = ?", reference).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return &models.ExistingOrder{Main: main, SubOrders: subs}, nil
}

func (r *GormOrderRepository) CountSubOrdersByReference(ctx context.Context, reference string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.SubOrder{}).Where("payment_reference = ?", reference).Count(&n).Error
	return n, err
}

func (r *GormOrderRepository) CreateSubOrders(ctx context.Context, subOrders []models.SubOrder) error {
	if len(subOrders) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&subOrders).Error
}

func (r *GormOrderRepository) CreateMainOrder(ctx context.Context, order *models.MainOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}
