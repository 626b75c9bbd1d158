package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// ProductRepository reads catalog rows and applies stock decrements.
type ProductRepository interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	DecrementInventory(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	WithTx(tx *gorm.DB) ProductRepository
}

// GormProductRepository implements ProductRepository using GORM.
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) ProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) WithTx(tx *gorm.DB) ProductRepository {
	return &GormProductRepository{db: tx}
}

// FindByIDs loads every product in ids. Missing ids are simply absent from
// the result.
func (r *GormProductRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error
	return products, err
}

// DecrementInventory atomically removes qty units when at least qty are in
// stock and the product is still sellable. It returns false when the
// condition did not hold and nothing changed.
func (r *GormProductRepository) DecrementInventory(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND inventory_quantity >= ? AND is_active = ? AND is_deleted = ?", id, qty, true, false).
		UpdateColumn("inventory_quantity", gorm.Expr("inventory_quantity - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
