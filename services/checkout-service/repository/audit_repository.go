package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// AuditRepository appends audit rows. Rows are never updated.
type AuditRepository interface {
	CreateBatch(ctx context.Context, entries []models.AuditLog) error
}

type GormAuditRepository struct {
	db *gorm.DB
}

func NewGormAuditRepository(db *gorm.DB) AuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) CreateBatch(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, 100).Error
}
