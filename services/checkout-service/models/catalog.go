package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog row consulted during checkout. Checkout only ever
// reads it and decrements InventoryQuantity.
type Product struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"store_id"`
	Name              string          `gorm:"type:varchar(255);not null" json:"name"`
	Price             decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	InventoryQuantity int             `gorm:"not null;default:0" json:"inventory_quantity"`
	IsActive          bool            `gorm:"not null;default:true" json:"is_active"`
	IsDeleted         bool            `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Available reports whether the product can be sold at all.
func (p *Product) Available() bool {
	return p.IsActive && !p.IsDeleted
}

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
)

// Store holds a seller's subscription state. LastPaymentReference is the
// most recent payment applied to the store; SubscriptionPayment holds
// every applied reference.
type Store struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID                string          `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Name                   string          `gorm:"type:varchar(255);not null" json:"name"`
	SubscriptionPlan       string          `gorm:"type:varchar(32);not null;default:'free'" json:"subscription_plan"`
	SubscriptionStatus     string          `gorm:"type:varchar(32);not null;default:'inactive'" json:"subscription_status"`
	SubscriptionStartDate  *time.Time      `json:"subscription_start_date,omitempty"`
	SubscriptionExpiryDate *time.Time      `json:"subscription_expiry_date,omitempty"`
	LastPaymentReference   *string         `gorm:"type:varchar(128);uniqueIndex" json:"last_payment_reference,omitempty"`
	LastPaymentAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"last_payment_amount"`
	ProductLimit           int             `gorm:"not null;default:10" json:"product_limit"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SubscriptionPayment records every plan payment applied to a store. The
// unique PaymentReference is what keeps a reference from being applied twice,
// even after later payments moved LastPaymentReference on.
type SubscriptionPayment struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"store_id"`
	PaymentReference string          `gorm:"type:varchar(128);not null;uniqueIndex" json:"payment_reference"`
	Plan             string          `gorm:"type:varchar(32);not null" json:"plan"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	ExpiryDate       time.Time       `gorm:"not null" json:"expiry_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
