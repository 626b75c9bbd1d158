package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	OrderStatusProcessing = "processing"
	PaymentStatusPaid     = "paid"
)

// OrderItem is the price-at-purchase snapshot stored on a SubOrder.
type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

// SubOrder is one store's share of a checkout. A payment reference produces
// at most one SubOrder per store.
type SubOrder struct {
	ID               uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	MainOrderID      uuid.UUID                      `gorm:"type:uuid;not null;index" json:"main_order_id"`
	StoreID          uuid.UUID                      `gorm:"type:uuid;not null;uniqueIndex:idx_sub_orders_reference_store,priority:2" json:"store_id"`
	UserID           string                         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PaymentReference string                         `gorm:"type:varchar(128);not null;uniqueIndex:idx_sub_orders_reference_store,priority:1" json:"payment_reference"`
	Items            datatypes.JSONSlice[OrderItem] `json:"items"`
	Subtotal         decimal.Decimal                `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Status           string                         `gorm:"type:varchar(32);not null" json:"status"`
	PaymentStatus    string                         `gorm:"type:varchar(32);not null" json:"payment_status"`
	PaymentMethod    string                         `gorm:"type:varchar(32)" json:"payment_method"`
	PaymentDetails   datatypes.JSONMap              `json:"payment_details"`
	CreatedAt        time.Time                      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}

// MainOrder is the buyer-facing aggregate of every SubOrder created from one
// payment reference.
type MainOrder struct {
	ID               uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber      string                         `gorm:"type:varchar(40);not null;uniqueIndex" json:"order_number"`
	UserID           string                         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PaymentReference string                         `gorm:"type:varchar(128);not null;uniqueIndex" json:"payment_reference"`
	SubOrderIDs      datatypes.JSONSlice[uuid.UUID] `json:"sub_order_ids"`
	Subtotal         decimal.Decimal                `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	DeliveryFee      decimal.Decimal                `gorm:"type:numeric(12,2);not null" json:"delivery_fee"`
	GrandTotal       decimal.Decimal                `gorm:"type:numeric(12,2);not null" json:"grand_total"`
	AmountPaid       decimal.Decimal                `gorm:"type:numeric(12,2);not null" json:"amount_paid"`
	Currency         string                         `gorm:"type:varchar(8)" json:"currency"`
	ShippingInfo     datatypes.JSONMap              `json:"shipping_info"`
	PaymentMethod    string                         `gorm:"type:varchar(32)" json:"payment_method"`
	PaymentStatus    string                         `gorm:"type:varchar(32);not null" json:"payment_status"`
	Status           string                         `gorm:"type:varchar(32);not null" json:"status"`
	CreatedAt        time.Time                      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}
