package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentKind is the discriminator used in responses and audit metadata.
type IntentKind string

const (
	IntentSubscription IntentKind = "subscription"
	IntentOrder        IntentKind = "order"
)

// Intent is the resolved purpose of a payment. The unexported method closes
// the set of implementations to SubscriptionIntent and OrderIntent.
type Intent interface {
	Kind() IntentKind
	sealedIntent()
}

// SubscriptionIntent renews a store's plan.
type SubscriptionIntent struct {
	StoreID uuid.UUID `validate:"required"`
	Plan    string    `validate:"required,oneof=free basic standard premium"`
}

func (SubscriptionIntent) Kind() IntentKind { return IntentSubscription }
func (SubscriptionIntent) sealedIntent()    {}

// OrderIntent buys the contents of one or more stores' carts.
type OrderIntent struct {
	CartGroups   []CartGroup    `validate:"required,min=1,dive"`
	ShippingInfo map[string]any `validate:"required,min=1"`
	DeliveryFee decimal.Decimal
}

func (OrderIntent) Kind() IntentKind { return IntentOrder }
func (OrderIntent) sealedIntent()    {}

// CartGroup is one seller's slice of a checkout as the client submitted it.
type CartGroup struct {
	StoreID uuid.UUID `json:"storeId" validate:"required"`
	Items   []CartItem `json:"items" validate:"required,min=1,dive"`
}

// CartItem never carries a price; the catalog is the only price source.
type CartItem struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gte=1"`
}
