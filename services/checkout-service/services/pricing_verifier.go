package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

// PricedSubOrder is one store's re-priced slice of a checkout.
type PricedSubOrder struct {
	StoreID  uuid.UUID          `json:"storeId"`
	Items    []models.OrderItem `json:"items"`
	Subtotal decimal.Decimal    `json:"subtotal"`
}

// VerifiedPricing holds totals computed from live catalog prices only.
type VerifiedPricing struct {
	SubOrders   []PricedSubOrder `json:"subOrders"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
	DeliveryFee decimal.Decimal  `json:"deliveryFee"`
	GrandTotal  decimal.Decimal  `json:"grandTotal"`
}

// PricingVerifier recomputes order totals from the catalog.
type PricingVerifier struct {
	products repository.ProductRepository
}

func NewPricingVerifier(products repository.ProductRepository) *PricingVerifier {
	return &PricingVerifier{products: products}
}

// Verify prices every cart line at the product's current price. A product
// that is missing, deleted, inactive or listed under another store fails
// with ErrProductUnavailable; a line asking for more than is in stock fails
// with ErrInsufficientStock.
func (v *PricingVerifier) Verify(ctx context.Context, groups []models.CartGroup, deliveryFee decimal.Decimal) (*VerifiedPricing, error) {
	if deliveryFee.IsNegative() {
		return nil, invalidMetadata("deliveryFee must not be negative")
	}

	var ids []uuid.UUID
	for _, g := range groups {
		for _, item := range g.Items {
			ids = append(ids, item.ProductID)
		}
	}
	products, err := v.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, newError(ErrFulfillmentFailed, "Catalog is unavailable, please retry", err)
	}
	catalog := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	pricing := &VerifiedPricing{
		SubOrders:   make([]PricedSubOrder, 0, len(groups)),
		Subtotal:    decimal.Zero,
		DeliveryFee: deliveryFee,
	}
	for _, g := range groups {
		sub := PricedSubOrder{StoreID: g.StoreID, Subtotal: decimal.Zero}
		for _, item := range g.Items {
			p, ok := catalog[item.ProductID]
			if !ok || !p.Available() || p.StoreID != g.StoreID {
				return nil, productUnavailable(item.ProductID)
			}
			if p.InventoryQuantity < item.Quantity {
				return nil, insufficientStock(item.ProductID, item.Quantity, p.InventoryQuantity)
			}
			total := p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			sub.Items = append(sub.Items, models.OrderItem{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  item.Quantity,
				UnitPrice: p.Price,
				Total:     total,
			})
			sub.Subtotal = sub.Subtotal.Add(total)
		}
		pricing.SubOrders = append(pricing.SubOrders, sub)
		pricing.Subtotal = pricing.Subtotal.Add(sub.Subtotal)
	}
	pricing.GrandTotal = pricing.Subtotal.Add(deliveryFee)
	return pricing, nil
}

// Reconcile fails with ErrAmountMismatch when paid and expected differ by
// more than tolerance.
func Reconcile(paid, expected, tolerance decimal.Decimal) error {
	diff := paid.Sub(expected)
	if diff.Abs().LessThanOrEqual(tolerance) {
		return nil
	}
	return newError(ErrAmountMismatch, fmt.Sprintf("Paid amount %s does not match order total %s", paid, expected), nil).
		withDetails(map[string]any{
			"paid":       paid.String(),
			"expected":   expected.String(),
			"difference": diff.String(),
		})
}

func productUnavailable(id uuid.UUID) *ServiceError {
	return newError(ErrProductUnavailable, fmt.Sprintf("Product %s is no longer available", id), nil).
		withDetails(map[string]any{"productId": id.String()})
}

func insufficientStock(id uuid.UUID, requested, available int) *ServiceError {
	return newError(ErrInsufficientStock, fmt.Sprintf("Insufficient stock for product %s", id), nil).
		withDetails(map[string]any{
			"productId": id.String(),
			"requested": requested,
			"available": available,
		})
}
