package services

import (
	"context"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

// IdempotencyGuard answers whether a reference was already processed. The
// fulfillment transaction repeats the order check, and the unique indexes on
// sub_orders and main_orders back both.
type IdempotencyGuard struct {
	orders repository.OrderRepository
	stores repository.StoreRepository
}

func NewIdempotencyGuard(orders repository.OrderRepository, stores repository.StoreRepository) *IdempotencyGuard {
	return &IdempotencyGuard{orders: orders, stores: stores}
}

// FindExistingOrder returns the order created for reference, or nil.
func (g *IdempotencyGuard) FindExistingOrder(ctx context.Context, reference string) (*models.ExistingOrder, error) {
	existing, err := g.orders.FindByReference(ctx, reference)
	if err != nil {
		return nil, newError(ErrFulfillmentFailed, "Could not check for an existing order", err).withReference(reference)
	}
	return existing, nil
}

// EnsureOrderExclusive fails when reference already paid for a subscription,
// including one a later payment has since replaced.
func (g *IdempotencyGuard) EnsureOrderExclusive(ctx context.Context, reference string) error {
	payment, err := g.stores.FindPayment(ctx, reference)
	if err != nil {
		return newError(ErrFulfillmentFailed, "Could not check payment reference usage", err).withReference(reference)
	}
	if payment != nil {
		return newError(ErrIntentConflict, "", nil).withReference(reference)
	}
	store, err := g.stores.FindByPaymentReference(ctx, reference)
	if err != nil {
		return newError(ErrFulfillmentFailed, "Could not check payment reference usage", err).withReference(reference)
	}
	if store != nil {
		return newError(ErrIntentConflict, "", nil).withReference(reference)
	}
	return nil
}

// EnsureSubscriptionExclusive fails when reference already produced orders.
func (g *IdempotencyGuard) EnsureSubscriptionExclusive(ctx context.Context, reference string) error {
	n, err := g.orders.CountSubOrdersByReference(ctx, reference)
	if err != nil {
		return newError(ErrFulfillmentFailed, "Could not check payment reference usage", err).withReference(reference)
	}
	if n > 0 {
		return newError(ErrIntentConflict, "", nil).withReference(reference)
	}
	return nil
}
