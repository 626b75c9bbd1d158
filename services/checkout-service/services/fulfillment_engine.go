package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

const defaultOrderNumberAttempts = 3

// FulfillmentRequest carries everything needed to materialize a paid order.
type FulfillmentRequest struct {
	Reference      string
	UserID         string
	PaymentMethod  string
	Currency       string
	AmountPaid     decimal.Decimal
	Pricing        *VerifiedPricing
	ShippingInfo   map[string]any
	PaymentDetails map[string]any
}

// FulfillmentResult is the order for the reference. AlreadyFulfilled is set
// when another caller created it first.
type FulfillmentResult struct {
	Order            models.ExistingOrder
	AlreadyFulfilled bool
}

// FulfillmentEngine writes SubOrders, inventory decrements and the MainOrder
// in one transaction.
type FulfillmentEngine struct {
	db          *gorm.DB
	products    repository.ProductRepository
	orders      repository.OrderRepository
	numbers     OrderNumberGenerator
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

func NewFulfillmentEngine(
	db *gorm.DB,
	products repository.ProductRepository,
	orders repository.OrderRepository,
	numbers OrderNumberGenerator,
	timeout time.Duration,
	logger *zap.Logger,
) *FulfillmentEngine {
	return &FulfillmentEngine{
		db:          db,
		products:    products,
		orders:      orders,
		numbers:     numbers,
		timeout:     timeout,
		maxAttempts: defaultOrderNumberAttempts,
		now:         time.Now,
		logger:      logger.Named("fulfillment"),
	}
}

// errOrderNumberTaken marks a unique violation that was not caused by the
// reference already having an order.
var errOrderNumberTaken = errors.New("order number collision")

// Fulfill creates the order for req.Reference exactly once. Concurrent calls
// for the same reference converge on one order: the loser's insert hits the
// unique index, its transaction rolls back and the winner's order is returned
// with AlreadyFulfilled set.
func (e *FulfillmentEngine) Fulfill(ctx context.Context, req FulfillmentRequest) (*FulfillmentResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err := e.fulfillOnce(ctx, req)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, errOrderNumberTaken) {
			return nil, err
		}
		lastErr = err
		e.logger.Warn("order number collision, retrying",
			zap.String("reference", req.Reference),
			zap.Int("attempt", attempt))
	}
	return nil, newError(ErrFulfillmentFailed, "", lastErr).withReference(req.Reference)
}

func (e *FulfillmentEngine) fulfillOnce(parent context.Context, req FulfillmentRequest) (*FulfillmentResult, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	var result *FulfillmentResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders := e.orders.WithTx(tx)
		products := e.products.WithTx(tx)

		existing, err := orders.FindByReference(ctx, req.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &FulfillmentResult{Order: *existing, AlreadyFulfilled: true}
			return nil
		}

		main, subs := e.buildOrder(req)
		if err := orders.CreateSubOrders(ctx, subs); err != nil {
			return err
		}
		for _, sub := range subs {
			for _, item := range sub.Items {
				ok, err := products.DecrementInventory(ctx, item.ProductID, item.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					// stock moved between pricing and this transaction
					return newError(ErrInsufficientStock, "Insufficient stock for product "+item.ProductID.String(), nil).
						withReference(req.Reference).
						withDetails(map[string]any{"productId": item.ProductID.String(), "requested": item.Quantity})
				}
			}
		}
		if err := orders.CreateMainOrder(ctx, main); err != nil {
			return err
		}
		result = &FulfillmentResult{Order: models.ExistingOrder{Main: *main, SubOrders: subs}}
		return nil
	})
	if err == nil {
		return result, nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return nil, svcErr
	}
	if repository.IsDuplicateKey(err) {
		return e.resolveConflict(parent, req.Reference, err)
	}
	return nil, newError(ErrFulfillmentFailed, "", err).withReference(req.Reference)
}

// resolveConflict runs after a unique violation rolled the transaction back.
// If the reference now has an order another caller won the race; otherwise
// the generated order number collided.
func (e *FulfillmentEngine) resolveConflict(ctx context.Context, reference string, cause error) (*FulfillmentResult, error) {
	existing, err := e.orders.FindByReference(ctx, reference)
	if err != nil {
		return nil, newError(ErrFulfillmentFailed, "", err).withReference(reference)
	}
	if existing != nil {
		return &FulfillmentResult{Order: *existing, AlreadyFulfilled: true}, nil
	}
	return nil, errors.Join(errOrderNumberTaken, cause)
}

func (e *FulfillmentEngine) buildOrder(req FulfillmentRequest) (*models.MainOrder, []models.SubOrder) {
	now := e.now()
	mainID := uuid.New()

	subs := make([]models.SubOrder, 0, len(req.Pricing.SubOrders))
	subIDs := make([]uuid.UUID, 0, len(req.Pricing.SubOrders))
	for _, priced := range req.Pricing.SubOrders {
		id := uuid.New()
		subIDs = append(subIDs, id)
		subs = append(subs, models.SubOrder{
			ID:               id,
			MainOrderID:      mainID,
			StoreID:          priced.StoreID,
			UserID:           req.UserID,
			PaymentReference: req.Reference,
			Items:            datatypes.NewJSONSlice(priced.Items),
			Subtotal:         priced.Subtotal,
			Status:           models.OrderStatusProcessing,
			PaymentStatus:    models.PaymentStatusPaid,
			PaymentMethod:    req.PaymentMethod,
			PaymentDetails:   datatypes.JSONMap(req.PaymentDetails),
		})
	}

	main := &models.MainOrder{
		ID:               mainID,
		OrderNumber:      e.numbers.Next(now),
		UserID:           req.UserID,
		PaymentReference: req.Reference,
		SubOrderIDs:      datatypes.NewJSONSlice(subIDs),
		Subtotal:         req.Pricing.Subtotal,
		DeliveryFee:      req.Pricing.DeliveryFee,
		GrandTotal:       req.Pricing.GrandTotal,
		AmountPaid:       req.AmountPaid,
		Currency:         req.Currency,
		ShippingInfo:     datatypes.JSONMap(req.ShippingInfo),
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    models.PaymentStatusPaid,
		Status:           models.OrderStatusProcessing,
	}
	return main, subs
}
