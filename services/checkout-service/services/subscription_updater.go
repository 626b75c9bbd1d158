package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

// UnlimitedProducts is the product limit stored for plans without a quota.
const UnlimitedProducts = -1

var planProductLimits = map[string]int{
	"free":     10,
	"basic":    20,
	"standard": 50,
	"premium":  UnlimitedProducts,
}

// ProductLimitFor returns the product quota for plan.
func ProductLimitFor(plan string) (int, bool) {
	limit, ok := planProductLimits[strings.ToLower(plan)]
	return limit, ok
}

// SubscriptionResult is the store state after a plan payment.
// AlreadyApplied is set when the reference had been applied before and
// nothing changed.
type SubscriptionResult struct {
	Store          models.Store
	AlreadyApplied bool
}

// SubscriptionUpdater applies plan payments to stores, at most once per
// payment reference.
type SubscriptionUpdater struct {
	db     *gorm.DB
	stores repository.StoreRepository
	now    func() time.Time
}

func NewSubscriptionUpdater(db *gorm.DB, stores repository.StoreRepository) *SubscriptionUpdater {
	return &SubscriptionUpdater{db: db, stores: stores, now: time.Now}
}

// errSubscriptionNotApplied rolls back a payment record whose store update
// matched no row.
var errSubscriptionNotApplied = errors.New("subscription update matched no store")

// ApplyPlan activates plan on the store for one month from now. The payment
// row and the store update commit together, and the unique payment reference
// makes every later call for reference, concurrent or not, AlreadyApplied.
func (u *SubscriptionUpdater) ApplyPlan(ctx context.Context, storeID uuid.UUID, plan string, amount decimal.Decimal, reference string) (*SubscriptionResult, error) {
	plan = strings.ToLower(plan)
	limit, ok := ProductLimitFor(plan)
	if !ok {
		return nil, invalidMetadata(fmt.Sprintf("unsupported plan %q", plan))
	}

	store, err := u.stores.FindByID(ctx, storeID)
	if err != nil {
		return nil, storeLookupError(err, storeID, reference)
	}
	if res, err := u.previouslyApplied(ctx, store, reference); res != nil || err != nil {
		return res, err
	}

	now := u.now()
	change := repository.SubscriptionChange{
		Plan:         plan,
		StartDate:    now,
		ExpiryDate:   now.AddDate(0, 1, 0),
		ProductLimit: limit,
		Reference:    reference,
		Amount:       amount,
	}
	err = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stores := u.stores.WithTx(tx)
		if err := stores.RecordPayment(ctx, &models.SubscriptionPayment{
			StoreID:          storeID,
			PaymentReference: reference,
			Plan:             plan,
			Amount:           amount,
			ExpiryDate:       change.ExpiryDate,
		}); err != nil {
			return err
		}
		updated, err := stores.ApplySubscription(ctx, storeID, change)
		if err != nil {
			return err
		}
		if !updated {
			return errSubscriptionNotApplied
		}
		return nil
	})
	if err != nil {
		return u.resolveConflict(ctx, storeID, reference, err)
	}

	store, err = u.stores.FindByID(ctx, storeID)
	if err != nil {
		return nil, storeLookupError(err, storeID, reference)
	}
	return &SubscriptionResult{Store: *store}, nil
}

// previouslyApplied returns an AlreadyApplied result when reference was
// applied to store before, and IntentConflict when it paid for another store.
// It returns nil, nil for a fresh reference.
func (u *SubscriptionUpdater) previouslyApplied(ctx context.Context, store *models.Store, reference string) (*SubscriptionResult, error) {
	payment, err := u.stores.FindPayment(ctx, reference)
	if err != nil {
		return nil, newError(ErrFulfillmentFailed, "Could not check payment reference usage", err).withReference(reference)
	}
	if payment != nil {
		if payment.StoreID != store.ID {
			return nil, newError(ErrIntentConflict, "", nil).withReference(reference)
		}
		return &SubscriptionResult{Store: *store, AlreadyApplied: true}, nil
	}
	// stores updated before payments were recorded only carry the marker
	if store.LastPaymentReference != nil && *store.LastPaymentReference == reference {
		return &SubscriptionResult{Store: *store, AlreadyApplied: true}, nil
	}
	return nil, nil
}

// resolveConflict runs after the transaction rolled back. A concurrent call
// that recorded reference first turns this call into AlreadyApplied.
func (u *SubscriptionUpdater) resolveConflict(ctx context.Context, storeID uuid.UUID, reference string, cause error) (*SubscriptionResult, error) {
	store, err := u.stores.FindByID(ctx, storeID)
	if err != nil {
		return nil, storeLookupError(err, storeID, reference)
	}
	if res, err := u.previouslyApplied(ctx, store, reference); res != nil || err != nil {
		return res, err
	}
	if repository.IsDuplicateKey(cause) {
		// reference is stamped on a different store
		return nil, newError(ErrIntentConflict, "", cause).withReference(reference)
	}
	return nil, newError(ErrFulfillmentFailed, "Subscription could not be updated, please retry", cause).withReference(reference)
}

func storeLookupError(err error, storeID uuid.UUID, reference string) *ServiceError {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrStoreNotFound, fmt.Sprintf("Store %s not found", storeID), err).withReference(reference)
	}
	return newError(ErrFulfillmentFailed, "Could not load store, please retry", err).withReference(reference)
}
