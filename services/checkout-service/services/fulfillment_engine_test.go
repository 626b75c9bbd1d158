package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

type FulfillmentEngineTestSuite struct {
	suite.Suite
	db      *gorm.DB
	numbers *sequenceNumbers
	engine  *FulfillmentEngine
	pricer  *PricingVerifier
	store   models.Store
}

func TestFulfillmentEngine(t *testing.T) {
	suite.Run(t, new(FulfillmentEngineTestSuite))
}

func (s *FulfillmentEngineTestSuite) SetupTest() {
	s.db = newTestDB(s.T())
	products := repository.NewGormProductRepository(s.db)
	orders := repository.NewGormOrderRepository(s.db)
	s.numbers = &sequenceNumbers{}
	s.engine = NewFulfillmentEngine(s.db, products, orders, s.numbers, 5*time.Second, testLogger)
	s.pricer = NewPricingVerifier(products)
	s.store = seedStore(s.T(), s.db)
}

func (s *FulfillmentEngineTestSuite) price(groups []models.CartGroup, fee string) *VerifiedPricing {
	pricing, err := s.pricer.Verify(bg, groups, decimal.RequireFromString(fee))
	s.Require().NoError(err)
	return pricing
}

func (s *FulfillmentEngineTestSuite) request(ref string, pricing *VerifiedPricing) FulfillmentRequest {
	return FulfillmentRequest{
		Reference:     ref,
		UserID:        "user-1",
		PaymentMethod: "card",
		Currency:      "NGN",
		AmountPaid:    pricing.GrandTotal,
		Pricing:       pricing,
		ShippingInfo:  map[string]any{"address": "1 Main St"},
	}
}

func (s *FulfillmentEngineTestSuite) TestCreatesOrderAndDecrementsStock() {
	product := seedProduct(s.T(), s.db, s.store.ID, "1000", 5)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 2}},
	}}, "200")

	res, err := s.engine.Fulfill(bg, s.request("ref_123", pricing))
	s.Require().NoError(err)
	s.False(res.AlreadyFulfilled)

	s.Equal(3, stockOf(s.T(), s.db, product.ID))
	s.Require().Len(res.Order.SubOrders, 1)
	sub := res.Order.SubOrders[0]
	s.True(decimal.NewFromInt(2000).Equal(sub.Subtotal))
	s.Equal(models.OrderStatusProcessing, sub.Status)
	s.Equal(models.PaymentStatusPaid, sub.PaymentStatus)
	s.Equal("ref_123", sub.PaymentReference)

	main := res.Order.Main
	s.True(decimal.NewFromInt(2200).Equal(main.GrandTotal))
	s.True(decimal.NewFromInt(200).Equal(main.DeliveryFee))
	s.Equal([]uuid.UUID{sub.ID}, []uuid.UUID(main.SubOrderIDs))
	s.Equal(main.ID, sub.MainOrderID)

	var count int64
	s.db.Model(&models.MainOrder{}).Where("payment_reference = ?", "ref_123").Count(&count)
	s.Equal(int64(1), count)
}

func (s *FulfillmentEngineTestSuite) TestSecondCallReturnsExistingOrder() {
	product := seedProduct(s.T(), s.db, s.store.ID, "1000", 5)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 2}},
	}}, "200")

	first, err := s.engine.Fulfill(bg, s.request("ref_twice", pricing))
	s.Require().NoError(err)
	second, err := s.engine.Fulfill(bg, s.request("ref_twice", pricing))
	s.Require().NoError(err)

	s.True(second.AlreadyFulfilled)
	s.Equal(first.Order.Main.ID, second.Order.Main.ID)
	s.Equal(3, stockOf(s.T(), s.db, product.ID))
}

func (s *FulfillmentEngineTestSuite) TestRollsBackWhenLaterItemIsOutOfStock() {
	other := seedStore(s.T(), s.db)
	first := seedProduct(s.T(), s.db, s.store.ID, "500", 4)
	second := seedProduct(s.T(), s.db, other.ID, "300", 2)
	pricing := s.price([]models.CartGroup{
		{StoreID: s.store.ID, Items: []models.CartItem{{ProductID: first.ID, Quantity: 1}}},
		{StoreID: other.ID, Items: []models.CartItem{{ProductID: second.ID, Quantity: 2}}},
	}, "0")

	// stock drops after pricing
	s.Require().NoError(s.db.Model(&models.Product{}).Where("id = ?", second.ID).Update("inventory_quantity", 1).Error)

	_, err := s.engine.Fulfill(bg, s.request("ref_partial", pricing))
	s.Require().Error(err)
	s.ErrorIs(err, ErrInsufficientStock)

	s.Equal(4, stockOf(s.T(), s.db, first.ID))
	s.Equal(1, stockOf(s.T(), s.db, second.ID))
	var subs int64
	s.db.Model(&models.SubOrder{}).Where("payment_reference = ?", "ref_partial").Count(&subs)
	s.Zero(subs)
}

func (s *FulfillmentEngineTestSuite) TestExactStockIsAllowed() {
	product := seedProduct(s.T(), s.db, s.store.ID, "250", 3)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 3}},
	}}, "0")

	_, err := s.engine.Fulfill(bg, s.request("ref_exact", pricing))
	s.Require().NoError(err)
	s.Equal(0, stockOf(s.T(), s.db, product.ID))
}

func (s *FulfillmentEngineTestSuite) TestConcurrentCallsCreateOneOrder() {
	product := seedProduct(s.T(), s.db, s.store.ID, "1000", 10)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 2}},
	}}, "200")

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*FulfillmentResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.engine.Fulfill(bg, s.request("ref_race", pricing))
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		s.Require().NoError(errs[i])
		if !results[i].AlreadyFulfilled {
			created++
		}
		s.Equal(results[0].Order.Main.ID, results[i].Order.Main.ID)
	}
	s.Equal(1, created)
	s.Equal(8, stockOf(s.T(), s.db, product.ID))

	var mains int64
	s.db.Model(&models.MainOrder{}).Where("payment_reference = ?", "ref_race").Count(&mains)
	s.Equal(int64(1), mains)
}

// lateReaderOrders behaves like a caller whose transaction started before
// another caller committed: reads inside the transaction miss the order.
type lateReaderOrders struct {
	repository.OrderRepository
}

func (o lateReaderOrders) WithTx(tx *gorm.DB) repository.OrderRepository {
	return blindOrders{OrderRepository: o.OrderRepository.WithTx(tx)}
}

type blindOrders struct {
	repository.OrderRepository
}

func (blindOrders) FindByReference(context.Context, string) (*models.ExistingOrder, error) {
	return nil, nil
}

func (s *FulfillmentEngineTestSuite) TestUniqueIndexCatchesDuplicateMissedByExistenceCheck() {
	product := seedProduct(s.T(), s.db, s.store.ID, "1000", 5)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 2}},
	}}, "200")

	winner, err := s.engine.Fulfill(bg, s.request("ref_late", pricing))
	s.Require().NoError(err)

	products := repository.NewGormProductRepository(s.db)
	late := NewFulfillmentEngine(s.db, products, lateReaderOrders{repository.NewGormOrderRepository(s.db)}, s.numbers, 5*time.Second, testLogger)
	res, err := late.Fulfill(bg, s.request("ref_late", pricing))
	s.Require().NoError(err)

	s.True(res.AlreadyFulfilled)
	s.Equal(winner.Order.Main.ID, res.Order.Main.ID)
	s.Equal(3, stockOf(s.T(), s.db, product.ID))

	var subs int64
	s.db.Model(&models.SubOrder{}).Where("payment_reference = ?", "ref_late").Count(&subs)
	s.Equal(int64(1), subs)
}

func (s *FulfillmentEngineTestSuite) TestRetriesOnOrderNumberCollision() {
	taken := models.MainOrder{
		ID:               uuid.New(),
		OrderNumber:      "ORD-TAKEN",
		UserID:           "someone",
		PaymentReference: "ref_other",
		PaymentStatus:    models.PaymentStatusPaid,
		Status:           models.OrderStatusProcessing,
	}
	s.Require().NoError(s.db.Create(&taken).Error)
	s.numbers.queued = []string{"ORD-TAKEN"}

	product := seedProduct(s.T(), s.db, s.store.ID, "1000", 5)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 2}},
	}}, "200")

	res, err := s.engine.Fulfill(bg, s.request("ref_collide", pricing))
	s.Require().NoError(err)
	s.False(res.AlreadyFulfilled)
	s.NotEqual("ORD-TAKEN", res.Order.Main.OrderNumber)
	s.Equal(3, stockOf(s.T(), s.db, product.ID))
}

func (s *FulfillmentEngineTestSuite) TestGivesUpAfterRepeatedCollisions() {
	taken := models.MainOrder{
		ID:               uuid.New(),
		OrderNumber:      "ORD-TAKEN",
		UserID:           "someone",
		PaymentReference: "ref_other",
		PaymentStatus:    models.PaymentStatusPaid,
		Status:           models.OrderStatusProcessing,
	}
	s.Require().NoError(s.db.Create(&taken).Error)
	s.numbers.queued = []string{"ORD-TAKEN", "ORD-TAKEN", "ORD-TAKEN"}

	product := seedProduct(s.T(), s.db, s.store.ID, "1000", 5)
	pricing := s.price([]models.CartGroup{{
		StoreID: s.store.ID,
		Items:   []models.CartItem{{ProductID: product.ID, Quantity: 1}},
	}}, "0")

	_, err := s.engine.Fulfill(bg, s.request("ref_unlucky", pricing))
	s.Require().Error(err)
	s.ErrorIs(err, ErrFulfillmentFailed)
	s.Equal(5, stockOf(s.T(), s.db, product.ID))
}

func TestIsDuplicateKeyOnSQLite(t *testing.T) {
	db := newTestDB(t)
	store := seedStore(t, db)
	dup := models.Store{ID: store.ID, OwnerID: "x", Name: "dup"}
	err := db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, repository.IsDuplicateKey(err))
	assert.False(t, repository.IsDuplicateKey(errors.New("connection refused")))
}
