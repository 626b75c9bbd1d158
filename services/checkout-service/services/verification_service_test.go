package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/providers"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

// --- Mocks ---

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Verify(ctx context.Context, reference string) (*models.GatewayTransaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayTransaction), args.Error(1)
}

type stubIdentity map[string]string

func (s stubIdentity) Decode(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type memoryCache struct {
	results map[string]*VerifyResult
}

func (c *memoryCache) Get(_ context.Context, ref string) (*VerifyResult, bool) {
	r, ok := c.results[ref]
	return r, ok
}

func (c *memoryCache) Set(_ context.Context, ref string, r *VerifyResult) {
	c.results[ref] = r
}

type recordingPublisher struct {
	events []DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e DomainEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type recordingArchive struct {
	records []MismatchRecord
}

func (a *recordingArchive) ArchiveMismatch(_ context.Context, r MismatchRecord) error {
	a.records = append(a.records, r)
	return nil
}

// --- Suite ---

type VerificationServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	gateway *MockGateway
	audit   *recordingAuditor
	events  *recordingPublisher
	archive *recordingArchive
	cache   *memoryCache
	svc     VerificationService

	store   models.Store
	product models.Product
}

func TestVerificationService(t *testing.T) {
	suite.Run(t, new(VerificationServiceTestSuite))
}

func (s *VerificationServiceTestSuite) SetupTest() {
	s.db = newTestDB(s.T())
	s.gateway = new(MockGateway)
	s.audit = &recordingAuditor{}
	s.events = &recordingPublisher{}
	s.archive = &recordingArchive{}
	s.cache = &memoryCache{results: map[string]*VerifyResult{}}
	s.svc = s.newService(s.cache)

	s.store = seedStore(s.T(), s.db)
	s.product = seedProduct(s.T(), s.db, s.store.ID, "1000", 5)
}

func (s *VerificationServiceTestSuite) newService(cache ResultCache) VerificationService {
	products := repository.NewGormProductRepository(s.db)
	orders := repository.NewGormOrderRepository(s.db)
	stores := repository.NewGormStoreRepository(s.db)
	return NewVerificationService(VerificationDeps{
		Limiter:      NewAttemptLimiter(5, time.Minute),
		Identity:     stubIdentity{"good-token": "user-1"},
		Gateway:      s.gateway,
		Extractor:    NewMetadataExtractor(),
		Guard:        NewIdempotencyGuard(orders, stores),
		Pricing:      NewPricingVerifier(products),
		Fulfillment:  NewFulfillmentEngine(s.db, products, orders, &sequenceNumbers{}, 5*time.Second, testLogger),
		Subscription: NewSubscriptionUpdater(s.db, stores),
		Audit:        s.audit,
		Cache:        cache,
		Events:       s.events,
		Archive:      s.archive,
		Tolerance:    decimal.NewFromInt(1),
	}, testLogger)
}

func (s *VerificationServiceTestSuite) orderMetadata(qty int) map[string]any {
	orders := fmt.Sprintf(`[{"storeId":"%s","items":[{"productId":"%s","quantity":%d}]}]`, s.store.ID, s.product.ID, qty)
	return map[string]any{
		"orders":       orders,
		"shippingInfo": `{"address":"1 Main St","city":"Lagos"}`,
		"deliveryFee":  "200",
	}
}

func (s *VerificationServiceTestSuite) paid(ref, amount string, metadata map[string]any) *models.GatewayTransaction {
	return &models.GatewayTransaction{
		Reference: ref,
		Status:    "success",
		Amount:    decimal.RequireFromString(amount),
		Currency:  "NGN",
		Channel:   "card",
		Metadata:  metadata,
	}
}

func (s *VerificationServiceTestSuite) verify(ref string, mode Mode) (*VerifyResult, *ServiceError) {
	return s.svc.Verify(bg, VerifyRequest{Reference: ref, Token: "good-token", Mode: mode})
}

func (s *VerificationServiceTestSuite) TestOrderIsFulfilled() {
	s.gateway.On("Verify", mock.Anything, "ref_123").Return(s.paid("ref_123", "2200", s.orderMetadata(2)), nil).Once()

	res, err := s.verify("ref_123", ModeFulfill)
	s.Require().Nil(err)

	s.Equal(models.IntentOrder, res.Type)
	s.Require().NotNil(res.OrderExists)
	s.True(*res.OrderExists)
	s.False(res.AlreadyProcessed)
	s.NotEmpty(res.OrderNumber)
	s.Equal(1, res.SubOrderCount)
	s.Equal("2200", res.GrandTotal.String())
	s.Equal("2000", res.SubOrders[0].Subtotal.String())
	s.Equal(3, stockOf(s.T(), s.db, s.product.ID))

	s.Equal([]models.AuditEvent{models.AuditVerificationStarted, models.AuditOrderFulfilled}, s.audit.events())
	s.Equal("user-1", s.audit.last().UserID)
	s.Require().Len(s.events.events, 1)
	s.Equal(EventOrderFulfilled, s.events.events[0].Type)
	s.Contains(s.cache.results, "ref_123")
	s.gateway.AssertExpectations(s.T())
}

func (s *VerificationServiceTestSuite) TestRepeatedVerifyIsServedFromCache() {
	s.gateway.On("Verify", mock.Anything, "ref_123").Return(s.paid("ref_123", "2200", s.orderMetadata(2)), nil).Once()

	first, err := s.verify("ref_123", ModeFulfill)
	s.Require().Nil(err)
	second, err := s.verify("ref_123", ModeFulfill)
	s.Require().Nil(err)

	s.Equal(first.OrderID, second.OrderID)
	s.False(first.AlreadyProcessed)
	s.True(second.AlreadyProcessed)
	s.False(s.cache.results["ref_123"].AlreadyProcessed)
	s.gateway.AssertNumberOfCalls(s.T(), "Verify", 1)
	s.Equal(3, stockOf(s.T(), s.db, s.product.ID))

	s.Equal([]models.AuditEvent{
		models.AuditVerificationStarted,
		models.AuditOrderFulfilled,
		models.AuditAlreadyFulfilled,
	}, s.audit.events())
	s.Equal("user-1", s.audit.last().UserID)
	s.Equal("cache", s.audit.last().Metadata["source"])
}

func (s *VerificationServiceTestSuite) TestCachedSubscriptionIsAuditedAsAlreadyApplied() {
	metadata := map[string]any{"plan": "basic", "storeId": s.store.ID.String()}
	s.gateway.On("Verify", mock.Anything, "ref_sub").Return(s.paid("ref_sub", "5000", metadata), nil).Once()

	_, err := s.verify("ref_sub", ModeFulfill)
	s.Require().Nil(err)
	again, err := s.verify("ref_sub", ModePoll)
	s.Require().Nil(err)

	s.True(again.AlreadyProcessed)
	s.Equal(models.AuditSubscriptionAlreadyApplied, s.audit.last().Event)
	s.gateway.AssertNumberOfCalls(s.T(), "Verify", 1)
}

func (s *VerificationServiceTestSuite) TestReplayedSubscriptionReferenceAfterRenewal() {
	s.svc = s.newService(NoopResultCache{})
	premium := map[string]any{"plan": "premium", "storeId": s.store.ID.String()}
	basic := map[string]any{"plan": "basic", "storeId": s.store.ID.String()}
	s.gateway.On("Verify", mock.Anything, "ref_a").Return(s.paid("ref_a", "20000", premium), nil)
	s.gateway.On("Verify", mock.Anything, "ref_b").Return(s.paid("ref_b", "5000", basic), nil)

	_, err := s.verify("ref_a", ModeFulfill)
	s.Require().Nil(err)
	_, err = s.verify("ref_b", ModeFulfill)
	s.Require().Nil(err)

	replay, err := s.verify("ref_a", ModePoll)
	s.Require().Nil(err)
	s.True(replay.AlreadyProcessed)
	s.Equal("basic", replay.Plan)
	s.Equal(models.AuditSubscriptionAlreadyApplied, s.audit.last().Event)
	s.Len(s.events.events, 2)

	var store models.Store
	s.Require().NoError(s.db.First(&store, "id = ?", s.store.ID).Error)
	s.Equal("ref_b", *store.LastPaymentReference)
}

func (s *VerificationServiceTestSuite) TestReplacedSubscriptionReferenceCannotBuyOrder() {
	s.svc = s.newService(NoopResultCache{})
	basic := map[string]any{"plan": "basic", "storeId": s.store.ID.String()}
	s.gateway.On("Verify", mock.Anything, "ref_old").Return(s.paid("ref_old", "5000", basic), nil).Once()
	s.gateway.On("Verify", mock.Anything, "ref_new").Return(s.paid("ref_new", "5000", basic), nil).Once()
	_, err := s.verify("ref_old", ModeFulfill)
	s.Require().Nil(err)
	_, err = s.verify("ref_new", ModeFulfill)
	s.Require().Nil(err)

	s.gateway.On("Verify", mock.Anything, "ref_old").Return(s.paid("ref_old", "2200", s.orderMetadata(2)), nil).Once()
	_, err = s.verify("ref_old", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(http.StatusConflict, err.StatusCode)
	s.Equal(5, stockOf(s.T(), s.db, s.product.ID))
}

func (s *VerificationServiceTestSuite) TestRepeatedVerifyWithoutCacheReportsAlreadyProcessed() {
	s.svc = s.newService(NoopResultCache{})
	s.gateway.On("Verify", mock.Anything, "ref_123").Return(s.paid("ref_123", "2200", s.orderMetadata(2)), nil).Twice()

	first, err := s.verify("ref_123", ModeFulfill)
	s.Require().Nil(err)
	second, err := s.verify("ref_123", ModeFulfill)
	s.Require().Nil(err)

	s.True(second.AlreadyProcessed)
	s.Equal(first.OrderID, second.OrderID)
	s.Equal(3, stockOf(s.T(), s.db, s.product.ID))
	s.Equal(models.AuditAlreadyFulfilled, s.audit.last().Event)
	s.Len(s.events.events, 1)
}

func (s *VerificationServiceTestSuite) TestAmountMismatchCreatesNothing() {
	s.gateway.On("Verify", mock.Anything, "ref_short").Return(s.paid("ref_short", "2100", s.orderMetadata(2)), nil).Once()

	res, err := s.verify("ref_short", ModeFulfill)
	s.Nil(res)
	s.Require().NotNil(err)
	s.Equal(ErrAmountMismatch.Code, err.Code)
	s.Equal(http.StatusBadRequest, err.StatusCode)
	s.Equal("ref_short", err.Reference)
	s.Equal("2200", err.Details["expected"])

	s.Equal(5, stockOf(s.T(), s.db, s.product.ID))
	var count int64
	s.db.Model(&models.SubOrder{}).Where("payment_reference = ?", "ref_short").Count(&count)
	s.Zero(count)
	s.Equal(models.AuditAmountMismatch, s.audit.last().Event)
	s.Require().Len(s.archive.records, 1)
	s.Equal("-100", s.archive.records[0].Difference.String())
	s.Empty(s.cache.results)
}

func (s *VerificationServiceTestSuite) TestInsufficientStock() {
	s.gateway.On("Verify", mock.Anything, "ref_big").Return(s.paid("ref_big", "6200", s.orderMetadata(6)), nil).Once()

	_, err := s.verify("ref_big", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(ErrInsufficientStock.Code, err.Code)
	s.Equal(models.AuditPricingFailed, s.audit.last().Event)
	s.Equal(5, stockOf(s.T(), s.db, s.product.ID))
}

func (s *VerificationServiceTestSuite) TestPollBeforeAndAfterFulfillment() {
	tx := s.paid("ref_poll", "2200", s.orderMetadata(2))
	s.gateway.On("Verify", mock.Anything, "ref_poll").Return(tx, nil)

	pending, err := s.verify("ref_poll", ModePoll)
	s.Require().Nil(err)
	s.Require().NotNil(pending.OrderExists)
	s.False(*pending.OrderExists)
	s.NotEmpty(pending.Metadata)
	s.Equal(5, stockOf(s.T(), s.db, s.product.ID))
	s.NotContains(s.cache.results, "ref_poll")

	_, err = s.verify("ref_poll", ModeFulfill)
	s.Require().Nil(err)

	delete(s.cache.results, "ref_poll")
	done, err := s.verify("ref_poll", ModePoll)
	s.Require().Nil(err)
	s.True(*done.OrderExists)
	s.True(done.AlreadyProcessed)
}

func (s *VerificationServiceTestSuite) TestSubscriptionAppliedOnPoll() {
	metadata := map[string]any{"type": "subscription", "plan": "basic", "storeId": s.store.ID.String()}
	s.gateway.On("Verify", mock.Anything, "ref_sub").Return(s.paid("ref_sub", "5000", metadata), nil)

	res, err := s.verify("ref_sub", ModePoll)
	s.Require().Nil(err)
	s.Equal(models.IntentSubscription, res.Type)
	s.Require().NotNil(res.SubscriptionUpdated)
	s.True(*res.SubscriptionUpdated)
	s.Equal("basic", res.Plan)
	s.Equal(20, *res.ProductLimit)
	s.Equal(s.store.ID.String(), res.StoreID)
	s.Equal(EventSubscriptionActivated, s.events.events[0].Type)

	delete(s.cache.results, "ref_sub")
	again, err := s.verify("ref_sub", ModeFulfill)
	s.Require().Nil(err)
	s.True(again.AlreadyProcessed)
	s.True(res.ExpiryDate.Equal(*again.ExpiryDate))
	s.Equal(models.AuditSubscriptionAlreadyApplied, s.audit.last().Event)
	s.Len(s.events.events, 1)
}

func (s *VerificationServiceTestSuite) TestSubscriptionForUnknownStore() {
	metadata := map[string]any{"plan": "basic", "storeId": uuid.NewString()}
	s.gateway.On("Verify", mock.Anything, "ref_nostore").Return(s.paid("ref_nostore", "5000", metadata), nil)

	_, err := s.verify("ref_nostore", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(http.StatusNotFound, err.StatusCode)
	s.Equal(models.AuditStoreNotFound, s.audit.last().Event)
}

func (s *VerificationServiceTestSuite) TestReferenceCannotServeBothIntents() {
	subMeta := map[string]any{"plan": "basic", "storeId": s.store.ID.String()}
	s.gateway.On("Verify", mock.Anything, "ref_dual").Return(s.paid("ref_dual", "5000", subMeta), nil).Once()
	_, err := s.verify("ref_dual", ModeFulfill)
	s.Require().Nil(err)

	delete(s.cache.results, "ref_dual")
	s.gateway.On("Verify", mock.Anything, "ref_dual").Return(s.paid("ref_dual", "2200", s.orderMetadata(2)), nil).Once()
	_, err = s.verify("ref_dual", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(http.StatusConflict, err.StatusCode)
	s.Equal(models.AuditIntentConflict, s.audit.last().Event)
	s.Equal(5, stockOf(s.T(), s.db, s.product.ID))
}

func (s *VerificationServiceTestSuite) TestGatewayFailures() {
	s.gateway.On("Verify", mock.Anything, "ref_down").Return(nil, providers.ErrGatewayUnavailable)
	failed := s.paid("ref_failed", "2200", nil)
	failed.Status = "failed"
	s.gateway.On("Verify", mock.Anything, "ref_failed").Return(failed, providers.ErrPaymentNotSuccessful)

	_, err := s.verify("ref_down", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(ErrGatewayUnavailable.Code, err.Code)
	s.Equal(http.StatusInternalServerError, err.StatusCode)
	s.True(err.Retryable())

	_, err = s.verify("ref_failed", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(ErrPaymentNotSuccessful.Code, err.Code)
	s.Equal("failed", s.audit.last().Metadata["gateway_status"])
}

func (s *VerificationServiceTestSuite) TestInvalidMetadataIsAuditedWithKeys() {
	s.gateway.On("Verify", mock.Anything, "ref_junk").Return(s.paid("ref_junk", "100", map[string]any{"foo": "bar", "baz": 1}), nil)

	_, err := s.verify("ref_junk", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(ErrInvalidMetadata.Code, err.Code)
	s.Equal([]string{"baz", "foo"}, s.audit.last().Metadata["metadata_keys"])
}

func (s *VerificationServiceTestSuite) TestMissingReference() {
	_, err := s.verify("  ", ModeFulfill)
	s.Require().NotNil(err)
	s.Equal(ErrMissingReference.Code, err.Code)
	s.Empty(s.audit.events())
	s.gateway.AssertNotCalled(s.T(), "Verify", mock.Anything, mock.Anything)
}

func (s *VerificationServiceTestSuite) TestUnauthorized() {
	_, err := s.svc.Verify(bg, VerifyRequest{Reference: "ref_anon", Mode: ModeFulfill})
	s.Require().NotNil(err)
	s.Equal(http.StatusUnauthorized, err.StatusCode)

	_, err = s.svc.Verify(bg, VerifyRequest{Reference: "ref_anon", Token: "forged", Mode: ModeFulfill})
	s.Require().NotNil(err)
	s.Equal(http.StatusUnauthorized, err.StatusCode)

	s.Equal([]models.AuditEvent{models.AuditUnauthorized, models.AuditUnauthorized}, s.audit.events())
	s.gateway.AssertNotCalled(s.T(), "Verify", mock.Anything, mock.Anything)
}

func (s *VerificationServiceTestSuite) TestRateLimitedAfterFiveAttempts() {
	s.gateway.On("Verify", mock.Anything, "ref_spam").Return(nil, providers.ErrGatewayUnavailable)

	for i := 0; i < 5; i++ {
		_, err := s.verify("ref_spam", ModePoll)
		s.Require().NotNil(err)
		s.Equal(ErrGatewayUnavailable.Code, err.Code)
	}
	_, err := s.verify("ref_spam", ModePoll)
	s.Require().NotNil(err)
	s.Equal(http.StatusTooManyRequests, err.StatusCode)
	s.Equal(models.AuditRateLimited, s.audit.last().Event)
	s.Equal(6, s.audit.last().Metadata["attempts"])
	s.gateway.AssertNumberOfCalls(s.T(), "Verify", 5)
}
