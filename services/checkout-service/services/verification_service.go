package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/providers"
)

// Mode distinguishes the buyer-redirect POST from the polling GET.
type Mode string

const (
	// ModeFulfill runs the whole pipeline and creates the order.
	ModeFulfill Mode = "fulfill"
	// ModePoll reports order state without creating one, but still applies a
	// pending subscription payment.
	ModePoll Mode = "poll"
)

// VerifyRequest is one inbound verification call.
type VerifyRequest struct {
	Reference string
	Token     string
	Mode      Mode
}

// SubOrderSummary is the per-store view of a created order.
type SubOrderSummary struct {
	ID       string          `json:"id"`
	StoreID  string          `json:"storeId"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Status   string          `json:"status"`
	Items    int             `json:"itemCount"`
}

// VerifyResult is the success payload of both endpoints. Order fields are
// set for order payments and subscription fields for plan payments.
type VerifyResult struct {
	Type          models.IntentKind `json:"type"`
	Reference     string            `json:"reference"`
	PaymentStatus string            `json:"paymentStatus"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency,omitempty"`
	Channel       string            `json:"channel,omitempty"`

	OrderExists      *bool             `json:"orderExists,omitempty"`
	AlreadyProcessed bool              `json:"alreadyProcessed,omitempty"`
	OrderID          string            `json:"orderId,omitempty"`
	OrderNumber      string            `json:"orderNumber,omitempty"`
	GrandTotal       *decimal.Decimal  `json:"grandTotal,omitempty"`
	DeliveryFee      *decimal.Decimal  `json:"deliveryFee,omitempty"`
	SubOrderCount    int               `json:"subOrderCount,omitempty"`
	SubOrders        []SubOrderSummary `json:"subOrders,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`

	SubscriptionUpdated *bool      `json:"subscriptionUpdated,omitempty"`
	StoreID             string     `json:"storeId,omitempty"`
	Plan                string     `json:"plan,omitempty"`
	ExpiryDate          *time.Time `json:"expiryDate,omitempty"`
	ProductLimit        *int       `json:"productLimit,omitempty"`
}

// IdentityResolver decodes a session credential into a user id.
type IdentityResolver interface {
	Decode(token string) (string, error)
}

// VerificationService runs the payment verification pipeline.
type VerificationService interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, *ServiceError)
}

// VerificationDeps groups the collaborators of the pipeline.
type VerificationDeps struct {
	Limiter      *AttemptLimiter
	Identity     IdentityResolver
	Gateway      providers.PaymentGateway
	Extractor    *MetadataExtractor
	Guard        *IdempotencyGuard
	Pricing      *PricingVerifier
	Fulfillment  *FulfillmentEngine
	Subscription *SubscriptionUpdater
	Audit        Auditor
	Cache        ResultCache
	Events       EventPublisher
	Archive      MismatchArchive
	Metrics      *Metrics
	Tolerance    decimal.Decimal
}

type verificationServiceImpl struct {
	VerificationDeps
	logger *zap.Logger
}

func NewVerificationService(deps VerificationDeps, logger *zap.Logger) VerificationService {
	if deps.Cache == nil {
		deps.Cache = NoopResultCache{}
	}
	if deps.Events == nil {
		deps.Events = NoopEventPublisher{}
	}
	if deps.Archive == nil {
		deps.Archive = NoopMismatchArchive{}
	}
	return &verificationServiceImpl{VerificationDeps: deps, logger: logger.Named("verification")}
}

// outcome carries what a branch produced so Verify can audit and count it in
// one place.
type outcome struct {
	event    models.AuditEvent
	result   *VerifyResult
	err      *ServiceError
	metadata map[string]any
	cache    bool
}

func (s *verificationServiceImpl) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, *ServiceError) {
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return nil, newError(ErrMissingReference, "", nil)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeFulfill
	}

	allowed, attempts := s.Limiter.Allow(ref)
	if !allowed {
		s.Audit.Log(AuditEntry{Reference: ref, Event: models.AuditRateLimited, Metadata: map[string]any{"attempts": attempts, "mode": string(mode)}})
		s.Metrics.ObserveOutcome(mode, string(models.AuditRateLimited))
		return nil, newError(ErrRateLimited, "", nil).withReference(ref)
	}

	userID, err := s.resolveUser(req.Token)
	if err != nil {
		s.Audit.Log(AuditEntry{Reference: ref, Event: models.AuditUnauthorized, Err: err})
		s.Metrics.ObserveOutcome(mode, string(models.AuditUnauthorized))
		return nil, newError(ErrUnauthorized, "", err)
	}

	if cached, ok := s.Cache.Get(ctx, ref); ok {
		return s.fromCache(ref, userID, mode, cached), nil
	}

	s.Audit.Log(AuditEntry{Reference: ref, Event: models.AuditVerificationStarted, UserID: userID, Metadata: map[string]any{"mode": string(mode), "attempts": attempts}})

	out := s.run(ctx, ref, userID, mode)

	entry := AuditEntry{Reference: ref, Event: out.event, UserID: userID, Metadata: out.metadata}
	if out.err != nil {
		entry.Err = out.err
	}
	if out.result != nil {
		amount := out.result.Amount
		entry.Amount = &amount
	}
	s.Audit.Log(entry)
	s.Metrics.ObserveOutcome(mode, string(out.event))

	if out.err != nil {
		logger := s.logger.With(zap.String("reference", ref), zap.String("code", out.err.Code))
		if out.err.StatusCode >= 500 {
			logger.Error("verification failed", zap.Error(out.err))
		} else {
			logger.Warn("verification rejected", zap.Error(out.err))
		}
		return nil, out.err
	}
	if out.cache {
		s.Cache.Set(ctx, ref, out.result)
	}
	return out.result, nil
}

// fromCache serves a repeat of a completed reference. The cached payload is
// the first call's, so the copy is marked as already processed.
func (s *verificationServiceImpl) fromCache(ref, userID string, mode Mode, cached *VerifyResult) *VerifyResult {
	hit := *cached
	hit.AlreadyProcessed = true

	event := models.AuditAlreadyFulfilled
	if hit.Type == models.IntentSubscription {
		event = models.AuditSubscriptionAlreadyApplied
	}
	amount := hit.Amount
	s.Audit.Log(AuditEntry{
		Reference: ref,
		Event:     event,
		UserID:    userID,
		Amount:    &amount,
		Metadata:  map[string]any{"mode": string(mode), "source": "cache"},
	})
	s.Metrics.ObserveOutcome(mode, string(event))
	return &hit
}

func (s *verificationServiceImpl) resolveUser(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("missing session credential")
	}
	return s.Identity.Decode(token)
}

func (s *verificationServiceImpl) run(ctx context.Context, ref, userID string, mode Mode) outcome {
	tx, err := s.Gateway.Verify(ctx, ref)
	switch {
	case errors.Is(err, providers.ErrPaymentNotSuccessful):
		out := outcome{
			event: models.AuditPaymentNotSuccessful,
			err:   newError(ErrPaymentNotSuccessful, "", err).withReference(ref),
		}
		if tx != nil {
			out.metadata = map[string]any{"gateway_status": tx.Status, "channel": tx.Channel}
		}
		return out
	case err != nil:
		return outcome{
			event: models.AuditGatewayUnavailable,
			err:   newError(ErrGatewayUnavailable, "", err).withReference(ref),
		}
	}

	intent, err := s.Extractor.Extract(tx.Metadata)
	if err != nil {
		return outcome{
			event:    models.AuditInvalidMetadata,
			err:      asServiceError(err, ErrInvalidMetadata).withReference(ref),
			metadata: map[string]any{"metadata_keys": metadataKeys(tx.Metadata)},
		}
	}

	switch in := intent.(type) {
	case models.SubscriptionIntent:
		return s.applySubscription(ctx, tx, userID, in)
	case models.OrderIntent:
		if mode == ModePoll {
			return s.pollOrder(ctx, tx)
		}
		return s.fulfillOrder(ctx, tx, userID, in)
	default:
		return outcome{
			event: models.AuditInvalidMetadata,
			err:   newError(ErrInternal, "Unhandled payment intent", nil).withReference(ref),
		}
	}
}

func (s *verificationServiceImpl) applySubscription(ctx context.Context, tx *models.GatewayTransaction, userID string, in models.SubscriptionIntent) outcome {
	ref := tx.Reference
	meta := map[string]any{"store_id": in.StoreID.String(), "plan": in.Plan}

	if err := s.Guard.EnsureSubscriptionExclusive(ctx, ref); err != nil {
		return failure(err, meta)
	}

	res, err := s.Subscription.ApplyPlan(ctx, in.StoreID, in.Plan, tx.Amount, ref)
	if err != nil {
		return failure(err, meta)
	}

	event := models.AuditSubscriptionUpdated
	if res.AlreadyApplied {
		event = models.AuditSubscriptionAlreadyApplied
	} else {
		s.publish(ctx, DomainEvent{
			Type:       EventSubscriptionActivated,
			Reference:  ref,
			OccurredAt: time.Now().UTC(),
			Payload: map[string]any{
				"store_id":      res.Store.ID.String(),
				"user_id":       userID,
				"plan":          res.Store.SubscriptionPlan,
				"expiry_date":   res.Store.SubscriptionExpiryDate,
				"product_limit": res.Store.ProductLimit,
				"amount":        tx.Amount.String(),
			},
		})
	}

	updated := true
	limit := res.Store.ProductLimit
	return outcome{
		event:    event,
		metadata: meta,
		cache:    true,
		result: &VerifyResult{
			Type:                models.IntentSubscription,
			Reference:           ref,
			PaymentStatus:       tx.Status,
			Amount:              tx.Amount,
			Currency:            tx.Currency,
			Channel:             tx.Channel,
			AlreadyProcessed:    res.AlreadyApplied,
			SubscriptionUpdated: &updated,
			StoreID:             res.Store.ID.String(),
			Plan:                res.Store.SubscriptionPlan,
			ExpiryDate:          res.Store.SubscriptionExpiryDate,
			ProductLimit:        &limit,
		},
	}
}

func (s *verificationServiceImpl) pollOrder(ctx context.Context, tx *models.GatewayTransaction) outcome {
	ref := tx.Reference
	if err := s.Guard.EnsureOrderExclusive(ctx, ref); err != nil {
		return failure(err, nil)
	}
	existing, err := s.Guard.FindExistingOrder(ctx, ref)
	if err != nil {
		return failure(err, nil)
	}
	if existing != nil {
		return outcome{
			event:  models.AuditAlreadyFulfilled,
			cache:  true,
			result: orderResult(tx, existing, true),
		}
	}

	exists := false
	return outcome{
		event: models.AuditOrderPending,
		result: &VerifyResult{
			Type:          models.IntentOrder,
			Reference:     ref,
			PaymentStatus: tx.Status,
			Amount:        tx.Amount,
			Currency:      tx.Currency,
			Channel:       tx.Channel,
			OrderExists:   &exists,
			Metadata:      tx.Metadata,
		},
	}
}

func (s *verificationServiceImpl) fulfillOrder(ctx context.Context, tx *models.GatewayTransaction, userID string, in models.OrderIntent) outcome {
	ref := tx.Reference
	if err := s.Guard.EnsureOrderExclusive(ctx, ref); err != nil {
		return failure(err, nil)
	}
	existing, err := s.Guard.FindExistingOrder(ctx, ref)
	if err != nil {
		return failure(err, nil)
	}
	if existing != nil {
		return outcome{event: models.AuditAlreadyFulfilled, cache: true, result: orderResult(tx, existing, true)}
	}

	pricing, err := s.Pricing.Verify(ctx, in.CartGroups, in.DeliveryFee)
	if err != nil {
		svcErr := asServiceError(err, ErrFulfillmentFailed).withReference(ref)
		event := models.AuditPricingFailed
		if svcErr.Code == ErrFulfillmentFailed.Code {
			event = models.AuditFulfillmentFailed
		}
		return outcome{event: event, err: svcErr, metadata: svcErr.Details}
	}

	if err := Reconcile(tx.Amount, pricing.GrandTotal, s.Tolerance); err != nil {
		svcErr := asServiceError(err, ErrAmountMismatch).withReference(ref)
		s.archiveMismatch(ctx, tx, userID, pricing)
		return outcome{event: models.AuditAmountMismatch, err: svcErr, metadata: svcErr.Details}
	}

	res, err := s.Fulfillment.Fulfill(ctx, FulfillmentRequest{
		Reference:      ref,
		UserID:         userID,
		PaymentMethod:  tx.Channel,
		Currency:       tx.Currency,
		AmountPaid:     tx.Amount,
		Pricing:        pricing,
		ShippingInfo:   in.ShippingInfo,
		PaymentDetails: paymentDetails(tx),
	})
	if err != nil {
		svcErr := asServiceError(err, ErrFulfillmentFailed).withReference(ref)
		event := models.AuditFulfillmentFailed
		if svcErr.Code == ErrInsufficientStock.Code {
			event = models.AuditPricingFailed
		}
		return outcome{event: event, err: svcErr, metadata: svcErr.Details}
	}

	if res.AlreadyFulfilled {
		return outcome{event: models.AuditAlreadyFulfilled, cache: true, result: orderResult(tx, &res.Order, true)}
	}

	main := res.Order.Main
	s.publish(ctx, DomainEvent{
		Type:       EventOrderFulfilled,
		Reference:  ref,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"order_id":      main.ID.String(),
			"order_number":  main.OrderNumber,
			"user_id":       userID,
			"grand_total":   main.GrandTotal.String(),
			"sub_order_ids": []uuid.UUID(main.SubOrderIDs),
		},
	})
	return outcome{
		event:    models.AuditOrderFulfilled,
		cache:    true,
		result:   orderResult(tx, &res.Order, false),
		metadata: map[string]any{"order_number": main.OrderNumber, "sub_orders": len(res.Order.SubOrders)},
	}
}

func (s *verificationServiceImpl) publish(ctx context.Context, event DomainEvent) {
	if err := s.Events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("reference", event.Reference),
			zap.Error(err))
	}
}

func (s *verificationServiceImpl) archiveMismatch(ctx context.Context, tx *models.GatewayTransaction, userID string, pricing *VerifiedPricing) {
	actx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	record := MismatchRecord{
		Reference:   tx.Reference,
		UserID:      userID,
		Paid:        tx.Amount,
		Expected:    pricing.GrandTotal,
		Difference:  tx.Amount.Sub(pricing.GrandTotal),
		Transaction: tx,
		Pricing:     pricing,
		RecordedAt:  time.Now().UTC(),
	}
	if err := s.Archive.ArchiveMismatch(actx, record); err != nil {
		s.logger.Error("failed to archive amount mismatch", zap.String("reference", tx.Reference), zap.Error(err))
	}
}

// failure turns an error from a pipeline step into an outcome, choosing the
// audit event from the error code.
func failure(err error, metadata map[string]any) outcome {
	svcErr := asServiceError(err, ErrFulfillmentFailed)
	event := models.AuditFulfillmentFailed
	switch svcErr.Code {
	case ErrIntentConflict.Code:
		event = models.AuditIntentConflict
	case ErrStoreNotFound.Code:
		event = models.AuditStoreNotFound
	case ErrInvalidMetadata.Code:
		event = models.AuditInvalidMetadata
	}
	return outcome{event: event, err: svcErr, metadata: metadata}
}

func orderResult(tx *models.GatewayTransaction, order *models.ExistingOrder, alreadyProcessed bool) *VerifyResult {
	exists := true
	grand := order.Main.GrandTotal
	fee := order.Main.DeliveryFee
	summaries := make([]SubOrderSummary, 0, len(order.SubOrders))
	for _, sub := range order.SubOrders {
		summaries = append(summaries, SubOrderSummary{
			ID:       sub.ID.String(),
			StoreID:  sub.StoreID.String(),
			Subtotal: sub.Subtotal,
			Status:   sub.Status,
			Items:    len(sub.Items),
		})
	}
	return &VerifyResult{
		Type:             models.IntentOrder,
		Reference:        tx.Reference,
		PaymentStatus:    tx.Status,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		Channel:          tx.Channel,
		OrderExists:      &exists,
		AlreadyProcessed: alreadyProcessed,
		OrderID:          order.Main.ID.String(),
		OrderNumber:      order.Main.OrderNumber,
		GrandTotal:       &grand,
		DeliveryFee:      &fee,
		SubOrderCount:    len(order.SubOrders),
		SubOrders:        summaries,
	}
}

func paymentDetails(tx *models.GatewayTransaction) map[string]any {
	details := map[string]any{
		"gateway":      "paystack",
		"reference":    tx.Reference,
		"channel":      tx.Channel,
		"currency":     tx.Currency,
		"amount_paid":  tx.Amount.String(),
		"amount_minor": tx.AmountMinor,
		"fees":         tx.Fees.String(),
	}
	if tx.PaidAt != nil {
		details["paid_at"] = tx.PaidAt.UTC().Format(time.RFC3339)
	}
	if tx.Customer != "" {
		details["customer_email"] = tx.Customer
	}
	return details
}
