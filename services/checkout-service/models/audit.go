package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AuditEvent names a pipeline transition recorded in the audit trail.
type AuditEvent string

const (
	AuditVerificationStarted        AuditEvent = "verification_started"
	AuditRateLimited                AuditEvent = "rate_limited"
	AuditUnauthorized               AuditEvent = "unauthorized"
	AuditGatewayUnavailable         AuditEvent = "gateway_unavailable"
	AuditPaymentNotSuccessful       AuditEvent = "payment_not_successful"
	AuditInvalidMetadata            AuditEvent = "invalid_metadata"
	AuditPricingFailed              AuditEvent = "pricing_failed"
	AuditAmountMismatch             AuditEvent = "amount_mismatch"
	AuditAlreadyFulfilled           AuditEvent = "already_fulfilled"
	AuditFulfillmentFailed          AuditEvent = "fulfillment_failed"
	AuditOrderFulfilled             AuditEvent = "order_fulfilled"
	AuditOrderPending               AuditEvent = "order_pending"
	AuditSubscriptionUpdated        AuditEvent = "subscription_updated"
	AuditSubscriptionAlreadyApplied AuditEvent = "subscription_already_applied"
	AuditStoreNotFound              AuditEvent = "store_not_found"
	AuditIntentConflict             AuditEvent = "intent_conflict"
)

// AuditLog is an append-only record of one pipeline outcome.
type AuditLog struct {
	ID        uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	Reference string              `gorm:"type:varchar(128);not null;index" json:"reference"`
	Event     AuditEvent          `gorm:"type:varchar(64);not null;index" json:"event"`
	UserID    string              `gorm:"type:varchar(64)" json:"user_id,omitempty"`
	Amount    decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"amount,omitempty"`
	Error     string              `gorm:"type:text" json:"error,omitempty"`
	Metadata  datatypes.JSONMap   `json:"metadata,omitempty"`
	CreatedAt time.Time           `gorm:"autoCreateTime" json:"created_at"`
}
