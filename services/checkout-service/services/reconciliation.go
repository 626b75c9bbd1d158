package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	aws_pkg "github.com/yashrajoria/marketplace-backend/pkg/aws"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// MismatchArchive keeps the evidence for payments whose amount did not match
// the computed order total.
type MismatchArchive interface {
	ArchiveMismatch(ctx context.Context, record MismatchRecord) error
}

// MismatchRecord is what support needs to reconcile a payment by hand.
type MismatchRecord struct {
	Reference   string                     `json:"reference"`
	UserID      string                     `json:"user_id"`
	Paid        decimal.Decimal            `json:"paid"`
	Expected    decimal.Decimal            `json:"expected"`
	Difference  decimal.Decimal            `json:"difference"`
	Transaction *models.GatewayTransaction `json:"transaction"`
	Pricing     *VerifiedPricing           `json:"pricing"`
	RecordedAt  time.Time                  `json:"recorded_at"`
}

// S3MismatchArchive writes one JSON document per reference under
// amount-mismatch/YYYY/MM/DD/.
type S3MismatchArchive struct {
	store aws_pkg.ObjectWriter
}

func NewS3MismatchArchive(store aws_pkg.ObjectWriter) *S3MismatchArchive {
	return &S3MismatchArchive{store: store}
}

func (a *S3MismatchArchive) ArchiveMismatch(ctx context.Context, record MismatchRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("amount-mismatch/%s/%s.json", record.RecordedAt.UTC().Format("2006/01/02"), record.Reference)
	return a.store.PutJSON(ctx, key, body)
}

// NoopMismatchArchive discards records.
type NoopMismatchArchive struct{}

func (NoopMismatchArchive) ArchiveMismatch(context.Context, MismatchRecord) error { return nil }
