package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GatewayTransaction is the processor's view of a payment, with amounts
// already converted to major currency units.
type GatewayTransaction struct {
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	AmountMinor int64           `json:"amount_minor"`
	Amount      decimal.Decimal `json:"amount"`
	Fees        decimal.Decimal `json:"fees"`
	Currency    string          `json:"currency"`
	Channel     string          `json:"channel"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	Customer    string          `json:"customer,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ExistingOrder is what a prior successful checkout left behind for a
// reference.
type ExistingOrder struct {
	Main      MainOrder
	SubOrders []SubOrder
}
