package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

const (
	defaultPaystackBaseURL = "https://api.paystack.co"
	paystackSuccessStatus  = "success"
	maxResponseBytes       = 1 << 20
)

// LatencyObserver receives the duration and outcome of every gateway call.
type LatencyObserver func(outcome string, d time.Duration)

// PaystackClient implements PaymentGateway against the Paystack
// transaction-verify API.
type PaystackClient struct {
	baseURL    string
	secretKey  string
	minorUnit  decimal.Decimal
	httpClient *http.Client
	observe    LatencyObserver
}

// NewPaystackClient creates a client. minorUnitFactor is the number of minor
// units per major unit of the settlement currency (100 for kobo, cents).
func NewPaystackClient(baseURL, secretKey string, timeout time.Duration, minorUnitFactor int64) *PaystackClient {
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}
	if minorUnitFactor <= 0 {
		minorUnitFactor = 100
	}
	return &PaystackClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretKey: secretKey,
		minorUnit: decimal.NewFromInt(minorUnitFactor),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithLatencyObserver registers fn to be called after every Verify.
func (p *PaystackClient) WithLatencyObserver(fn LatencyObserver) *PaystackClient {
	p.observe = fn
	return p
}

// ---- Paystack API response structs ----

type paystackEnvelope struct {
	Status  bool                 `json:"status"`
	Message string               `json:"message"`
	Data    *paystackTransaction `json:"data"`
}

type paystackTransaction struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	Fees      *int64          `json:"fees"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Verify calls GET /transaction/verify/{reference}.
func (p *PaystackClient) Verify(ctx context.Context, reference string) (*models.GatewayTransaction, error) {
	start := time.Now()
	tx, err := p.verify(ctx, reference)
	if p.observe != nil {
		p.observe(outcomeLabel(err), time.Since(start))
	}
	return tx, err
}

func (p *PaystackClient) verify(ctx context.Context, reference string) (*models.GatewayTransaction, error) {
	var env paystackEnvelope
	if err := p.doRequest(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), &env); err != nil {
		return nil, err
	}
	if !env.Status || env.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, env.Message)
	}

	tx, err := p.toTransaction(env.Data)
	if err != nil {
		return nil, err
	}
	switch tx.Reference {
	case "":
		tx.Reference = reference
	case reference:
	default:
		// every idempotency key downstream is the reference that was asked for
		return nil, fmt.Errorf("%w: gateway returned reference %q for %q", ErrGatewayUnavailable, tx.Reference, reference)
	}
	if tx.Status != paystackSuccessStatus {
		return tx, fmt.Errorf("%w: gateway status %q", ErrPaymentNotSuccessful, tx.Status)
	}
	return tx, nil
}

func (p *PaystackClient) toTransaction(d *paystackTransaction) (*models.GatewayTransaction, error) {
	metadata, err := decodeMetadata(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	tx := &models.GatewayTransaction{
		Reference:   d.Reference,
		Status:      strings.ToLower(d.Status),
		AmountMinor: d.Amount,
		Amount:      decimal.NewFromInt(d.Amount).Div(p.minorUnit),
		Fees:        decimal.Zero,
		Currency:    d.Currency,
		Channel:     d.Channel,
		Customer:    d.Customer.Email,
		Metadata:    metadata,
	}
	if d.Fees != nil {
		tx.Fees = decimal.NewFromInt(*d.Fees).Div(p.minorUnit)
	}
	if d.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, d.PaidAt); err == nil {
			tx.PaidAt = &t
		}
	}
	return tx, nil
}

// decodeMetadata accepts an object, a JSON string holding an object, or an
// empty value. Numbers are kept as json.Number.
func decodeMetadata(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode metadata string: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}
	if raw[0] != '{' {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// doRequest executes an authenticated request and decodes a 2xx JSON body
// into out. Every failure is reported as ErrGatewayUnavailable.
func (p *PaystackClient) doRequest(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, truncate(body, 256))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPaymentNotSuccessful):
		return "not_successful"
	default:
		return "unavailable"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
