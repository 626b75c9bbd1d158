package providers

import (
	"context"
	"errors"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

var (
	// ErrGatewayUnavailable covers transport failures, timeouts, non-2xx
	// answers and bodies that cannot be decoded. Callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentNotSuccessful means the gateway answered and the payment was
	// not captured. It is terminal for the reference.
	ErrPaymentNotSuccessful = errors.New("payment not successful")
)

// PaymentGateway confirms a payment reference with the processor.
// When the payment exists but did not succeed, Verify returns the transaction
// together with ErrPaymentNotSuccessful.
type PaymentGateway interface {
	Verify(ctx context.Context, reference string) (*models.GatewayTransaction, error)
}
