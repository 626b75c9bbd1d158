package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError represents a typed error with an HTTP status code and a
// stable code callers can branch on.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	Reference  string
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError with the same Code, so the sentinels below can
// be used with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code
}

// Retryable reports whether calling verify again with the same reference may
// succeed.
func (e *ServiceError) Retryable() bool {
	switch e.Code {
	case ErrRateLimited.Code, ErrGatewayUnavailable.Code, ErrFulfillmentFailed.Code:
		return true
	}
	return false
}

var (
	ErrMissingReference     = &ServiceError{StatusCode: http.StatusBadRequest, Code: "MISSING_REFERENCE", Message: "Payment reference is required"}
	ErrRateLimited          = &ServiceError{StatusCode: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "Too many verification attempts for this reference"}
	ErrUnauthorized         = &ServiceError{StatusCode: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Authentication required"}
	ErrGatewayUnavailable   = &ServiceError{StatusCode: http.StatusInternalServerError, Code: "GATEWAY_UNAVAILABLE", Message: "Payment gateway is unavailable"}
	ErrPaymentNotSuccessful = &ServiceError{StatusCode: http.StatusBadRequest, Code: "PAYMENT_NOT_SUCCESSFUL", Message: "Payment was not successful"}
	ErrInvalidMetadata      = &ServiceError{StatusCode: http.StatusBadRequest, Code: "INVALID_METADATA", Message: "Payment metadata is invalid"}
	ErrProductUnavailable   = &ServiceError{StatusCode: http.StatusBadRequest, Code: "PRODUCT_UNAVAILABLE", Message: "Product is no longer available"}
	ErrInsufficientStock    = &ServiceError{StatusCode: http.StatusBadRequest, Code: "INSUFFICIENT_STOCK", Message: "Insufficient stock"}
	ErrAmountMismatch       = &ServiceError{StatusCode: http.StatusBadRequest, Code: "AMOUNT_MISMATCH", Message: "Paid amount does not match order total"}
	ErrFulfillmentFailed    = &ServiceError{StatusCode: http.StatusInternalServerError, Code: "FULFILLMENT_FAILED", Message: "Order could not be created, please retry"}
	ErrStoreNotFound        = &ServiceError{StatusCode: http.StatusNotFound, Code: "STORE_NOT_FOUND", Message: "Store not found"}
	ErrIntentConflict       = &ServiceError{StatusCode: http.StatusConflict, Code: "INTENT_CONFLICT", Message: "Payment reference was already used for a different purpose"}
	ErrInternal             = &ServiceError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "Internal server error"}
)

// newError derives an error from a sentinel. An empty message keeps the
// sentinel's message.
func newError(base *ServiceError, message string, err error) *ServiceError {
	if message == "" {
		message = base.Message
	}
	return &ServiceError{StatusCode: base.StatusCode, Code: base.Code, Message: message, Err: err}
}

func (e *ServiceError) withReference(ref string) *ServiceError {
	e.Reference = ref
	return e
}

func (e *ServiceError) withDetails(details map[string]any) *ServiceError {
	e.Details = details
	return e
}

// asServiceError converts err into a ServiceError, falling back to fallback
// for errors that are not already typed.
func asServiceError(err error, fallback *ServiceError) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return newError(fallback, "", err)
}
