package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChargeRequest asks the processor to take one payment.
type ChargeRequest struct {
	SubscriptionID uuid.UUID
	CustomerID     uuid.UUID
	PaymentMethod  string
	AmountMinor    int64
	Currency       string

	// IdempotencyKey is stable for one billing cycle of one subscription.
	IdempotencyKey string
}

// ChargeResult is returned for a successful charge.
type ChargeResult struct {
	ChargeID string
}

// ExternalSubscriptionRequest registers a subscription with the processor.
type ExternalSubscriptionRequest struct {
	SubscriptionID uuid.UUID
	CustomerID     uuid.UUID
	CustomerEmail  string
	PaymentMethod  string
	PlanName       string
	AmountMinor    int64
	Currency       string
	IntervalUnit   string
	IntervalCount  int
	TrialEndAt     *time.Time
}

// PaymentGateway is the processor capability the lifecycle engine depends on.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	CreateExternalSubscription(ctx context.Context, req ExternalSubscriptionRequest) (string, error)
	CancelExternalSubscription(ctx context.Context, externalID string) error
}

// Error codes reported by gateways.
const (
	CodeDeclined          = "card_declined"
	CodeInsufficientFunds = "insufficient_funds"
	CodeTimeout           = "timeout"
	CodeCircuitOpen       = "circuit_open"
	CodeProcessingError   = "processing_error"
)

// GatewayError is a processor failure. Retryable failures lead to dunning, terminal ones end billing.
type GatewayError struct {
	Op        string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Message == "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Op, e.Code, kind)
	}
	return fmt.Sprintf("gateway %s: %s: %s (%s)", e.Op, e.Code, e.Message, kind)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewRetryable builds a retryable GatewayError.
func NewRetryable(op, code, message string) *GatewayError {
	return &GatewayError{Op: op, Code: code, Message: message, Retryable: true}
}

// NewTerminal builds a terminal GatewayError.
func NewTerminal(op, code, message string) *GatewayError {
	return &GatewayError{Op: op, Code: code, Message: message}
}

// IsRetryable reports whether err should be retried later.
// Only an explicit terminal GatewayError is final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return AsGatewayError("", err).Retryable
}

// AsGatewayError normalises any error returned by a gateway call.
// Errors that are not GatewayErrors are treated as transport failures and are retryable.
func AsGatewayError(op string, err error) *GatewayError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &GatewayError{Op: op, Code: CodeTimeout, Message: "gateway call timed out", Retryable: true, Err: err}
	}
	return &GatewayError{Op: op, Code: CodeProcessingError, Message: err.Error(), Retryable: true, Err: err}
}
