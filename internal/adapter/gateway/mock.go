package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Payment-method tokens that make MockGateway fail.
const (
	MockTokenDeclined          = "pm_card_declined"
	MockTokenInsufficientFunds = "pm_card_insufficient_funds"
	MockTokenTimeout           = "pm_card_timeout"
	MockTokenExternalError     = "pm_card_external_error"
)

// MockGateway is a development implementation of PaymentGateway.
// It simulates a processor without requiring a real account.
type MockGateway struct {
	logger  *zap.Logger
	charges atomic.Int64
}

// NewMockGateway creates a new mock gateway for development.
func NewMockGateway(logger *zap.Logger) *MockGateway {
	return &MockGateway{logger: logger}
}

// Charge simulates a one-off payment.
func (m *MockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	m.charges.Add(1)

	switch req.PaymentMethod {
	case MockTokenDeclined:
		m.logger.Info("[MOCK GATEWAY] charge declined", zap.String("subscription_id", req.SubscriptionID.String()))
		return ChargeResult{}, NewTerminal("charge", CodeDeclined, "your card was declined")
	case MockTokenInsufficientFunds:
		m.logger.Info("[MOCK GATEWAY] insufficient funds", zap.String("subscription_id", req.SubscriptionID.String()))
		return ChargeResult{}, NewRetryable("charge", CodeInsufficientFunds, "insufficient funds")
	case MockTokenTimeout:
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	}

	chargeID := fmt.Sprintf("ch_mock_%s", uuid.New().String()[:8])
	m.logger.Info("[MOCK GATEWAY] charge succeeded",
		zap.String("charge_id", chargeID),
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.String("currency", req.Currency),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return ChargeResult{ChargeID: chargeID}, nil
}

// CreateExternalSubscription simulates registering the subscription and returns a mock id.
func (m *MockGateway) CreateExternalSubscription(ctx context.Context, req ExternalSubscriptionRequest) (string, error) {
	if req.PaymentMethod == MockTokenExternalError {
		return "", NewTerminal("create_subscription", CodeProcessingError, "processor rejected the subscription")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	externalID := fmt.Sprintf("sub_mock_%s", uuid.New().String()[:8])
	m.logger.Info("[MOCK GATEWAY] subscription created",
		zap.String("external_subscription_id", externalID),
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("customer_email", req.CustomerEmail),
		zap.String("plan", req.PlanName),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.String("currency", req.Currency),
	)
	return externalID, nil
}

// CancelExternalSubscription simulates cancelling at the processor.
func (m *MockGateway) CancelExternalSubscription(ctx context.Context, externalID string) error {
	m.logger.Info("[MOCK GATEWAY] subscription cancelled",
		zap.String("external_subscription_id", externalID),
	)
	return nil
}

// Charges returns how many charges were attempted.
func (m *MockGateway) Charges() int64 { return m.charges.Load() }
