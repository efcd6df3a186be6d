package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
)

// Transition describes one recorded lifecycle event after it was persisted.
type Transition struct {
	EventID        uuid.UUID
	SubscriptionID uuid.UUID
	CustomerID     uuid.UUID
	Action         history.Action
	From           subscription.Status
	To             subscription.Status
	Amount         decimal.Decimal
	Currency       string
	Payload        map[string]any
	Actor          string
	OccurredAt     time.Time
}

// TransitionObserver is notified after every recorded transition.
// Implementations must not block for long and handle their own errors.
type TransitionObserver interface {
	OnTransition(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to TransitionObserver.
type ObserverFunc func(ctx context.Context, t Transition)

// OnTransition implements TransitionObserver.
func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }
