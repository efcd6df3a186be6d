package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/kafka"
)

const publishTimeout = 5 * time.Second

// EventPublisher is the part of the Kafka producer the publisher needs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// TransitionPublisher forwards recorded transitions to the subscription topic.
// Publishing is best effort; the history table stays the source of truth.
type TransitionPublisher struct {
	producer EventPublisher
	logger   *zap.Logger
}

// NewTransitionPublisher creates a new TransitionPublisher.
func NewTransitionPublisher(producer EventPublisher, logger *zap.Logger) *TransitionPublisher {
	return &TransitionPublisher{producer: producer, logger: logger}
}

// OnTransition implements application.TransitionObserver.
func (p *TransitionPublisher) OnTransition(ctx context.Context, t application.Transition) {
	event := SubscriptionEvent{
		EventID:        t.EventID,
		SubscriptionID: t.SubscriptionID,
		CustomerID:     t.CustomerID,
		Action:         string(t.Action),
		OldStatus:      string(t.From),
		Status:         string(t.To),
		Amount:         t.Amount.String(),
		Currency:       t.Currency,
		Payload:        t.Payload,
		Actor:          t.Actor,
		OccurredAt:     t.OccurredAt,
	}

	ce, err := kafka.NewCloudEvent(Source, SubscriptionEventPrefix+string(t.Action), event)
	if err != nil {
		p.logger.Error("failed to build subscription event", zap.Error(err))
		return
	}
	ce.Subject = t.SubscriptionID.String()

	// The request may already be finished; the event must still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.producer.PublishEvent(pubCtx, TopicSubscriptionEvents, ce); err != nil {
		p.logger.Warn("failed to publish subscription event",
			zap.String("subscription_id", t.SubscriptionID.String()),
			zap.String("type", ce.Type),
			zap.Error(err),
		)
	}
}
