package events

import (
	"context"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/kafka"
)

// AccountCloser cancels a customer's subscriptions and deactivates the customer.
type AccountCloser interface {
	CloseCustomerAccount(ctx context.Context, email, reason string) error
}

// UserEventConsumer listens to user events and closes subscription accounts.
type UserEventConsumer struct {
	consumer *kafka.Consumer
	closer   AccountCloser
	logger   *zap.Logger
}

// NewUserEventConsumer creates a new consumer for user events.
func NewUserEventConsumer(
	brokers []string,
	groupID string,
	closer AccountCloser,
	logger *zap.Logger,
) *UserEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, TopicUserEvents, logger)
	return &UserEventConsumer{
		consumer: consumer,
		closer:   closer,
		logger:   logger,
	}
}

// Start begins consuming user events. It blocks until the context is cancelled.
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// handleMessage routes incoming Kafka messages to the appropriate handler.
func (c *UserEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from user topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return err
	}

	c.logger.Info("received user event",
		zap.String("type", cloudEvent.Type),
		zap.String("id", cloudEvent.ID),
	)

	switch {
	case strings.EqualFold(cloudEvent.Type, UserAccountClosed):
		return c.handleAccountClosed(ctx, cloudEvent)

	default:
		c.logger.Debug("ignoring unhandled user event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

// handleAccountClosed processes an AccountClosedEvent.
func (c *UserEventConsumer) handleAccountClosed(ctx context.Context, ce kafka.CloudEvent) error {
	var event AccountClosedEvent
	if err := ce.ParseData(&event); err != nil {
		c.logger.Error("failed to parse AccountClosedEvent data", zap.Error(err))
		return err
	}
	if strings.TrimSpace(event.Email) == "" {
		c.logger.Warn("account closed event without email", zap.String("user_id", event.UserID.String()))
		return nil
	}

	err := c.closer.CloseCustomerAccount(ctx, event.Email, event.Reason)
	if apperr.IsNotFound(err) {
		c.logger.Debug("closed account has no customer record", zap.String("user_id", event.UserID.String()))
		return nil
	}
	return err
}

// Close closes the underlying Kafka consumer.
func (c *UserEventConsumer) Close() error {
	return c.consumer.Close()
}
