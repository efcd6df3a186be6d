package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/kafka"
)

type recordingProducer struct {
	topics []string
	events []kafka.CloudEvent
	err    error
}

func (p *recordingProducer) PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}

func TestTransitionPublisher_PublishesCloudEvent(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewTransitionPublisher(producer, zap.NewNop())

	subID := uuid.New()
	tr := application.Transition{
		EventID:        uuid.New(),
		SubscriptionID: subID,
		CustomerID:     uuid.New(),
		Action:         history.ActionRenewed,
		From:           subscription.StatusActive,
		To:             subscription.StatusActive,
		Amount:         decimal.RequireFromString("19.99"),
		Currency:       "USD",
		Payload:        map[string]any{"charge_id": "ch_1"},
		Actor:          history.ActorSystem,
		OccurredAt:     time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub.OnTransition(ctx, tr)

	require.Len(t, producer.events, 1)
	assert.Equal(t, TopicSubscriptionEvents, producer.topics[0])
	ce := producer.events[0]
	assert.Equal(t, "subscription.renewed", ce.Type)
	assert.Equal(t, Source, ce.Source)
	assert.Equal(t, subID.String(), ce.Subject)

	var got SubscriptionEvent
	require.NoError(t, ce.ParseData(&got))
	assert.Equal(t, subID, got.SubscriptionID)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, "19.99", got.Amount)
	assert.Equal(t, "ch_1", got.Payload["charge_id"])
}

func TestTransitionPublisher_SwallowsErrors(t *testing.T) {
	producer := &recordingProducer{err: errors.New("broker down")}
	pub := NewTransitionPublisher(producer, zap.NewNop())

	assert.NotPanics(t, func() {
		pub.OnTransition(context.Background(), application.Transition{Action: history.ActionCancelled})
	})
	assert.Len(t, producer.events, 1)
}

type closerFunc func(ctx context.Context, email, reason string) error

func (f closerFunc) CloseCustomerAccount(ctx context.Context, email, reason string) error {
	return f(ctx, email, reason)
}

func message(t *testing.T, eventType string, data any) kafkago.Message {
	t.Helper()
	ce, err := kafka.NewCloudEvent("service-user", eventType, data)
	require.NoError(t, err)
	value, err := json.Marshal(ce)
	require.NoError(t, err)
	return kafkago.Message{Topic: TopicUserEvents, Value: value}
}

func TestUserEventConsumer_AccountClosed(t *testing.T) {
	var gotEmail, gotReason string
	c := &UserEventConsumer{
		closer: closerFunc(func(ctx context.Context, email, reason string) error {
			gotEmail, gotReason = email, reason
			return nil
		}),
		logger: zap.NewNop(),
	}

	err := c.handleMessage(context.Background(), message(t, UserAccountClosed, AccountClosedEvent{
		UserID: uuid.New(), Email: "ada@example.com", Reason: "gdpr_request",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", gotEmail)
	assert.Equal(t, "gdpr_request", gotReason)
}

func TestUserEventConsumer_IgnoresUnknownAndMissing(t *testing.T) {
	calls := 0
	c := &UserEventConsumer{
		closer: closerFunc(func(ctx context.Context, email, reason string) error {
			calls++
			return apperr.NewNotFoundError("customer", email)
		}),
		logger: zap.NewNop(),
	}
	ctx := context.Background()

	require.NoError(t, c.handleMessage(ctx, message(t, "user.registered", map[string]string{"email": "x@example.com"})))
	assert.Equal(t, 0, calls)

	require.NoError(t, c.handleMessage(ctx, message(t, UserAccountClosed, AccountClosedEvent{Email: "ghost@example.com"})))
	assert.Equal(t, 1, calls, "an unknown customer is not an error")

	require.NoError(t, c.handleMessage(ctx, message(t, UserAccountClosed, AccountClosedEvent{})))
	assert.Equal(t, 1, calls)

	assert.Error(t, c.handleMessage(ctx, kafkago.Message{Value: []byte("not json")}))
}
