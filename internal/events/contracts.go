package events

import (
	"time"

	"github.com/google/uuid"
)

// Kafka topics.
const (
	TopicSubscriptionEvents = "subscription.events"
	TopicUserEvents         = "user.events"
)

// Event source and types.
const (
	Source = "service-subscription"

	// SubscriptionEventPrefix is followed by the history action, e.g. "subscription.renewed".
	SubscriptionEventPrefix = "subscription."

	UserAccountClosed = "user.account_closed"
)

// SubscriptionEvent is published for every recorded subscription transition.
type SubscriptionEvent struct {
	EventID        uuid.UUID      `json:"event_id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	CustomerID     uuid.UUID      `json:"customer_id"`
	Action         string         `json:"action"`
	OldStatus      string         `json:"old_status,omitempty"`
	Status         string         `json:"status"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	Payload        map[string]any `json:"payload,omitempty"`
	Actor          string         `json:"actor"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// AccountClosedEvent is consumed from the user service when an account is closed.
type AccountClosedEvent struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Reason string    `json:"reason"`
}
