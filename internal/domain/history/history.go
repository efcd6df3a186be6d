package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names a recorded lifecycle event.
type Action string

const (
	ActionCreated          Action = "created"
	ActionRenewed          Action = "renewed"
	ActionPaymentSucceeded Action = "payment_succeeded"
	ActionPaymentFailed    Action = "payment_failed"
	ActionStatusChanged    Action = "status_changed"
	ActionCancelled        Action = "cancelled"
	ActionPaused           Action = "paused"
	ActionResumed          Action = "resumed"
	ActionUpdated          Action = "updated"
	ActionDeleted          Action = "deleted"
)

// ActorSystem marks events produced by the renewal sweep or event consumers.
const ActorSystem = "system"

// Event is one append-only entry in a subscription's audit trail.
// It has no foreign key so it outlives the subscription.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	Action         Action         `json:"action"`
	Payload        map[string]any `json:"payload,omitempty"`
	Actor          string         `json:"actor"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewEvent builds an event stamped at now.
func NewEvent(subscriptionID uuid.UUID, action Action, actor string, payload map[string]any, now time.Time) Event {
	if actor == "" {
		actor = ActorSystem
	}
	return Event{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Action:         action,
		Payload:        payload,
		Actor:          actor,
		CreatedAt:      now.UTC(),
	}
}

// Repository is the append-only history store.
type Repository interface {
	Append(ctx context.Context, e Event) error

	// ListBySubscription returns events oldest first. Zero from/to leave the range open.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) ([]Event, error)
	CountByActionSince(ctx context.Context, action Action, since time.Time) (int64, error)
}
