package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
)

// DueQuery selects subscriptions of one status whose scheduled date has passed.
// Results are ordered by id; AfterID continues from the previous batch.
type DueQuery struct {
	Status Status

	// DueBefore bounds trial_end_at for trialing and next_payment_at otherwise.
	DueBefore *time.Time

	// AttemptBefore keeps rows whose last_payment_attempt_at is null or not after it.
	AttemptBefore *time.Time

	AfterID uuid.UUID
	Limit   int
}

// RevenueRow is the summed amount of subscriptions sharing a currency and interval.
type RevenueRow struct {
	Currency string
	Interval money.Interval
	Total    decimal.Decimal
}

// SubscriptionRepository defines persistence operations for subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, s *Subscription) error

	// Update expects the caller to have called IncrementVersion and writes only if the
	// stored version is still the previous one.
	Update(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, id uuid.UUID) error

	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Subscription, error)
	FindByStatus(ctx context.Context, status Status, page, limit int) ([]*Subscription, int64, error)
	List(ctx context.Context, page, limit int) ([]*Subscription, int64, error)
	FindDue(ctx context.Context, q DueQuery) ([]*Subscription, error)

	CountByCustomerAndStatuses(ctx context.Context, customerID uuid.UUID, statuses []Status) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	RevenueByInterval(ctx context.Context, status Status) ([]RevenueRow, error)
}
