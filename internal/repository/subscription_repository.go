package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	subDomain "github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// SubscriptionModel is the GORM model for the subscriptions table.
type SubscriptionModel struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey"`
	CustomerID             uuid.UUID       `gorm:"type:uuid;not null;index"`
	PlanName               string          `gorm:"type:varchar(120);not null"`
	PlanDescription        string          `gorm:"type:text"`
	Amount                 decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Currency               string          `gorm:"type:varchar(3);not null"`
	IntervalUnit           string          `gorm:"type:varchar(10);not null"`
	IntervalCount          int             `gorm:"not null;default:1"`
	Status                 string          `gorm:"type:varchar(20);not null;index"`
	TrialEndAt             *time.Time      `gorm:"type:timestamptz"`
	NextPaymentAt          *time.Time      `gorm:"type:timestamptz;index"`
	CancelledAt            *time.Time      `gorm:"type:timestamptz"`
	PausedAt               *time.Time      `gorm:"type:timestamptz"`
	PaymentMethod          string          `gorm:"type:varchar(255);not null"`
	CouponCode             string          `gorm:"type:varchar(50)"`
	ExternalSubscriptionID *string         `gorm:"type:varchar(255)"`
	FailedPaymentAttempts  int             `gorm:"not null;default:0"`
	LastPaymentAttemptAt   *time.Time      `gorm:"type:timestamptz"`
	LastPaymentAt          *time.Time      `gorm:"type:timestamptz"`
	Version                int64           `gorm:"not null;default:1"`
	CreatedAt              time.Time       `gorm:"type:timestamptz;not null"`
	UpdatedAt              time.Time       `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (SubscriptionModel) TableName() string { return "subscriptions" }

// GormSubscriptionRepository implements SubscriptionRepository using GORM.
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository.
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Save persists a new subscription.
func (r *GormSubscriptionRepository) Save(ctx context.Context, s *subDomain.Subscription) error {
	return r.db.WithContext(ctx).Create(toSubscriptionModel(s)).Error
}

// Update persists changes with optimistic locking. Every column is written so cleared fields stay cleared.
func (r *GormSubscriptionRepository) Update(ctx context.Context, s *subDomain.Subscription) error {
	model := toSubscriptionModel(s)
	previousVersion := s.Version() - 1

	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ? AND version = ?", model.ID, previousVersion).
		Select("*").
		Omit("id", "created_at", "customer_id").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewConflictError("subscription was modified by another transaction")
	}
	return nil
}

// Delete removes a subscription row. History rows are untouched.
func (r *GormSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&SubscriptionModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewNotFoundError("Subscription", id.String())
	}
	return nil
}

// FindByID returns a subscription by ID.
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*subDomain.Subscription, error) {
	var model SubscriptionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("Subscription", id.String())
		}
		return nil, err
	}
	return toSubscriptionDomain(&model), nil
}

// FindByCustomer returns every subscription of a customer, newest first.
func (r *GormSubscriptionRepository) FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*subDomain.Subscription, error) {
	var models []SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return toSubscriptionDomains(models), nil
}

// FindByStatus returns a page of subscriptions with the given status.
func (r *GormSubscriptionRepository) FindByStatus(ctx context.Context, status subDomain.Status, page, limit int) ([]*subDomain.Subscription, int64, error) {
	return r.paginate(ctx, r.db.WithContext(ctx).Model(&SubscriptionModel{}).Where("status = ?", string(status)), page, limit)
}

// List returns a page of all subscriptions (admin).
func (r *GormSubscriptionRepository) List(ctx context.Context, page, limit int) ([]*subDomain.Subscription, int64, error) {
	return r.paginate(ctx, r.db.WithContext(ctx).Model(&SubscriptionModel{}), page, limit)
}

func (r *GormSubscriptionRepository) paginate(ctx context.Context, q *gorm.DB, page, limit int) ([]*subDomain.Subscription, int64, error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []SubscriptionModel
	offset := (page - 1) * limit
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return toSubscriptionDomains(models), total, nil
}

// FindDue returns the next batch of subscriptions matching q, ordered by id.
func (r *GormSubscriptionRepository) FindDue(ctx context.Context, q subDomain.DueQuery) ([]*subDomain.Subscription, error) {
	tx := r.db.WithContext(ctx).Where("status = ?", string(q.Status))
	if q.DueBefore != nil {
		if q.Status == subDomain.StatusTrialing {
			tx = tx.Where("trial_end_at <= ?", *q.DueBefore)
		} else {
			tx = tx.Where("next_payment_at <= ?", *q.DueBefore)
		}
	}
	if q.AttemptBefore != nil {
		tx = tx.Where("(last_payment_attempt_at IS NULL OR last_payment_attempt_at <= ?)", *q.AttemptBefore)
	}
	if q.AfterID != uuid.Nil {
		tx = tx.Where("id > ?", q.AfterID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	var models []SubscriptionModel
	if err := tx.Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return toSubscriptionDomains(models), nil
}

// CountByCustomerAndStatuses counts a customer's subscriptions in any of statuses.
func (r *GormSubscriptionRepository) CountByCustomerAndStatuses(ctx context.Context, customerID uuid.UUID, statuses []subDomain.Status) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("customer_id = ? AND status IN ?", customerID, statusStrings(statuses)).
		Count(&count).Error
	return count, err
}

// CountByStatus returns the number of subscriptions per status.
func (r *GormSubscriptionRepository) CountByStatus(ctx context.Context) (map[subDomain.Status]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&SubscriptionModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, err
	}

	counts := make(map[subDomain.Status]int64, len(results))
	for _, sc := range results {
		counts[subDomain.Status(sc.Status)] = sc.Count
	}
	return counts, nil
}

// RevenueByInterval sums amounts of subscriptions in status grouped by currency and interval.
func (r *GormSubscriptionRepository) RevenueByInterval(ctx context.Context, status subDomain.Status) ([]subDomain.RevenueRow, error) {
	type revenueRow struct {
		Currency      string
		IntervalUnit  string
		IntervalCount int
		Total         decimal.Decimal
	}
	var results []revenueRow
	if err := r.db.WithContext(ctx).Model(&SubscriptionModel{}).
		Select("currency, interval_unit, interval_count, COALESCE(SUM(amount), 0) as total").
		Where("status = ?", string(status)).
		Group("currency, interval_unit, interval_count").
		Find(&results).Error; err != nil {
		return nil, err
	}

	rows := make([]subDomain.RevenueRow, len(results))
	for i, rr := range results {
		rows[i] = subDomain.RevenueRow{
			Currency: rr.Currency,
			Interval: money.Interval{Unit: money.IntervalUnit(rr.IntervalUnit), Count: rr.IntervalCount},
			Total:    rr.Total,
		}
	}
	return rows, nil
}

func statusStrings(statuses []subDomain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toSubscriptionModel(s *subDomain.Subscription) *SubscriptionModel {
	st := s.Snapshot()
	var externalID *string
	if st.ExternalSubscriptionID != "" {
		id := st.ExternalSubscriptionID
		externalID = &id
	}
	return &SubscriptionModel{
		ID:                     st.ID,
		CustomerID:             st.CustomerID,
		PlanName:               st.PlanName,
		PlanDescription:        st.PlanDescription,
		Amount:                 st.Amount,
		Currency:               st.Currency,
		IntervalUnit:           string(st.Interval.Unit),
		IntervalCount:          st.Interval.Count,
		Status:                 string(st.Status),
		TrialEndAt:             st.TrialEndAt,
		NextPaymentAt:          st.NextPaymentAt,
		CancelledAt:            st.CancelledAt,
		PausedAt:               st.PausedAt,
		PaymentMethod:          st.PaymentMethod,
		CouponCode:             st.CouponCode,
		ExternalSubscriptionID: externalID,
		FailedPaymentAttempts:  st.FailedPaymentAttempts,
		LastPaymentAttemptAt:   st.LastPaymentAttemptAt,
		LastPaymentAt:          st.LastPaymentAt,
		Version:                st.Version,
		CreatedAt:              st.CreatedAt,
		UpdatedAt:              st.UpdatedAt,
	}
}

func toSubscriptionDomain(m *SubscriptionModel) *subDomain.Subscription {
	var externalID string
	if m.ExternalSubscriptionID != nil {
		externalID = *m.ExternalSubscriptionID
	}
	return subDomain.Reconstruct(subDomain.State{
		ID:                     m.ID,
		CustomerID:             m.CustomerID,
		PlanName:               m.PlanName,
		PlanDescription:        m.PlanDescription,
		Amount:                 m.Amount,
		Currency:               m.Currency,
		Interval:               money.Interval{Unit: money.IntervalUnit(m.IntervalUnit), Count: m.IntervalCount},
		Status:                 subDomain.Status(m.Status),
		TrialEndAt:             utcPtr(m.TrialEndAt),
		NextPaymentAt:          utcPtr(m.NextPaymentAt),
		CancelledAt:            utcPtr(m.CancelledAt),
		PausedAt:               utcPtr(m.PausedAt),
		PaymentMethod:          m.PaymentMethod,
		CouponCode:             m.CouponCode,
		ExternalSubscriptionID: externalID,
		FailedPaymentAttempts:  m.FailedPaymentAttempts,
		LastPaymentAttemptAt:   utcPtr(m.LastPaymentAttemptAt),
		LastPaymentAt:          utcPtr(m.LastPaymentAt),
		Version:                m.Version,
		CreatedAt:              m.CreatedAt.UTC(),
		UpdatedAt:              m.UpdatedAt.UTC(),
	})
}

func toSubscriptionDomains(models []SubscriptionModel) []*subDomain.Subscription {
	subs := make([]*subDomain.Subscription, len(models))
	for i := range models {
		subs[i] = toSubscriptionDomain(&models[i])
	}
	return subs
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
