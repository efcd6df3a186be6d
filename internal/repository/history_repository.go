package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	historyDomain "github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
)

// HistoryModel is the GORM model for the subscription_history table.
// It carries no foreign key so events survive subscription deletion.
type HistoryModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	SubscriptionID uuid.UUID         `gorm:"type:uuid;not null;index:idx_history_subscription_time"`
	Action         string            `gorm:"type:varchar(30);not null;index"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb"`
	Actor          string            `gorm:"type:varchar(64);not null"`
	CreatedAt      time.Time         `gorm:"type:timestamptz;not null;index:idx_history_subscription_time"`
}

// TableName sets the table name.
func (HistoryModel) TableName() string { return "subscription_history" }

// GormHistoryRepository implements the append-only history store using GORM.
type GormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository creates a new GormHistoryRepository.
func NewGormHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	return &GormHistoryRepository{db: db}
}

// Append inserts one event.
func (r *GormHistoryRepository) Append(ctx context.Context, e historyDomain.Event) error {
	model := HistoryModel{
		ID:             e.ID,
		SubscriptionID: e.SubscriptionID,
		Action:         string(e.Action),
		Payload:        datatypes.JSONMap(e.Payload),
		Actor:          e.Actor,
		CreatedAt:      e.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// ListBySubscription returns a subscription's events in chronological order.
func (r *GormHistoryRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, from, to time.Time) ([]historyDomain.Event, error) {
	tx := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID)
	if !from.IsZero() {
		tx = tx.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		tx = tx.Where("created_at <= ?", to)
	}

	var models []HistoryModel
	if err := tx.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]historyDomain.Event, len(models))
	for i, m := range models {
		events[i] = historyDomain.Event{
			ID:             m.ID,
			SubscriptionID: m.SubscriptionID,
			Action:         historyDomain.Action(m.Action),
			Payload:        map[string]any(m.Payload),
			Actor:          m.Actor,
			CreatedAt:      m.CreatedAt.UTC(),
		}
	}
	return events, nil
}

// CountByActionSince counts events of one action recorded at or after since.
func (r *GormHistoryRepository) CountByActionSince(ctx context.Context, action historyDomain.Action, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&HistoryModel{}).
		Where("action = ? AND created_at >= ?", string(action), since).
		Count(&count).Error
	return count, err
}
