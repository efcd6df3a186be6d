package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	couponDomain "github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/coupon"
)

// CouponModel is the GORM model for the coupons table.
type CouponModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Code         string          `gorm:"type:varchar(50);uniqueIndex;not null"`
	DiscountType string          `gorm:"type:varchar(20);not null"`
	Value        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Active       bool            `gorm:"not null;default:true"`
	ExpiresAt    *time.Time      `gorm:"type:timestamptz"`
	UsageLimit   int             `gorm:"not null;default:0"`
	TimesUsed    int             `gorm:"not null;default:0"`
	CreatedAt    time.Time       `gorm:"type:timestamptz;not null"`
	UpdatedAt    time.Time       `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (CouponModel) TableName() string { return "coupons" }

// GormCouponRepository implements CouponRepository using GORM.
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository creates a new GormCouponRepository.
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// Save persists a new coupon.
func (r *GormCouponRepository) Save(ctx context.Context, c *couponDomain.Coupon) error {
	model := toCouponModel(c)
	return r.db.WithContext(ctx).Create(&model).Error
}

// Update writes the admin-editable fields. times_used is only changed by Redeem and Release.
func (r *GormCouponRepository) Update(ctx context.Context, c *couponDomain.Coupon) error {
	result := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("id = ?", c.ID()).
		Updates(map[string]any{
			"active":      c.Active(),
			"expires_at":  c.ExpiresAt(),
			"usage_limit": c.UsageLimit(),
			"updated_at":  c.UpdatedAt(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return couponDomain.ErrCouponNotFound
	}
	return nil
}

// FindByCode returns a coupon by its code string.
func (r *GormCouponRepository) FindByCode(ctx context.Context, code string) (*couponDomain.Coupon, error) {
	var model CouponModel
	if err := r.db.WithContext(ctx).Where("code = ?", couponDomain.NormalizeCode(code)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, couponDomain.ErrCouponNotFound
		}
		return nil, err
	}
	return toCouponDomain(&model), nil
}

// List returns a page of coupons, newest first.
func (r *GormCouponRepository) List(ctx context.Context, page, limit int) ([]*couponDomain.Coupon, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&CouponModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []CouponModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	coupons := make([]*couponDomain.Coupon, len(models))
	for i := range models {
		coupons[i] = toCouponDomain(&models[i])
	}
	return coupons, total, nil
}

// Redeem increments times_used in a single conditional UPDATE so concurrent
// redemptions can never push it past usage_limit.
func (r *GormCouponRepository) Redeem(ctx context.Context, code string) error {
	code = couponDomain.NormalizeCode(code)
	result := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("code = ? AND active = ?", code, true).
		Where("usage_limit = 0 OR times_used < usage_limit").
		Updates(map[string]any{
			"times_used": gorm.Expr("times_used + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var exists int64
	if err := r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("code = ? AND active = ?", code, true).
		Count(&exists).Error; err != nil {
		return err
	}
	if exists == 0 {
		return couponDomain.ErrCouponNotFound
	}
	return couponDomain.ErrCouponUsageLimitReached
}

// Release undoes one redemption.
func (r *GormCouponRepository) Release(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Model(&CouponModel{}).
		Where("code = ? AND times_used > 0", couponDomain.NormalizeCode(code)).
		Updates(map[string]any{
			"times_used": gorm.Expr("times_used - 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

func toCouponModel(c *couponDomain.Coupon) CouponModel {
	return CouponModel{
		ID:           c.ID(),
		Code:         c.Code(),
		DiscountType: string(c.DiscountType()),
		Value:        c.Value(),
		Active:       c.Active(),
		ExpiresAt:    c.ExpiresAt(),
		UsageLimit:   c.UsageLimit(),
		TimesUsed:    c.TimesUsed(),
		CreatedAt:    c.CreatedAt(),
		UpdatedAt:    c.UpdatedAt(),
	}
}

func toCouponDomain(m *CouponModel) *couponDomain.Coupon {
	return couponDomain.Reconstruct(
		m.ID, m.Code, couponDomain.DiscountType(m.DiscountType), m.Value,
		m.Active, utcPtr(m.ExpiresAt), m.UsageLimit, m.TimesUsed,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
}
