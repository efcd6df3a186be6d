package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// CouponService handles coupon use cases.
type CouponService struct {
	repo   coupon.CouponRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewCouponService creates a new CouponService. now may be nil.
func NewCouponService(repo coupon.CouponRepository, now func() time.Time, logger *zap.Logger) *CouponService {
	if now == nil {
		now = time.Now
	}
	return &CouponService{repo: repo, now: now, logger: logger}
}

// Evaluate looks up code and computes its discount on base. It never changes times_used.
func (s *CouponService) Evaluate(ctx context.Context, code string, base decimal.Decimal, currency string) (coupon.Discount, error) {
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return coupon.Discount{}, err
	}
	return c.Evaluate(base, money.NormalizeCurrency(currency), s.now().UTC())
}

// ApplyCoupon returns the discounted and discount amounts for a base amount.
func (s *CouponService) ApplyCoupon(ctx context.Context, req ApplyCouponRequest) (*DiscountDTO, error) {
	currency := money.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = "USD"
	}
	if err := money.ValidateCurrency(currency); err != nil {
		return nil, apperr.NewValidationError("%s", err.Error())
	}

	d, err := s.Evaluate(ctx, req.Code, req.Amount, currency)
	if err != nil {
		return nil, err
	}
	return &DiscountDTO{
		Code:             d.Code,
		BaseAmount:       d.BaseAmount,
		DiscountAmount:   d.DiscountAmount,
		DiscountedAmount: d.DiscountedAmount,
	}, nil
}

// CreateCoupon creates a new coupon (admin).
func (s *CouponService) CreateCoupon(ctx context.Context, req CreateCouponRequest) (*CouponDTO, error) {
	c, err := coupon.NewCoupon(req.Code, coupon.DiscountType(req.DiscountType), req.Value, req.ExpiresAt, req.UsageLimit, s.now())
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindByCode(ctx, c.Code()); err == nil && existing != nil {
		return nil, apperr.NewConflictError("coupon code already exists: " + c.Code())
	}

	if err := s.repo.Save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("coupon created",
		zap.String("code", c.Code()),
		zap.String("discount_type", string(c.DiscountType())),
		zap.String("value", c.Value().String()),
	)
	return toCouponDTO(c), nil
}

// GetCoupon returns a coupon by code.
func (s *CouponService) GetCoupon(ctx context.Context, code string) (*CouponDTO, error) {
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return toCouponDTO(c), nil
}

// ListCoupons returns a page of coupons (admin).
func (s *CouponService) ListCoupons(ctx context.Context, page, limit int) ([]*CouponDTO, int64, error) {
	coupons, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]*CouponDTO, len(coupons))
	for i, c := range coupons {
		dtos[i] = toCouponDTO(c)
	}
	return dtos, total, nil
}

// DeactivateCoupon stops a coupon from being applied again (admin).
func (s *CouponService) DeactivateCoupon(ctx context.Context, code string) (*CouponDTO, error) {
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.Deactivate(s.now())
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("coupon deactivated", zap.String("code", c.Code()))
	return toCouponDTO(c), nil
}
