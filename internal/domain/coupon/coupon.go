package coupon

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// DiscountType represents the type of discount.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Evaluation failures, checked in this order.
var (
	ErrCouponNotFound          = &apperr.DomainError{Err: apperr.ErrNotFound, Message: "coupon not found"}
	ErrCouponExpired           = &apperr.DomainError{Err: apperr.ErrValidation, Message: "coupon has expired"}
	ErrCouponUsageLimitReached = &apperr.DomainError{Err: apperr.ErrConflict, Message: "coupon usage limit reached"}
)

// Discount is the outcome of applying a coupon to an amount.
type Discount struct {
	Code             string          `json:"code"`
	BaseAmount       decimal.Decimal `json:"base_amount"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	DiscountedAmount decimal.Decimal `json:"discounted_amount"`
}

// Coupon is the aggregate root for discount codes.
type Coupon struct {
	id           uuid.UUID
	code         string
	discountType DiscountType
	value        decimal.Decimal
	active       bool
	expiresAt    *time.Time
	usageLimit   int
	timesUsed    int
	createdAt    time.Time
	updatedAt    time.Time
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon creates an active coupon.
func NewCoupon(code string, discountType DiscountType, value decimal.Decimal, expiresAt *time.Time, usageLimit int, now time.Time) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.NewValidationError("coupon code is required")
	}
	if discountType != DiscountPercentage && discountType != DiscountFixed {
		return nil, apperr.NewValidationError("invalid discount type: %s", discountType)
	}
	if !value.IsPositive() {
		return nil, apperr.NewValidationError("discount value must be positive")
	}
	if discountType == DiscountPercentage && value.GreaterThan(hundred) {
		return nil, apperr.NewValidationError("percentage discount cannot exceed 100")
	}
	if usageLimit < 0 {
		return nil, apperr.NewValidationError("usage limit cannot be negative")
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, apperr.NewValidationError("expires_at must be in the future")
	}

	now = now.UTC()
	return &Coupon{
		id:           uuid.New(),
		code:         code,
		discountType: discountType,
		value:        value,
		active:       true,
		expiresAt:    expiresAt,
		usageLimit:   usageLimit,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// Reconstruct rebuilds a Coupon from persistence.
func Reconstruct(id uuid.UUID, code string, discountType DiscountType, value decimal.Decimal, active bool, expiresAt *time.Time, usageLimit, timesUsed int, createdAt, updatedAt time.Time) *Coupon {
	return &Coupon{
		id: id, code: code, discountType: discountType, value: value, active: active,
		expiresAt: expiresAt, usageLimit: usageLimit, timesUsed: timesUsed,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// Check validates the coupon at now without computing a discount.
func (c *Coupon) Check(now time.Time) error {
	if !c.active {
		return ErrCouponNotFound
	}
	if c.expiresAt != nil && !now.Before(*c.expiresAt) {
		return ErrCouponExpired
	}
	if c.usageLimit > 0 && c.timesUsed >= c.usageLimit {
		return ErrCouponUsageLimitReached
	}
	return nil
}

// Evaluate applies the coupon to base. The discounted amount is always within [0, base].
func (c *Coupon) Evaluate(base decimal.Decimal, currency string, now time.Time) (Discount, error) {
	if err := c.Check(now); err != nil {
		return Discount{}, err
	}
	if base.IsNegative() {
		return Discount{}, apperr.NewValidationError("base amount cannot be negative")
	}

	var discount decimal.Decimal
	switch c.discountType {
	case DiscountPercentage:
		discount = base.Mul(c.value).Div(hundred)
	case DiscountFixed:
		discount = decimal.Min(c.value, base)
	}
	discount = money.RoundAmount(discount, currency)
	if discount.GreaterThan(base) {
		discount = base
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return Discount{
		Code:             c.code,
		BaseAmount:       base,
		DiscountAmount:   discount,
		DiscountedAmount: base.Sub(discount),
	}, nil
}

// Deactivate disables the coupon for future redemptions.
func (c *Coupon) Deactivate(now time.Time) {
	c.active = false
	c.updatedAt = now.UTC()
}

// IsEvaluationError reports whether err is one of the coupon evaluation failures.
func IsEvaluationError(err error) bool {
	return errors.Is(err, ErrCouponNotFound) || errors.Is(err, ErrCouponExpired) || errors.Is(err, ErrCouponUsageLimitReached)
}

// Getters.
func (c *Coupon) ID() uuid.UUID              { return c.id }
func (c *Coupon) Code() string               { return c.code }
func (c *Coupon) DiscountType() DiscountType { return c.discountType }
func (c *Coupon) Value() decimal.Decimal     { return c.value }
func (c *Coupon) Active() bool               { return c.active }
func (c *Coupon) ExpiresAt() *time.Time      { return c.expiresAt }
func (c *Coupon) UsageLimit() int            { return c.usageLimit }
func (c *Coupon) TimesUsed() int             { return c.timesUsed }
func (c *Coupon) CreatedAt() time.Time       { return c.createdAt }
func (c *Coupon) UpdatedAt() time.Time       { return c.updatedAt }
