package coupon

import "context"

// CouponRepository defines persistence operations for coupons.
type CouponRepository interface {
	Save(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error

	// FindByCode looks up a normalised code; a missing code returns ErrCouponNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context, page, limit int) ([]*Coupon, int64, error)

	// Redeem atomically increments times_used, failing with ErrCouponUsageLimitReached
	// when the limit is already met.
	Redeem(ctx context.Context, code string) error

	// Release undoes one Redeem.
	Release(ctx context.Context, code string) error
}
