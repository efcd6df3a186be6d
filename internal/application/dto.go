package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
)

// CustomerRequest holds customer profile data.
type CustomerRequest struct {
	Email     string           `json:"email" binding:"required"`
	FirstName string           `json:"first_name" binding:"required"`
	LastName  string           `json:"last_name"`
	Phone     string           `json:"phone"`
	Address   customer.Address `json:"address"`
}

func (r CustomerRequest) profile() customer.Profile {
	return customer.Profile{
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Address:   r.Address,
	}
}

// CreateSubscriptionRequest holds data to start a subscription.
type CreateSubscriptionRequest struct {
	Customer        CustomerRequest `json:"customer" binding:"required"`
	PlanName        string          `json:"plan_name" binding:"required"`
	PlanDescription string          `json:"plan_description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" binding:"required"`
	IntervalUnit    string          `json:"interval_unit" binding:"required"`
	IntervalCount   int             `json:"interval_count"`
	TrialPeriodDays int             `json:"trial_period_days"`
	PaymentMethod   string          `json:"payment_method" binding:"required"`
	CouponCode      string          `json:"coupon_code"`
}

// ChangeStatusRequest is the admin override payload.
type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// CreateCouponRequest holds data to create a coupon.
type CreateCouponRequest struct {
	Code         string          `json:"code" binding:"required"`
	DiscountType string          `json:"discount_type" binding:"required"`
	Value        decimal.Decimal `json:"value"`
	ExpiresAt    *time.Time      `json:"expires_at"`
	UsageLimit   int             `json:"usage_limit"`
}

// ApplyCouponRequest asks for a discount preview.
type ApplyCouponRequest struct {
	Code     string          `json:"code" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// SubscriptionDTO is the API response for a subscription.
type SubscriptionDTO struct {
	ID                     uuid.UUID       `json:"id"`
	CustomerID             uuid.UUID       `json:"customer_id"`
	PlanName               string          `json:"plan_name"`
	PlanDescription        string          `json:"plan_description,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	AmountFormatted        string          `json:"amount_formatted"`
	Currency               string          `json:"currency"`
	IntervalUnit           string          `json:"interval_unit"`
	IntervalCount          int             `json:"interval_count"`
	Interval               string          `json:"interval"`
	Status                 string          `json:"status"`
	TrialEndAt             *time.Time      `json:"trial_end_at,omitempty"`
	NextPaymentAt          *time.Time      `json:"next_payment_at,omitempty"`
	CancelledAt            *time.Time      `json:"cancelled_at,omitempty"`
	PausedAt               *time.Time      `json:"paused_at,omitempty"`
	CouponCode             string          `json:"coupon_code,omitempty"`
	ExternalSubscriptionID string          `json:"external_subscription_id,omitempty"`
	FailedPaymentAttempts  int             `json:"failed_payment_attempts"`
	LastPaymentAttemptAt   *time.Time      `json:"last_payment_attempt_at,omitempty"`
	LastPaymentAt          *time.Time      `json:"last_payment_at,omitempty"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// CustomerDTO is the API response for a customer.
type CustomerDTO struct {
	ID        uuid.UUID        `json:"id"`
	Email     string           `json:"email"`
	FirstName string           `json:"first_name"`
	LastName  string           `json:"last_name"`
	Phone     string           `json:"phone,omitempty"`
	Address   customer.Address `json:"address"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// CouponDTO is the API response for a coupon.
type CouponDTO struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	Active       bool            `json:"active"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	UsageLimit   int             `json:"usage_limit"`
	TimesUsed    int             `json:"times_used"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DiscountDTO is the result of applying a coupon.
type DiscountDTO struct {
	Code             string          `json:"code"`
	BaseAmount       decimal.Decimal `json:"base_amount"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	DiscountedAmount decimal.Decimal `json:"discounted_amount"`
}

// HistoryEventDTO is one audit entry.
type HistoryEventDTO struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	Action         string         `json:"action"`
	Payload        map[string]any `json:"payload,omitempty"`
	Actor          string         `json:"actor"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toSubscriptionDTO(s *subscription.Subscription, format money.FormatConfig) *SubscriptionDTO {
	return &SubscriptionDTO{
		ID:                     s.ID(),
		CustomerID:             s.CustomerID(),
		PlanName:               s.PlanName(),
		PlanDescription:        s.PlanDescription(),
		Amount:                 s.Amount(),
		AmountFormatted:        money.FormatMoney(s.Amount(), s.Currency(), format),
		Currency:               s.Currency(),
		IntervalUnit:           string(s.Interval().Unit),
		IntervalCount:          s.Interval().Count,
		Interval:               s.Interval().String(),
		Status:                 string(s.Status()),
		TrialEndAt:             s.TrialEndAt(),
		NextPaymentAt:          s.NextPaymentAt(),
		CancelledAt:            s.CancelledAt(),
		PausedAt:               s.PausedAt(),
		CouponCode:             s.CouponCode(),
		ExternalSubscriptionID: s.ExternalSubscriptionID(),
		FailedPaymentAttempts:  s.FailedPaymentAttempts(),
		LastPaymentAttemptAt:   s.LastPaymentAttemptAt(),
		LastPaymentAt:          s.LastPaymentAt(),
		Version:                s.Version(),
		CreatedAt:              s.CreatedAt(),
		UpdatedAt:              s.UpdatedAt(),
	}
}

func toCustomerDTO(c *customer.Customer) *CustomerDTO {
	return &CustomerDTO{
		ID: c.ID(), Email: c.Email(), FirstName: c.FirstName(), LastName: c.LastName(),
		Phone: c.Phone(), Address: c.Address(), Status: string(c.Status()),
		CreatedAt: c.CreatedAt(), UpdatedAt: c.UpdatedAt(),
	}
}

func toCouponDTO(c *coupon.Coupon) *CouponDTO {
	return &CouponDTO{
		ID: c.ID(), Code: c.Code(), DiscountType: string(c.DiscountType()), Value: c.Value(),
		Active: c.Active(), ExpiresAt: c.ExpiresAt(), UsageLimit: c.UsageLimit(),
		TimesUsed: c.TimesUsed(), CreatedAt: c.CreatedAt(),
	}
}

func toHistoryEventDTO(e history.Event) HistoryEventDTO {
	return HistoryEventDTO{
		ID: e.ID, SubscriptionID: e.SubscriptionID, Action: string(e.Action),
		Payload: e.Payload, Actor: e.Actor, CreatedAt: e.CreatedAt,
	}
}
