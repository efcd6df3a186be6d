package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// Status represents the subscription status.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCancelled         Status = "cancelled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

// AllStatuses lists every valid status.
var AllStatuses = []Status{
	StatusTrialing, StatusActive, StatusPastDue, StatusCancelled,
	StatusUnpaid, StatusIncomplete, StatusIncompleteExpired, StatusPaused,
}

// LiveStatuses keep a customer from being deactivated.
var LiveStatuses = []Status{StatusActive, StatusTrialing, StatusPastDue, StatusPaused}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range AllStatuses {
		if v == st {
			return st, nil
		}
	}
	return "", apperr.NewValidationError("invalid subscription status: %s", s)
}

// Plan describes what is being billed.
type Plan struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Interval        money.Interval  `json:"interval"`
	TrialPeriodDays int             `json:"trial_period_days"`
}

// Validate normalises the currency and checks every plan field.
func (p *Plan) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.NewValidationError("plan name is required")
	}
	if p.Amount.IsNegative() {
		return apperr.NewValidationError("amount cannot be negative")
	}
	p.Currency = money.NormalizeCurrency(p.Currency)
	if err := money.ValidateCurrency(p.Currency); err != nil {
		return apperr.NewValidationError("%s", err.Error())
	}
	if err := p.Interval.Validate(); err != nil {
		return apperr.NewValidationError("%s", err.Error())
	}
	if p.TrialPeriodDays < 0 {
		return apperr.NewValidationError("trial_period_days cannot be negative")
	}
	return nil
}

// NewParams is the input to NewSubscription. Plan.Amount is the amount after any coupon.
type NewParams struct {
	CustomerID    uuid.UUID
	Plan          Plan
	PaymentMethod string
	CouponCode    string
}

// DunningPolicy controls retries of failed charges.
type DunningPolicy struct {
	MaxAttempts             int
	RetryInterval           time.Duration
	IncompleteExpiry        time.Duration
	IncompleteRetryInterval time.Duration
}

// DefaultDunningPolicy retries a past-due subscription daily up to four failed attempts.
func DefaultDunningPolicy() DunningPolicy {
	return DunningPolicy{
		MaxAttempts:             4,
		RetryInterval:           24 * time.Hour,
		IncompleteExpiry:        23 * time.Hour,
		IncompleteRetryInterval: time.Hour,
	}
}

// DueKind says which scheduled transition a subscription is waiting for.
type DueKind string

const (
	DueNone             DueKind = ""
	DueTrialEnd         DueKind = "trial_end"
	DueRenewal          DueKind = "renewal"
	DueDunningRetry     DueKind = "dunning_retry"
	DueIncompleteRetry  DueKind = "incomplete_retry"
	DueIncompleteExpire DueKind = "incomplete_expire"
)

// ChargeOutcome summarises what a charge result did to the subscription.
type ChargeOutcome struct {
	From      Status
	To        Status
	Attempts  int
	Renewed   bool
	NextDueAt *time.Time
}

// State is the full persisted form of a Subscription.
type State struct {
	ID                     uuid.UUID
	CustomerID             uuid.UUID
	PlanName               string
	PlanDescription        string
	Amount                 decimal.Decimal
	Currency               string
	Interval               money.Interval
	Status                 Status
	TrialEndAt             *time.Time
	NextPaymentAt          *time.Time
	CancelledAt            *time.Time
	PausedAt               *time.Time
	PaymentMethod          string
	CouponCode             string
	ExternalSubscriptionID string
	FailedPaymentAttempts  int
	LastPaymentAttemptAt   *time.Time
	LastPaymentAt          *time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Subscription is the aggregate root for recurring billing.
type Subscription struct {
	s State
}

func ptr(t time.Time) *time.Time { return &t }

// NewSubscription creates a subscription that is either trialing or incomplete pending its first charge.
func NewSubscription(p NewParams, now time.Time) (*Subscription, error) {
	if p.CustomerID == uuid.Nil {
		return nil, apperr.NewValidationError("customer_id is required")
	}
	if err := p.Plan.Validate(); err != nil {
		return nil, err
	}
	p.PaymentMethod = strings.TrimSpace(p.PaymentMethod)
	if p.PaymentMethod == "" {
		return nil, apperr.NewValidationError("payment_method is required")
	}

	now = now.UTC()
	st := State{
		ID:              uuid.New(),
		CustomerID:      p.CustomerID,
		PlanName:        p.Plan.Name,
		PlanDescription: p.Plan.Description,
		Amount:          money.RoundAmount(p.Plan.Amount, p.Plan.Currency),
		Currency:        p.Plan.Currency,
		Interval:        p.Plan.Interval,
		PaymentMethod:   p.PaymentMethod,
		CouponCode:      p.CouponCode,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Plan.TrialPeriodDays > 0 {
		trialEnd := now.AddDate(0, 0, p.Plan.TrialPeriodDays)
		st.Status = StatusTrialing
		st.TrialEndAt = ptr(trialEnd)
		st.NextPaymentAt = ptr(trialEnd)
	} else {
		st.Status = StatusIncomplete
		st.NextPaymentAt = ptr(now)
	}
	return &Subscription{s: st}, nil
}

// Reconstruct rebuilds a Subscription from persistence.
func Reconstruct(st State) *Subscription {
	return &Subscription{s: st}
}

// Snapshot returns a copy of the persisted state.
func (s *Subscription) Snapshot() State { return s.s }

// DueAt reports which scheduled transition is pending at now, if any.
func (s *Subscription) DueAt(now time.Time, policy DunningPolicy) DueKind {
	switch s.s.Status {
	case StatusTrialing:
		if s.s.TrialEndAt != nil && !s.s.TrialEndAt.After(now) {
			return DueTrialEnd
		}
	case StatusActive:
		if s.s.NextPaymentAt != nil && !s.s.NextPaymentAt.After(now) {
			return DueRenewal
		}
	case StatusPastDue:
		if s.s.LastPaymentAttemptAt == nil || !s.s.LastPaymentAttemptAt.Add(policy.RetryInterval).After(now) {
			return DueDunningRetry
		}
	case StatusIncomplete:
		if policy.IncompleteExpiry > 0 && !s.s.CreatedAt.Add(policy.IncompleteExpiry).After(now) {
			return DueIncompleteExpire
		}
		if s.s.LastPaymentAttemptAt == nil || !s.s.LastPaymentAttemptAt.Add(policy.IncompleteRetryInterval).After(now) {
			return DueIncompleteRetry
		}
	}
	return DueNone
}

// IsChargeable reports whether the current status accepts a charge result.
func (s *Subscription) IsChargeable() bool {
	switch s.s.Status {
	case StatusTrialing, StatusActive, StatusPastDue, StatusIncomplete:
		return true
	}
	return false
}

// RecordChargeSuccess applies a successful charge.
func (s *Subscription) RecordChargeSuccess(now time.Time) (ChargeOutcome, error) {
	now = now.UTC()
	out := ChargeOutcome{From: s.s.Status}

	var next time.Time
	switch s.s.Status {
	case StatusTrialing:
		anchor := now
		if s.s.TrialEndAt != nil {
			anchor = *s.s.TrialEndAt
		}
		next = s.recoveryDate(anchor, now)
	case StatusActive:
		anchor := now
		if s.s.NextPaymentAt != nil {
			anchor = *s.s.NextPaymentAt
		}
		next = s.s.Interval.After(anchor)
		out.Renewed = true
	case StatusPastDue:
		anchor := now
		if s.s.NextPaymentAt != nil {
			anchor = *s.s.NextPaymentAt
		}
		next = s.recoveryDate(anchor, now)
		out.Renewed = true
	case StatusIncomplete:
		next = s.s.Interval.After(now)
	default:
		return out, apperr.NewInvalidStateError(string(s.s.Status), string(StatusActive))
	}

	s.s.Status = StatusActive
	s.s.NextPaymentAt = ptr(next)
	s.s.FailedPaymentAttempts = 0
	s.s.LastPaymentAttemptAt = ptr(now)
	s.s.LastPaymentAt = ptr(now)
	s.s.UpdatedAt = now

	out.To = s.s.Status
	out.NextDueAt = s.s.NextPaymentAt
	return out, nil
}

// recoveryDate advances anchor by one interval, falling back to now + interval if that is already past.
func (s *Subscription) recoveryDate(anchor, now time.Time) time.Time {
	next := s.s.Interval.After(anchor)
	if !next.After(now) {
		next = s.s.Interval.After(now)
	}
	return next
}

// RecordChargeFailure applies a failed charge. next_payment_at is never changed.
func (s *Subscription) RecordChargeFailure(retryable bool, policy DunningPolicy, now time.Time) (ChargeOutcome, error) {
	now = now.UTC()
	out := ChargeOutcome{From: s.s.Status}

	attempts := s.s.FailedPaymentAttempts + 1
	switch s.s.Status {
	case StatusTrialing, StatusActive:
		if retryable {
			s.s.Status = StatusPastDue
		} else {
			s.s.Status = StatusIncompleteExpired
		}
	case StatusPastDue:
		if !retryable || (policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts) {
			s.s.Status = StatusUnpaid
		}
	case StatusIncomplete:
		expired := policy.IncompleteExpiry > 0 && !s.s.CreatedAt.Add(policy.IncompleteExpiry).After(now)
		if !retryable || expired {
			s.s.Status = StatusIncompleteExpired
		}
	default:
		return out, apperr.NewInvalidStateError(string(s.s.Status), string(StatusPastDue))
	}

	s.s.FailedPaymentAttempts = attempts
	s.s.LastPaymentAttemptAt = ptr(now)
	s.s.UpdatedAt = now

	out.To = s.s.Status
	out.Attempts = attempts
	out.NextDueAt = s.s.NextPaymentAt
	return out, nil
}

// ExpireIncomplete gives up on an initial charge that never succeeded.
func (s *Subscription) ExpireIncomplete(now time.Time) error {
	if s.s.Status != StatusIncomplete {
		return apperr.NewInvalidStateError(string(s.s.Status), string(StatusIncompleteExpired))
	}
	s.s.Status = StatusIncompleteExpired
	s.s.UpdatedAt = now.UTC()
	return nil
}

// IsCancellable reports whether Cancel is allowed from the current status.
func (s *Subscription) IsCancellable() bool {
	switch s.s.Status {
	case StatusActive, StatusTrialing, StatusPastDue, StatusPaused:
		return true
	}
	return false
}

// Cancel ends the subscription. The record is kept.
func (s *Subscription) Cancel(now time.Time) error {
	if !s.IsCancellable() {
		return apperr.NewInvalidStateError(string(s.s.Status), string(StatusCancelled))
	}
	now = now.UTC()
	s.s.Status = StatusCancelled
	s.s.CancelledAt = ptr(now)
	s.s.UpdatedAt = now
	return nil
}

// Pause stops renewals; next_payment_at stays frozen until Resume.
func (s *Subscription) Pause(now time.Time) error {
	if s.s.Status != StatusActive && s.s.Status != StatusTrialing {
		return apperr.NewInvalidStateError(string(s.s.Status), string(StatusPaused))
	}
	now = now.UTC()
	s.s.Status = StatusPaused
	s.s.PausedAt = ptr(now)
	s.s.UpdatedAt = now
	return nil
}

// Resume reactivates a paused subscription with a fresh billing period starting now.
func (s *Subscription) Resume(now time.Time) error {
	if s.s.Status != StatusPaused {
		return apperr.NewInvalidStateError(string(s.s.Status), string(StatusActive))
	}
	now = now.UTC()
	s.s.Status = StatusActive
	s.s.PausedAt = nil
	s.s.NextPaymentAt = ptr(s.s.Interval.After(now))
	s.s.UpdatedAt = now
	return nil
}

// ForceStatus is the administrative override. Any valid status is accepted.
func (s *Subscription) ForceStatus(status Status, now time.Time) (Status, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return "", err
	}
	now = now.UTC()
	old := s.s.Status

	switch status {
	case StatusCancelled:
		if s.s.CancelledAt == nil {
			s.s.CancelledAt = ptr(now)
		}
	case StatusPaused:
		if s.s.PausedAt == nil {
			s.s.PausedAt = ptr(now)
		}
	case StatusTrialing:
		if s.s.TrialEndAt == nil {
			s.s.TrialEndAt = ptr(now)
		}
		s.s.NextPaymentAt = ptr(*s.s.TrialEndAt)
	}
	if status != StatusPaused {
		s.s.PausedAt = nil
	}
	if status == StatusActive || status == StatusTrialing {
		s.s.FailedPaymentAttempts = 0
	}

	s.s.Status = status
	s.s.UpdatedAt = now
	return old, nil
}

// EnsureDeletable refuses deletion of subscriptions that may still bill.
func (s *Subscription) EnsureDeletable() error {
	switch s.s.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return apperr.NewBlockedError("cannot delete a subscription with status " + string(s.s.Status))
	}
	return nil
}

// SetExternalSubscriptionID records the gateway-side reference.
func (s *Subscription) SetExternalSubscriptionID(id string, now time.Time) {
	s.s.ExternalSubscriptionID = id
	s.s.UpdatedAt = now.UTC()
}

// IncrementVersion bumps the optimistic lock version.
func (s *Subscription) IncrementVersion() { s.s.Version++ }

// Getters.
func (s *Subscription) ID() uuid.UUID                  { return s.s.ID }
func (s *Subscription) CustomerID() uuid.UUID          { return s.s.CustomerID }
func (s *Subscription) PlanName() string               { return s.s.PlanName }
func (s *Subscription) PlanDescription() string        { return s.s.PlanDescription }
func (s *Subscription) Amount() decimal.Decimal        { return s.s.Amount }
func (s *Subscription) Currency() string               { return s.s.Currency }
func (s *Subscription) Interval() money.Interval       { return s.s.Interval }
func (s *Subscription) Status() Status                 { return s.s.Status }
func (s *Subscription) TrialEndAt() *time.Time         { return s.s.TrialEndAt }
func (s *Subscription) NextPaymentAt() *time.Time      { return s.s.NextPaymentAt }
func (s *Subscription) CancelledAt() *time.Time        { return s.s.CancelledAt }
func (s *Subscription) PausedAt() *time.Time           { return s.s.PausedAt }
func (s *Subscription) PaymentMethod() string          { return s.s.PaymentMethod }
func (s *Subscription) CouponCode() string             { return s.s.CouponCode }
func (s *Subscription) ExternalSubscriptionID() string { return s.s.ExternalSubscriptionID }
func (s *Subscription) FailedPaymentAttempts() int     { return s.s.FailedPaymentAttempts }
func (s *Subscription) LastPaymentAttemptAt() *time.Time {
	return s.s.LastPaymentAttemptAt
}
func (s *Subscription) LastPaymentAt() *time.Time { return s.s.LastPaymentAt }
func (s *Subscription) Version() int64            { return s.s.Version }
func (s *Subscription) CreatedAt() time.Time      { return s.s.CreatedAt }
func (s *Subscription) UpdatedAt() time.Time      { return s.s.UpdatedAt }
