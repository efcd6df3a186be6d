package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/lock"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/saga"
)

// EngineConfig tunes the LifecycleEngine.
type EngineConfig struct {
	Policy      subscription.DunningPolicy
	LockTimeout time.Duration
	Format      money.FormatConfig
	Now         func() time.Time
}

// LifecycleEngine is the only component that mutates subscriptions.
// Every mutation runs under a per-subscription lock and writes one history event.
type LifecycleEngine struct {
	subs      subscription.SubscriptionRepository
	history   history.Repository
	customers *CustomerService
	coupons   *CouponService
	creator   *saga.SubscriptionSagaService
	gateway   gateway.PaymentGateway
	locker    lock.Locker
	observers []TransitionObserver
	cfg       EngineConfig
	logger    *zap.Logger
}

// NewLifecycleEngine creates a new LifecycleEngine.
func NewLifecycleEngine(
	subs subscription.SubscriptionRepository,
	hist history.Repository,
	customers *CustomerService,
	coupons *CouponService,
	creator *saga.SubscriptionSagaService,
	gw gateway.PaymentGateway,
	locker lock.Locker,
	cfg EngineConfig,
	logger *zap.Logger,
	observers ...TransitionObserver,
) *LifecycleEngine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = subscription.DefaultDunningPolicy()
	}
	if cfg.Format.DecimalSeparator == "" {
		cfg.Format = money.DefaultFormat()
	}
	return &LifecycleEngine{
		subs:      subs,
		history:   hist,
		customers: customers,
		coupons:   coupons,
		creator:   creator,
		gateway:   gw,
		locker:    locker,
		observers: observers,
		cfg:       cfg,
		logger:    logger,
	}
}

// ListFilter selects subscriptions for ListSubscriptions.
type ListFilter struct {
	CustomerID uuid.UUID
	Status     string
	Page       int
	Limit      int
}

func (e *LifecycleEngine) now() time.Time { return e.cfg.Now().UTC() }

func (e *LifecycleEngine) dto(s *subscription.Subscription) *SubscriptionDTO {
	return toSubscriptionDTO(s, e.cfg.Format)
}

// CreateSubscription resolves the customer, applies the coupon and starts the subscription.
// Gateway failures roll the subscription back, except a retryable first charge which leaves it incomplete.
func (e *LifecycleEngine) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest, actor string) (*SubscriptionDTO, error) {
	unit, err := money.ParseUnit(req.IntervalUnit)
	if err != nil {
		return nil, apperr.NewValidationError("%s", err.Error())
	}
	count := req.IntervalCount
	if count == 0 {
		count = 1
	}
	plan := subscription.Plan{
		Name:            req.PlanName,
		Description:     req.PlanDescription,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Interval:        money.Interval{Unit: unit, Count: count},
		TrialPeriodDays: req.TrialPeriodDays,
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, apperr.NewValidationError("payment_method is required")
	}

	var couponCode string
	if strings.TrimSpace(req.CouponCode) != "" {
		d, err := e.coupons.Evaluate(ctx, req.CouponCode, plan.Amount, plan.Currency)
		if err != nil {
			return nil, err
		}
		plan.Amount = d.DiscountedAmount
		couponCode = d.Code
	}

	cust, err := e.customers.resolve(ctx, req.Customer.profile())
	if err != nil {
		return nil, err
	}

	now := e.now()
	sub, err := subscription.NewSubscription(subscription.NewParams{
		CustomerID:    cust.ID(),
		Plan:          plan,
		PaymentMethod: req.PaymentMethod,
		CouponCode:    couponCode,
	}, now)
	if err != nil {
		return nil, err
	}

	// The row becomes visible to the sweep as soon as it is saved, so the whole saga runs under the
	// subscription lock. Otherwise ProcessDue could charge it while the initial charge is in flight.
	err = e.withLock(ctx, sub.ID(), func() error {
		res, err := e.creator.CreateSubscription(ctx, saga.CreateSubscriptionInput{Subscription: sub, Customer: cust, Now: now})
		if err != nil {
			e.logger.Warn("subscription creation rolled back",
				zap.String("subscription_id", sub.ID().String()),
				zap.String("customer_id", cust.ID().String()),
				zap.String("step", saga.FailedStep(err)),
				zap.Error(err),
			)
			var gwErr *gateway.GatewayError
			if errors.As(err, &gwErr) {
				payload := gatewayPayload(gwErr)
				payload["rolled_back"] = true
				payload["step"] = saga.FailedStep(err)
				if rerr := e.record(ctx, sub, history.ActionPaymentFailed, sub.Status(), payload, actor); rerr != nil {
					e.logger.Error("failed to record rolled back creation", zap.Error(rerr))
				}
			}
			return err
		}

		created := map[string]any{
			"status":          string(sub.Status()),
			"amount":          sub.Amount().String(),
			"currency":        sub.Currency(),
			"interval":        sub.Interval().String(),
			"next_payment_at": timeValue(sub.NextPaymentAt()),
			"trial_end_at":    timeValue(sub.TrialEndAt()),
		}
		if couponCode != "" {
			created["coupon_code"] = couponCode
			created["list_amount"] = req.Amount.String()
		}
		if res.ChargeID != "" {
			created["charge_id"] = res.ChargeID
		}
		if err := e.record(ctx, sub, history.ActionCreated, "", created, actor); err != nil {
			return err
		}

		if res.ChargeErr != nil {
			payload := gatewayPayload(res.ChargeErr)
			payload["attempts"] = sub.FailedPaymentAttempts()
			return e.record(ctx, sub, history.ActionPaymentFailed, sub.Status(), payload, actor)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID().String()),
		zap.String("customer_id", cust.ID().String()),
		zap.String("status", string(sub.Status())),
	)
	return e.dto(sub), nil
}

// CancelSubscription cancels a subscription and, best effort, its gateway-side counterpart.
func (e *LifecycleEngine) CancelSubscription(ctx context.Context, id uuid.UUID, actor, reason string) (*SubscriptionDTO, error) {
	return e.transition(ctx, id, actor,
		func(sub *subscription.Subscription, now time.Time) (history.Action, map[string]any, error) {
			payload := map[string]any{}
			if reason != "" {
				payload["reason"] = reason
			}
			return history.ActionCancelled, payload, sub.Cancel(now)
		},
		e.cancelExternal(ctx),
	)
}

// cancelExternal returns an afterPersist hook that cancels the gateway-side subscription, best effort.
func (e *LifecycleEngine) cancelExternal(ctx context.Context) func(*subscription.Subscription, map[string]any) {
	return func(sub *subscription.Subscription, payload map[string]any) {
		ext := sub.ExternalSubscriptionID()
		if ext == "" {
			return
		}
		if err := e.gateway.CancelExternalSubscription(ctx, ext); err != nil {
			e.logger.Warn("failed to cancel external subscription",
				zap.String("subscription_id", sub.ID().String()),
				zap.String("external_subscription_id", ext),
				zap.Error(err),
			)
			payload["external_cancel_error"] = err.Error()
		}
	}
}

// PauseSubscription pauses renewals; next_payment_at stays frozen.
func (e *LifecycleEngine) PauseSubscription(ctx context.Context, id uuid.UUID, actor string) (*SubscriptionDTO, error) {
	return e.transition(ctx, id, actor, func(sub *subscription.Subscription, now time.Time) (history.Action, map[string]any, error) {
		if err := sub.Pause(now); err != nil {
			return "", nil, err
		}
		return history.ActionPaused, map[string]any{"next_payment_at": timeValue(sub.NextPaymentAt())}, nil
	}, nil)
}

// ResumeSubscription reactivates a paused subscription; the next payment is one interval from now.
func (e *LifecycleEngine) ResumeSubscription(ctx context.Context, id uuid.UUID, actor string) (*SubscriptionDTO, error) {
	return e.transition(ctx, id, actor, func(sub *subscription.Subscription, now time.Time) (history.Action, map[string]any, error) {
		if err := sub.Resume(now); err != nil {
			return "", nil, err
		}
		return history.ActionResumed, map[string]any{"next_payment_at": timeValue(sub.NextPaymentAt())}, nil
	}, nil)
}

// ChangeStatus is the administrative override; it accepts any valid status.
func (e *LifecycleEngine) ChangeStatus(ctx context.Context, id uuid.UUID, req ChangeStatusRequest, actor string) (*SubscriptionDTO, error) {
	status, err := subscription.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	return e.transition(ctx, id, actor, func(sub *subscription.Subscription, now time.Time) (history.Action, map[string]any, error) {
		if _, err := sub.ForceStatus(status, now); err != nil {
			return "", nil, err
		}
		payload := map[string]any{"admin_override": true}
		if req.Reason != "" {
			payload["reason"] = req.Reason
		}
		return history.ActionStatusChanged, payload, nil
	}, nil)
}

// DeleteSubscription removes a subscription that can no longer bill. Its history is kept.
func (e *LifecycleEngine) DeleteSubscription(ctx context.Context, id uuid.UUID, actor string) error {
	return e.withLock(ctx, id, func() error {
		sub, err := e.subs.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := sub.EnsureDeletable(); err != nil {
			return err
		}
		payload := map[string]any{"status": string(sub.Status())}
		if err := e.record(ctx, sub, history.ActionDeleted, sub.Status(), payload, actor); err != nil {
			return err
		}
		if err := e.subs.Delete(ctx, id); err != nil {
			return err
		}
		e.logger.Info("subscription deleted", zap.String("subscription_id", id.String()))
		return nil
	})
}

// GetSubscription returns a subscription by ID.
func (e *LifecycleEngine) GetSubscription(ctx context.Context, id uuid.UUID) (*SubscriptionDTO, error) {
	sub, err := e.subs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.dto(sub), nil
}

// ListSubscriptions returns subscriptions by customer, by status, or all of them.
func (e *LifecycleEngine) ListSubscriptions(ctx context.Context, f ListFilter) ([]*SubscriptionDTO, int64, error) {
	var (
		subs  []*subscription.Subscription
		total int64
		err   error
	)
	switch {
	case f.CustomerID != uuid.Nil:
		subs, err = e.subs.FindByCustomer(ctx, f.CustomerID)
		total = int64(len(subs))
	case f.Status != "":
		status, perr := subscription.ParseStatus(f.Status)
		if perr != nil {
			return nil, 0, perr
		}
		subs, total, err = e.subs.FindByStatus(ctx, status, f.Page, f.Limit)
	default:
		subs, total, err = e.subs.List(ctx, f.Page, f.Limit)
	}
	if err != nil {
		return nil, 0, err
	}

	dtos := make([]*SubscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = e.dto(s)
	}
	return dtos, total, nil
}

// History returns a subscription's audit trail, optionally bounded by time. Deleted subscriptions keep theirs.
func (e *LifecycleEngine) History(ctx context.Context, id uuid.UUID, from, to time.Time) ([]HistoryEventDTO, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, apperr.NewValidationError("'to' must not be before 'from'")
	}
	events, err := e.history.ListBySubscription(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && from.IsZero() && to.IsZero() {
		if _, err := e.subs.FindByID(ctx, id); err != nil {
			return nil, err
		}
	}

	dtos := make([]HistoryEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toHistoryEventDTO(ev)
	}
	return dtos, nil
}

// CloseCustomerAccount stops every subscription of the customer with email that can still be charged,
// then deactivates the customer. Incomplete subscriptions expire, the others are cancelled.
func (e *LifecycleEngine) CloseCustomerAccount(ctx context.Context, email, reason string) error {
	cust, err := e.customers.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	subs, err := e.subs.FindByCustomer(ctx, cust.ID())
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "account_closed"
	}
	for _, sub := range subs {
		if sub.Status() != subscription.StatusIncomplete && !sub.IsCancellable() {
			continue
		}
		if err := e.closeSubscription(ctx, sub.ID(), reason); err != nil && !apperr.IsConflict(err) {
			return fmt.Errorf("close subscription %s: %w", sub.ID(), err)
		}
	}
	return e.customers.Delete(ctx, cust.ID())
}

// closeSubscription decides under the lock, so a subscription that left incomplete meanwhile is cancelled instead.
func (e *LifecycleEngine) closeSubscription(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := e.transition(ctx, id, history.ActorSystem,
		func(sub *subscription.Subscription, now time.Time) (history.Action, map[string]any, error) {
			payload := map[string]any{"reason": reason}
			if sub.Status() == subscription.StatusIncomplete {
				return history.ActionStatusChanged, payload, sub.ExpireIncomplete(now)
			}
			return history.ActionCancelled, payload, sub.Cancel(now)
		},
		e.cancelExternal(ctx),
	)
	return err
}

type applyFunc func(sub *subscription.Subscription, now time.Time) (history.Action, map[string]any, error)

// transition loads, mutates, persists and records one subscription under its lock.
// afterPersist runs once the new state is stored and may add to the history payload.
func (e *LifecycleEngine) transition(ctx context.Context, id uuid.UUID, actor string, apply applyFunc, afterPersist func(*subscription.Subscription, map[string]any)) (*SubscriptionDTO, error) {
	var out *subscription.Subscription
	err := e.withLock(ctx, id, func() error {
		sub, err := e.subs.FindByID(ctx, id)
		if err != nil {
			return err
		}
		from := sub.Status()

		action, payload, err := apply(sub, e.now())
		if err != nil {
			return err
		}
		sub.IncrementVersion()
		if err := e.subs.Update(ctx, sub); err != nil {
			return err
		}

		if payload == nil {
			payload = map[string]any{}
		}
		payload["old_status"] = string(from)
		payload["new_status"] = string(sub.Status())
		if afterPersist != nil {
			afterPersist(sub, payload)
		}

		out = sub
		e.logger.Info("subscription "+string(action),
			zap.String("subscription_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(sub.Status())),
			zap.String("actor", actor),
		)
		return e.record(ctx, sub, action, from, payload, actor)
	})
	if err != nil {
		return nil, err
	}
	return e.dto(out), nil
}

func (e *LifecycleEngine) withLock(ctx context.Context, id uuid.UUID, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	unlock, err := e.locker.Acquire(lockCtx, "subscription:"+id.String())
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return apperr.NewConflictError("subscription is being modified, try again")
		}
		return err
	}
	defer unlock()
	return fn()
}

// record appends the history event and notifies observers.
func (e *LifecycleEngine) record(ctx context.Context, sub *subscription.Subscription, action history.Action, from subscription.Status, payload map[string]any, actor string) error {
	ev := history.NewEvent(sub.ID(), action, actor, payload, e.now())
	if err := e.history.Append(ctx, ev); err != nil {
		e.logger.Error("failed to append history",
			zap.String("subscription_id", sub.ID().String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return fmt.Errorf("append history: %w", err)
	}

	t := Transition{
		EventID:        ev.ID,
		SubscriptionID: sub.ID(),
		CustomerID:     sub.CustomerID(),
		Action:         action,
		From:           from,
		To:             sub.Status(),
		Amount:         sub.Amount(),
		Currency:       sub.Currency(),
		Payload:        payload,
		Actor:          ev.Actor,
		OccurredAt:     ev.CreatedAt,
	}
	for _, o := range e.observers {
		o.OnTransition(ctx, t)
	}
	return nil
}

func gatewayPayload(err *gateway.GatewayError) map[string]any {
	return map[string]any{
		"code":      err.Code,
		"message":   err.Message,
		"retryable": err.Retryable,
	}
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
