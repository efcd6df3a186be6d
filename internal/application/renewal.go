package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// ErrNotDue is returned by ProcessDue when nothing is scheduled for the subscription.
var ErrNotDue = errors.New("subscription is not due")

// Charge outcomes reported by ProcessDue.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeExpired   = "expired"
	OutcomeIgnored   = "ignored"
)

// ProcessResult describes what ProcessDue did.
type ProcessResult struct {
	Subscription *SubscriptionDTO
	Due          subscription.DueKind
	Outcome      string
	ChargeID     string
	Err          *gateway.GatewayError
}

// ProcessDue runs whichever scheduled transition is pending for one subscription: trial end,
// renewal, dunning retry, incomplete retry or incomplete expiry. The record is re-read under the
// subscription lock, so concurrent triggers charge at most once per cycle.
// Gateway failures are recorded on the subscription and reported in the result, not returned.
func (e *LifecycleEngine) ProcessDue(ctx context.Context, id uuid.UUID) (*ProcessResult, error) {
	var res *ProcessResult
	err := e.withLock(ctx, id, func() error {
		sub, err := e.subs.FindByID(ctx, id)
		if err != nil {
			return err
		}

		due := sub.DueAt(e.now(), e.cfg.Policy)
		switch due {
		case subscription.DueNone:
			return ErrNotDue
		case subscription.DueIncompleteExpire:
			res, err = e.expireIncomplete(ctx, sub)
		default:
			res, err = e.charge(ctx, sub, due)
		}
		return err
	})
	return res, err
}

func (e *LifecycleEngine) expireIncomplete(ctx context.Context, sub *subscription.Subscription) (*ProcessResult, error) {
	from := sub.Status()
	if err := sub.ExpireIncomplete(e.now()); err != nil {
		return nil, err
	}
	sub.IncrementVersion()
	if err := e.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"old_status": string(from),
		"new_status": string(sub.Status()),
		"reason":     "initial payment not completed",
	}
	if err := e.record(ctx, sub, history.ActionStatusChanged, from, payload, history.ActorSystem); err != nil {
		return nil, err
	}
	e.logger.Info("incomplete subscription expired", zap.String("subscription_id", sub.ID().String()))
	return &ProcessResult{Subscription: e.dto(sub), Due: subscription.DueIncompleteExpire, Outcome: OutcomeExpired}, nil
}

func (e *LifecycleEngine) charge(ctx context.Context, sub *subscription.Subscription, due subscription.DueKind) (*ProcessResult, error) {
	from := sub.Status()
	anchor := sub.CreatedAt()
	if sub.NextPaymentAt() != nil {
		anchor = *sub.NextPaymentAt()
	}

	chargeRes, chargeErr := e.gateway.Charge(ctx, gateway.ChargeRequest{
		SubscriptionID: sub.ID(),
		CustomerID:     sub.CustomerID(),
		PaymentMethod:  sub.PaymentMethod(),
		AmountMinor:    money.MinorUnits(sub.Amount(), sub.Currency()),
		Currency:       sub.Currency(),
		IdempotencyKey: fmt.Sprintf("%s:%d:%d", sub.ID(), anchor.Unix(), sub.FailedPaymentAttempts()),
	})
	var gwErr *gateway.GatewayError
	if chargeErr != nil {
		gwErr = gateway.AsGatewayError("charge", chargeErr)
	}
	now := e.now()

	apply := func(s *subscription.Subscription) (subscription.ChargeOutcome, error) {
		if gwErr == nil {
			return s.RecordChargeSuccess(now)
		}
		return s.RecordChargeFailure(gwErr.Retryable, e.cfg.Policy, now)
	}

	// The lock normally prevents concurrent writers; the version check covers lockers that are not shared.
	applied := false
	var outcome subscription.ChargeOutcome
	for attempt := 0; attempt < 2 && sub.IsChargeable(); attempt++ {
		out, err := apply(sub)
		if err != nil {
			return nil, err
		}
		sub.IncrementVersion()
		err = e.subs.Update(ctx, sub)
		if err == nil {
			applied, outcome = true, out
			break
		}
		if !apperr.IsConflict(err) {
			return nil, err
		}
		if sub, err = e.subs.FindByID(ctx, sub.ID()); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"due":      string(due),
		"amount":   sub.Amount().String(),
		"currency": sub.Currency(),
	}
	action := history.ActionPaymentFailed
	result := &ProcessResult{Due: due, Err: gwErr}
	if gwErr == nil {
		action = history.ActionPaymentSucceeded
		if from == subscription.StatusActive || from == subscription.StatusPastDue {
			action = history.ActionRenewed
		}
		payload["charge_id"] = chargeRes.ChargeID
		result.ChargeID = chargeRes.ChargeID
		result.Outcome = OutcomeSucceeded
	} else {
		for k, v := range gatewayPayload(gwErr) {
			payload[k] = v
		}
		result.Outcome = OutcomeFailed
	}

	if applied {
		payload["old_status"] = string(from)
		payload["new_status"] = string(outcome.To)
		payload["next_payment_at"] = timeValue(outcome.NextDueAt)
		if gwErr != nil {
			payload["attempts"] = outcome.Attempts
		}
	} else {
		// Cancelled or paused while the charge was in flight; the status is kept.
		payload["ignored"] = true
		payload["status"] = string(sub.Status())
		result.Outcome = OutcomeIgnored
		e.logger.Warn("charge result not applied, subscription changed during charge",
			zap.String("subscription_id", sub.ID().String()),
			zap.String("status", string(sub.Status())),
		)
	}

	if err := e.record(ctx, sub, action, from, payload, history.ActorSystem); err != nil {
		return nil, err
	}

	logFields := []zap.Field{
		zap.String("subscription_id", sub.ID().String()),
		zap.String("due", string(due)),
		zap.String("from", string(from)),
		zap.String("to", string(sub.Status())),
	}
	if gwErr != nil {
		e.logger.Warn("subscription charge failed", append(logFields, zap.Error(gwErr))...)
	} else {
		e.logger.Info("subscription charged", append(logFields, zap.String("charge_id", chargeRes.ChargeID))...)
	}

	result.Subscription = e.dto(sub)
	return result, nil
}

// DueIDs lists subscription ids matching q for the sweeper.
func (e *LifecycleEngine) DueIDs(ctx context.Context, q subscription.DueQuery) ([]uuid.UUID, error) {
	subs, err := e.subs.FindDue(ctx, q)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(subs))
	for i, s := range subs {
		ids[i] = s.ID()
	}
	return ids, nil
}

// Policy returns the dunning policy in use.
func (e *LifecycleEngine) Policy() subscription.DunningPolicy { return e.cfg.Policy }

// Now returns the engine clock.
func (e *LifecycleEngine) Now() time.Time { return e.now() }
