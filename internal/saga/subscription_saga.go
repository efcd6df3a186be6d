package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
)

// Step names of the create-subscription saga.
const (
	StepPersist        = "persist_subscription"
	StepRedeemCoupon   = "redeem_coupon"
	StepExternalCreate = "create_external_subscription"
	StepInitialCharge  = "initial_charge"
	StepFinalize       = "finalize"
)

// CreateSubscriptionInput is a validated, not yet persisted subscription.
type CreateSubscriptionInput struct {
	Subscription *subscription.Subscription
	Customer     *customer.Customer
	Now          time.Time
}

// CreateSubscriptionResult reports how the saga ended when it did not roll back.
type CreateSubscriptionResult struct {
	Subscription *subscription.Subscription
	ChargeID     string

	// ChargeErr is set when the initial charge failed but can be retried; the subscription stays incomplete.
	ChargeErr *gateway.GatewayError
}

// SubscriptionSagaService orchestrates subscription creation across the store, coupons and the gateway.
type SubscriptionSagaService struct {
	subs    subscription.SubscriptionRepository
	coupons coupon.CouponRepository
	gateway gateway.PaymentGateway
	policy  subscription.DunningPolicy
	logger  *zap.Logger
}

// NewSubscriptionSagaService creates a new SubscriptionSagaService.
func NewSubscriptionSagaService(
	subs subscription.SubscriptionRepository,
	coupons coupon.CouponRepository,
	gw gateway.PaymentGateway,
	policy subscription.DunningPolicy,
	logger *zap.Logger,
) *SubscriptionSagaService {
	return &SubscriptionSagaService{
		subs:    subs,
		coupons: coupons,
		gateway: gw,
		policy:  policy,
		logger:  logger,
	}
}

// CreateSubscription persists the subscription, redeems its coupon, registers it with the gateway and
// takes the first payment when there is no trial. Any failure except a retryable first charge rolls
// every completed step back and is returned as a *StepError.
func (s *SubscriptionSagaService) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*CreateSubscriptionResult, error) {
	sub := in.Subscription
	result := &CreateSubscriptionResult{Subscription: sub}

	sg := NewSaga("create_subscription", s.logger)

	sg.AddStep(SagaStep{
		Name: StepPersist,
		Execute: func(ctx context.Context) error {
			return s.subs.Save(ctx, sub)
		},
		Compensate: func(ctx context.Context) error {
			return s.subs.Delete(ctx, sub.ID())
		},
	})

	if code := sub.CouponCode(); code != "" {
		sg.AddStep(SagaStep{
			Name: StepRedeemCoupon,
			Execute: func(ctx context.Context) error {
				return s.coupons.Redeem(ctx, code)
			},
			Compensate: func(ctx context.Context) error {
				return s.coupons.Release(ctx, code)
			},
		})
	}

	sg.AddStep(SagaStep{
		Name: StepExternalCreate,
		Execute: func(ctx context.Context) error {
			externalID, err := s.gateway.CreateExternalSubscription(ctx, gateway.ExternalSubscriptionRequest{
				SubscriptionID: sub.ID(),
				CustomerID:     sub.CustomerID(),
				CustomerEmail:  in.Customer.Email(),
				PaymentMethod:  sub.PaymentMethod(),
				PlanName:       sub.PlanName(),
				AmountMinor:    money.MinorUnits(sub.Amount(), sub.Currency()),
				Currency:       sub.Currency(),
				IntervalUnit:   string(sub.Interval().Unit),
				IntervalCount:  sub.Interval().Count,
				TrialEndAt:     sub.TrialEndAt(),
			})
			if err != nil {
				return gateway.AsGatewayError("create_subscription", err)
			}
			sub.SetExternalSubscriptionID(externalID, in.Now)
			return nil
		},
		Compensate: func(ctx context.Context) error {
			if sub.ExternalSubscriptionID() == "" {
				return nil
			}
			return s.gateway.CancelExternalSubscription(ctx, sub.ExternalSubscriptionID())
		},
	})

	if sub.Status() == subscription.StatusIncomplete {
		sg.AddStep(SagaStep{
			Name: StepInitialCharge,
			Execute: func(ctx context.Context) error {
				res, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
					SubscriptionID: sub.ID(),
					CustomerID:     sub.CustomerID(),
					PaymentMethod:  sub.PaymentMethod(),
					AmountMinor:    money.MinorUnits(sub.Amount(), sub.Currency()),
					Currency:       sub.Currency(),
					IdempotencyKey: fmt.Sprintf("%s:initial", sub.ID()),
				})
				if err != nil {
					gwErr := gateway.AsGatewayError("charge", err)
					if !gwErr.Retryable {
						return gwErr
					}
					if _, ferr := sub.RecordChargeFailure(true, s.policy, in.Now); ferr != nil {
						return ferr
					}
					result.ChargeErr = gwErr
					return nil
				}
				if _, serr := sub.RecordChargeSuccess(in.Now); serr != nil {
					return serr
				}
				result.ChargeID = res.ChargeID
				return nil
			},
		})
	}

	sg.AddStep(SagaStep{
		Name: StepFinalize,
		Execute: func(ctx context.Context) error {
			sub.IncrementVersion()
			return s.subs.Update(ctx, sub)
		},
	})

	if err := sg.Execute(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// FailedStep returns the name of the step that aborted a saga, or "".
func FailedStep(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}
