package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// CallObserver receives the outcome of every gateway call.
type CallObserver interface {
	ObserveGatewayCall(op, outcome string, elapsed time.Duration)
	ObserveBreakerState(op string, state string)
}

// ResilientConfig tunes ResilientGateway.
type ResilientConfig struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// ResilientGateway wraps a PaymentGateway with a per-call timeout and a circuit breaker per operation.
// Terminal declines are reported as successes to the breaker so they never trip it.
type ResilientGateway struct {
	next     PaymentGateway
	cfg      ResilientConfig
	observer CallObserver
	logger   *zap.Logger

	charge *gobreaker.CircuitBreaker[ChargeResult]
	create *gobreaker.CircuitBreaker[string]
	cancel *gobreaker.CircuitBreaker[struct{}]
}

// NewResilientGateway creates a ResilientGateway. observer may be nil.
func NewResilientGateway(next PaymentGateway, cfg ResilientConfig, observer CallObserver, logger *zap.Logger) *ResilientGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	g := &ResilientGateway{next: next, cfg: cfg, observer: observer, logger: logger}
	g.charge = gobreaker.NewCircuitBreaker[ChargeResult](g.settings("charge"))
	g.create = gobreaker.NewCircuitBreaker[string](g.settings("create_subscription"))
	g.cancel = gobreaker.NewCircuitBreaker[struct{}](g.settings("cancel_subscription"))
	return g
}

func (g *ResilientGateway) settings(op string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        op,
		MaxRequests: g.cfg.HalfOpenRequests,
		Timeout:     g.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= g.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("gateway circuit breaker state changed",
				zap.String("operation", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if g.observer != nil {
				g.observer.ObserveBreakerState(name, to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	}
}

// Charge implements PaymentGateway.
func (g *ResilientGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	return run(ctx, g, g.charge, "charge", func(ctx context.Context) (ChargeResult, error) {
		return g.next.Charge(ctx, req)
	})
}

// CreateExternalSubscription implements PaymentGateway.
func (g *ResilientGateway) CreateExternalSubscription(ctx context.Context, req ExternalSubscriptionRequest) (string, error) {
	return run(ctx, g, g.create, "create_subscription", func(ctx context.Context) (string, error) {
		return g.next.CreateExternalSubscription(ctx, req)
	})
}

// CancelExternalSubscription implements PaymentGateway.
func (g *ResilientGateway) CancelExternalSubscription(ctx context.Context, externalID string) error {
	_, err := run(ctx, g, g.cancel, "cancel_subscription", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.CancelExternalSubscription(ctx, externalID)
	})
	return err
}

func run[T any](ctx context.Context, g *ResilientGateway, cb *gobreaker.CircuitBreaker[T], op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	result, err := cb.Execute(func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		res, err := fn(callCtx)
		if err != nil {
			return res, AsGatewayError(op, err)
		}
		return res, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &GatewayError{Op: op, Code: CodeCircuitOpen, Message: "payment gateway unavailable", Retryable: true, Err: err}
	}
	g.observe(op, err, time.Since(start))
	return result, err
}

func (g *ResilientGateway) observe(op string, err error, elapsed time.Duration) {
	if g.observer == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = AsGatewayError(op, err).Code
	}
	g.observer.ObserveGatewayCall(op, outcome, elapsed)
}
