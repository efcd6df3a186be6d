package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
)

// ErrSweepInProgress is returned when a sweep is requested while another is running.
var ErrSweepInProgress = errors.New("renewal sweep already in progress")

const maxReportedErrors = 50

// DueProcessor is the part of the engine the sweeper drives.
type DueProcessor interface {
	DueIDs(ctx context.Context, q subscription.DueQuery) ([]uuid.UUID, error)
	ProcessDue(ctx context.Context, id uuid.UUID) (*ProcessResult, error)
	Policy() subscription.DunningPolicy
	Now() time.Time
}

// SweepObserver receives each finished sweep report.
type SweepObserver interface {
	ObserveSweep(report SweepReport)
}

// SweepConfig tunes the renewal sweep.
type SweepConfig struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
}

// SweepError is one subscription that could not be processed.
type SweepError struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Error          string    `json:"error"`
}

// SweepReport summarises a sweep.
type SweepReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Scanned    int           `json:"scanned"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Expired    int           `json:"expired"`
	Skipped    int           `json:"skipped"`
	Errored    int           `json:"errored"`
	Errors     []SweepError  `json:"errors,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// RenewalSweeper periodically finds due subscriptions and processes them on a bounded worker pool.
type RenewalSweeper struct {
	engine    DueProcessor
	cfg       SweepConfig
	observers []SweepObserver
	running   atomic.Bool
	logger    *zap.Logger
}

// NewRenewalSweeper creates a new RenewalSweeper.
func NewRenewalSweeper(engine DueProcessor, cfg SweepConfig, logger *zap.Logger, observers ...SweepObserver) *RenewalSweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &RenewalSweeper{engine: engine, cfg: cfg, observers: observers, logger: logger}
}

// dueQueries returns one query per scheduled transition kind.
func (s *RenewalSweeper) dueQueries(now time.Time) []subscription.DueQuery {
	policy := s.engine.Policy()
	retryBefore := now.Add(-policy.RetryInterval)
	return []subscription.DueQuery{
		{Status: subscription.StatusTrialing, DueBefore: &now},
		{Status: subscription.StatusActive, DueBefore: &now},
		{Status: subscription.StatusPastDue, AttemptBefore: &retryBefore},
		{Status: subscription.StatusIncomplete},
	}
}

// Run performs one sweep. A failure on one subscription never stops the others.
func (s *RenewalSweeper) Run(ctx context.Context) (SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	now := s.engine.Now()
	report := SweepReport{StartedAt: now}
	var mu sync.Mutex

	tally := func(id uuid.UUID, res *ProcessResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, ErrNotDue):
			report.Skipped++
		case err != nil:
			report.Errored++
			if len(report.Errors) < maxReportedErrors {
				report.Errors = append(report.Errors, SweepError{SubscriptionID: id, Error: err.Error()})
			}
			s.logger.Error("renewal sweep failed for subscription",
				zap.String("subscription_id", id.String()),
				zap.Error(err),
			)
		case res.Outcome == OutcomeSucceeded:
			report.Succeeded++
		case res.Outcome == OutcomeExpired:
			report.Expired++
		case res.Outcome == OutcomeIgnored:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	for _, q := range s.dueQueries(now) {
		q.Limit = s.cfg.BatchSize
		for {
			if err := ctx.Err(); err != nil {
				return s.finish(report), err
			}
			ids, err := s.engine.DueIDs(ctx, q)
			if err != nil {
				return s.finish(report), err
			}
			if len(ids) == 0 {
				break
			}
			report.Scanned += len(ids)

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(s.cfg.Concurrency)
			for _, id := range ids {
				g.Go(func() error {
					res, err := s.engine.ProcessDue(gctx, id)
					tally(id, res, err)
					return nil
				})
			}
			_ = g.Wait()

			if len(ids) < q.Limit {
				break
			}
			q.AfterID = ids[len(ids)-1]
		}
	}

	return s.finish(report), nil
}

func (s *RenewalSweeper) finish(report SweepReport) SweepReport {
	report.FinishedAt = s.engine.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	s.logger.Info("renewal sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("expired", report.Expired),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored),
		zap.Duration("duration", report.Duration),
	)
	for _, o := range s.observers {
		o.ObserveSweep(report)
	}
	return report
}

// Start runs a sweep every interval until ctx is cancelled.
func (s *RenewalSweeper) Start(ctx context.Context) {
	s.logger.Info("renewal sweeper started", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("renewal sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("renewal sweep aborted", zap.Error(err))
			}
		}
	}
}
