package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SagaStep represents a single step in a saga with execute and compensate actions.
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga orchestrates a sequence of steps with compensating transactions on failure.
type Saga struct {
	name   string
	steps  []SagaStep
	logger *zap.Logger
}

// NewSaga creates a new saga orchestrator.
func NewSaga(name string, logger *zap.Logger) *Saga {
	return &Saga{
		name:   name,
		steps:  make([]SagaStep, 0),
		logger: logger,
	}
}

// AddStep appends a step to the saga.
func (s *Saga) AddStep(step SagaStep) {
	s.steps = append(s.steps, step)
}

// Execute runs all saga steps in order. On failure, it compensates executed steps in reverse order.
// Compensations run detached from ctx cancellation so a timed-out request still cleans up.
// The returned error wraps the step error and any compensation errors.
func (s *Saga) Execute(ctx context.Context) error {
	s.logger.Info("saga started", zap.String("saga", s.name))

	executedSteps := make([]SagaStep, 0, len(s.steps))

	for _, step := range s.steps {
		s.logger.Info("executing saga step",
			zap.String("saga", s.name),
			zap.String("step", step.Name),
		)

		if err := step.Execute(ctx); err != nil {
			s.logger.Error("saga step failed, starting compensation",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Error(err),
			)

			compCtx := context.WithoutCancel(ctx)
			var compErrs []error
			for i := len(executedSteps) - 1; i >= 0; i-- {
				compensateStep := executedSteps[i]
				if compensateStep.Compensate != nil {
					s.logger.Info("compensating saga step",
						zap.String("saga", s.name),
						zap.String("step", compensateStep.Name),
					)
					if compErr := compensateStep.Compensate(compCtx); compErr != nil {
						compErrs = append(compErrs, fmt.Errorf("compensate %s: %w", compensateStep.Name, compErr))
						s.logger.Error("compensation failed",
							zap.String("saga", s.name),
							zap.String("step", compensateStep.Name),
							zap.Error(compErr),
						)
					}
				}
			}

			stepErr := &StepError{Saga: s.name, Step: step.Name, Err: err}
			if len(compErrs) > 0 {
				return errors.Join(append([]error{stepErr}, compErrs...)...)
			}
			return stepErr
		}

		executedSteps = append(executedSteps, step)
	}

	s.logger.Info("saga completed successfully", zap.String("saga", s.name))
	return nil
}

// StepError identifies the step that aborted a saga.
type StepError struct {
	Saga string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga '%s' failed at step '%s': %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
