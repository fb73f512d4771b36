package cash_session

import (
	"context"
	"log/slog"

	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/domain/till"
	"github.com/till-ledger/internal/platform/metrics"
)

// SagaState is the terminal state of a multi-step booking
type SagaState string

const (
	SagaCompleted SagaState = "completed"
	SagaPartial   SagaState = "partially_applied"
	SagaFailed    SagaState = "failed"
)

// StepState is what happened to one step of a booking
type StepState string

const (
	StepApplied     StepState = "applied"
	StepFailed      StepState = "failed"
	StepCompensated StepState = "compensated"
	StepNotRun      StepState = "not_run"
)

// Step reports one step of a booking
type Step struct {
	Name  string    `json:"name"`
	State StepState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// Outcome is the aggregate result of a booking
type Outcome struct {
	State     SagaState     `json:"state"`
	Steps     []Step        `json:"steps"`
	Duplicate bool          `json:"duplicate"`
	Session   till.Session  `json:"session"`
	Movement  till.Movement `json:"movement"`
}

// PartialFailureError is returned when a booking stopped with some steps
// applied that could not be undone
type PartialFailureError struct {
	Operation string
	Step      string
	Err       error
}

func (e PartialFailureError) Error() string {
	return e.Operation + " partially applied, step " + e.Step + " failed: " + e.Err.Error()
}

func (e PartialFailureError) Is(target error) bool {
	return target == shared.ErrPartialFailure
}

func (e PartialFailureError) Unwrap() error {
	return e.Err
}

// sagaStep is one ordered write. A nil compensate means the step stays applied
// when a later step fails.
type sagaStep struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSaga applies steps in order. On failure it compensates the applied steps
// in reverse; the booking is failed when nothing remains applied and partial otherwise.
func runSaga(ctx context.Context, logger *slog.Logger, operation string, steps []sagaStep) (Outcome, error) {
	out := Outcome{Steps: make([]Step, len(steps))}
	for i, s := range steps {
		out.Steps[i] = Step{Name: s.name, State: StepNotRun}
	}

	failed := -1
	var cause error
	for i, s := range steps {
		if err := s.run(ctx); err != nil {
			out.Steps[i].State = StepFailed
			out.Steps[i].Error = err.Error()
			failed, cause = i, err
			break
		}
		out.Steps[i].State = StepApplied
	}
	if failed < 0 {
		out.State = SagaCompleted
		metrics.SagaOutcomes.WithLabelValues(operation, string(out.State)).Inc()
		return out, nil
	}

	residual := false
	for i := failed - 1; i >= 0; i-- {
		s := steps[i]
		if s.compensate == nil {
			residual = true
			continue
		}
		if err := s.compensate(ctx); err != nil {
			logger.Error("Compensation failed", "operation", operation, "step", s.name, "error", err)
			out.Steps[i].Error = "compensation failed: " + err.Error()
			residual = true
			continue
		}
		out.Steps[i].State = StepCompensated
	}

	if residual {
		out.State = SagaPartial
		metrics.SagaOutcomes.WithLabelValues(operation, string(out.State)).Inc()
		logger.Error("Booking partially applied", "operation", operation, "step", steps[failed].name, "error", cause)
		return out, PartialFailureError{Operation: operation, Step: steps[failed].name, Err: cause}
	}
	out.State = SagaFailed
	metrics.SagaOutcomes.WithLabelValues(operation, string(out.State)).Inc()
	logger.Warn("Booking failed and was rolled back", "operation", operation, "step", steps[failed].name, "error", cause)
	return out, cause
}
