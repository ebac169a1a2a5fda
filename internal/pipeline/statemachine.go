package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// State names the pipeline stages. Stages advance strictly in order; any
// failure moves directly to StateFailed with no stage retry.
type State string

const (
	StateExtracting       State = "extracting"
	StateAfterExtractHook State = "after_extract_hook"
	StateBeforeSaveHook   State = "before_save_hook"
	StateWriting          State = "writing"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Stages holds the work executed at each state. Nil steps are skipped.
type Stages struct {
	Extract          func(ctx context.Context) error
	AfterExtractHook func(ctx context.Context) error
	BeforeSaveHook   func(ctx context.Context) error
	Write            func(ctx context.Context) error
}

// Outcome is the terminal result of one state machine run.
type Outcome struct {
	State        State
	FailedAt     State
	ErrorMessage string
}

// StateMachine sequences extract, hooks and write for one run, capturing the
// terminal result.
type StateMachine struct {
	logger *slog.Logger
	state  State
}

// NewStateMachine creates a machine positioned before the first stage.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{logger: logger, state: StateExtracting}
}

// State returns the machine's current state.
func (sm *StateMachine) State() State { return sm.state }

// Run drives the stages in order. The first stage error (or context
// cancellation between stages) transitions the machine to StateFailed and is
// captured in the outcome; no stage is retried.
func (sm *StateMachine) Run(ctx context.Context, stages Stages) Outcome {
	steps := []struct {
		state State
		fn    func(ctx context.Context) error
	}{
		{StateExtracting, stages.Extract},
		{StateAfterExtractHook, stages.AfterExtractHook},
		{StateBeforeSaveHook, stages.BeforeSaveHook},
		{StateWriting, stages.Write},
	}

	for _, step := range steps {
		sm.state = step.state
		if err := ctx.Err(); err != nil {
			return sm.fail(step.state, err)
		}
		if step.fn == nil {
			continue
		}
		sm.logger.Debug("pipeline stage", "state", step.state)
		if err := step.fn(ctx); err != nil {
			return sm.fail(step.state, err)
		}
	}

	sm.state = StateSucceeded
	return Outcome{State: StateSucceeded}
}

func (sm *StateMachine) fail(at State, err error) Outcome {
	sm.state = StateFailed
	sm.logger.Error("pipeline stage failed", "state", at, "error", err)
	return Outcome{
		State:        StateFailed,
		FailedAt:     at,
		ErrorMessage: fmt.Sprintf("%s: %v", at, err),
	}
}
