package orchestrator

import (
	"errors"
	"fmt"

	"github.com/makeasinger/videoagent/internal/model"
)

var (
	ErrNoUserInput      = errors.New("orchestrator: no user input in history")
	ErrNotAwaitingInput = errors.New("orchestrator: task is not awaiting input")
	ErrTaskTerminal     = errors.New("orchestrator: task is in a terminal state")
	ErrTaskNotFound     = errors.New("orchestrator: task not found")
	ErrMissingArtifact  = errors.New("orchestrator: required artifact is missing")
)

// UnknownStepError is raised when a task names a step the engine does not
// know. It is never retried.
type UnknownStepError struct {
	Step model.Step
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("orchestrator: unknown step %q", string(e.Step))
}

func (e *UnknownStepError) Permanent() bool { return true }

// UnknownActionError is raised for an unrecognized interpreter action when
// the policy is to fail.
type UnknownActionError struct {
	Action model.FeedbackAction
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("orchestrator: unrecognized feedback action %q", string(e.Action))
}

func (e *UnknownActionError) Permanent() bool { return true }

// StepError wraps a collaborator failure with the step it happened in.
type StepError struct {
	Step model.Step
	Op   string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Op, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step model.Step, op string, err error) error {
	return &StepError{Step: step, Op: op, Err: err}
}
