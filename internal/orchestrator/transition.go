package orchestrator

import (
	"fmt"

	"github.com/makeasinger/videoagent/internal/model"
)

// ActionPolicy decides what an unrecognized interpreter action means.
type ActionPolicy string

const (
	// ActionPolicyAccept treats an unknown action as accept so the workflow
	// never stalls on an interpreter quirk.
	ActionPolicyAccept ActionPolicy = "accept"
	// ActionPolicyFail fails the task instead.
	ActionPolicyFail ActionPolicy = "fail"
)

// Effect is what the engine does after a feedback decision.
type Effect string

const (
	EffectAdvance  Effect = "advance"
	EffectRerun    Effect = "rerun"
	EffectComplete Effect = "complete"
	EffectFail     Effect = "fail"
)

// Transition maps the paused step and the interpreter's action to the next
// step and the effect to apply. It has no side effects.
func Transition(step model.Step, action model.FeedbackAction, policy ActionPolicy) (model.Step, Effect, error) {
	if !step.Valid() {
		return step, EffectFail, &UnknownStepError{Step: step}
	}
	if step.IsTerminal() {
		return step, EffectFail, fmt.Errorf("%w: step %s", ErrTaskTerminal, step)
	}

	if !action.Known() {
		if policy == ActionPolicyFail {
			return model.StepFailed, EffectFail, &UnknownActionError{Action: action}
		}
		action = model.FeedbackAccept
	}

	switch action {
	case model.FeedbackRetry, model.FeedbackModify:
		return step, EffectRerun, nil
	default:
		next, _ := step.Next()
		if next == model.StepCompleted {
			return next, EffectComplete, nil
		}
		return next, EffectAdvance, nil
	}
}
