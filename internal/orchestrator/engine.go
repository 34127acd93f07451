// Package orchestrator runs the music video pipeline one step at a time.
//
// The engine is reentrant: each invocation reads the task's current step,
// persisted step input and history, runs exactly that step and reports
// progress through a port. Nothing is held in memory across an
// input-required pause.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/queue"
)

type Config struct {
	// ImageConcurrency bounds parallel image generation calls
	ImageConcurrency int
	// ClipConcurrency bounds parallel clip generation calls
	ClipConcurrency int
	// UnknownAction is applied to interpreter actions other than
	// accept, retry and modify
	UnknownAction ActionPolicy
	// VideoStyle is passed to image and clip generators
	VideoStyle string
}

func DefaultConfig() Config {
	return Config{
		ImageConcurrency: 4,
		ClipConcurrency:  2,
		UnknownAction:    ActionPolicyAccept,
		VideoStyle:       "cinematic",
	}
}

type Engine struct {
	cfg     Config
	c       Collaborators
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(cfg Config, c Collaborators, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.ImageConcurrency < 1 {
		cfg.ImageConcurrency = 1
	}
	if cfg.ClipConcurrency < 1 {
		cfg.ClipConcurrency = 1
	}
	if cfg.UnknownAction == "" {
		cfg.UnknownAction = ActionPolicyAccept
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		c:       c,
		logger:  logger.Named("engine"),
		metrics: m,
		now:     time.Now,
	}
}

// Run executes the task's current step. A non-empty override replaces the
// step's input for this invocation. When io can wait for input inline, Run
// keeps going through feedback rounds until the task completes or the port
// is closed.
func (e *Engine) Run(ctx context.Context, task *model.Task, io port.IO, override string) error {
	t := task.Clone()
	for {
		if err := e.execute(ctx, t, io, override); err != nil {
			return err
		}

		req, ok := io.(port.InputRequester)
		if !ok || t.Status.State != model.TaskStateInputRequired {
			return nil
		}

		prompt := ""
		if t.Status.Message != nil {
			prompt = t.Status.Message.Text()
		}
		reply, err := req.OnInputRequired(ctx, prompt, t.Artifacts)
		if err != nil {
			if errors.Is(err, port.ErrInputClosed) {
				e.logger.Info("inline input closed, task stays paused", zap.String("task_id", t.ID))
				return nil
			}
			return err
		}
		t.History = append(t.History, model.NewUserMessage(t.ID, t.ContextID, reply))

		override, err = e.decide(ctx, t)
		if err != nil {
			return err
		}
	}
}

// HandleUserFeedback interprets the latest user message on a paused task and
// runs the step the decision leads to.
func (e *Engine) HandleUserFeedback(ctx context.Context, task *model.Task, io port.IO) error {
	if task.Status.State.IsTerminal() {
		return queue.Permanent(fmt.Errorf("%w: %s", ErrTaskTerminal, task.Status.State))
	}
	if task.Status.State != model.TaskStateInputRequired {
		return queue.Permanent(fmt.Errorf("%w: state is %s", ErrNotAwaitingInput, task.Status.State))
	}

	t := task.Clone()
	override, err := e.decide(ctx, t)
	if err != nil {
		return err
	}
	return e.Run(ctx, t, io, override)
}

// decide asks the interpreter about the last user message and moves the
// working copy to the step the transition selects. It returns the input
// override for that step.
func (e *Engine) decide(ctx context.Context, t *model.Task) (string, error) {
	step := t.Metadata.CurrentStep
	if !step.Valid() {
		return "", &UnknownStepError{Step: step}
	}

	card, err := e.c.Cards.AgentCard(ctx, step.Agent())
	if err != nil {
		return "", stepErr(step, "resolve agent card", err)
	}

	msg, ok := t.LastUserMessage()
	if !ok {
		return "", queue.Permanent(ErrNoUserInput)
	}

	decision, err := e.c.Interpreter.Interpret(ctx, model.FeedbackRequest{
		Step:           step,
		History:        t.History,
		PreviousOutput: t.Artifacts,
		UserComment:    msg.Text(),
		AgentCard:      card,
	})
	if err != nil {
		return "", stepErr(step, "interpret feedback", err)
	}

	next, effect, err := Transition(step, decision.Action, e.cfg.UnknownAction)
	if err != nil {
		return "", err
	}

	e.logger.Info("feedback interpreted",
		zap.String("task_id", t.ID),
		zap.String("step", string(step)),
		zap.String("action", string(decision.Action)),
		zap.String("effect", string(effect)),
		zap.String("next", string(next)),
	)

	switch effect {
	case EffectRerun:
		if decision.NewInput != "" {
			t.Metadata.StepInput = decision.NewInput
		}
		return t.Metadata.StepInput, nil
	default:
		t.Metadata.CurrentStep = next
		t.Metadata.StepInput = ""
		return "", nil
	}
}

// execute runs the task's current step against the working copy t.
func (e *Engine) execute(ctx context.Context, t *model.Task, io port.IO, override string) error {
	step := t.Metadata.CurrentStep
	input := resolveInput(t, override)

	var run func(context.Context, *model.Task, port.IO, string) error
	switch step {
	case model.StepGenerateSong:
		run = e.generateSong
	case model.StepGenerateScript:
		run = e.generateScript
	case model.StepGenerateImages:
		run = e.generateImages
	case model.StepGenerateVideoClips:
		run = e.generateClips
	case model.StepCompileAndUploadVideo:
		run = e.compileAndUpload
	case model.StepCompleted:
		if t.Status.State.IsTerminal() {
			return nil
		}
		return e.emit(ctx, t, io, model.OrchestrationProgress{
			State:    model.TaskStateCompleted,
			Text:     completionText(t),
			Metadata: model.StepMetadata(model.StepCompleted, ""),
		})
	case model.StepFailed:
		return nil
	default:
		return &UnknownStepError{Step: step}
	}

	start := e.now()
	err := run(ctx, t, io, input)
	e.observe(step, start, err)
	if err != nil {
		e.logger.Warn("step failed", zap.String("task_id", t.ID), zap.String("step", string(step)), zap.Error(err))
	}
	return err
}

// emit persists p through the port, then applies it to the working copy so
// later steps in the same invocation see it.
func (e *Engine) emit(ctx context.Context, t *model.Task, io port.IO, p model.OrchestrationProgress) error {
	if err := io.OnProgress(ctx, p); err != nil {
		return err
	}
	t.Apply(p, e.now().UTC())
	return nil
}

func (e *Engine) observe(step model.Step, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.StepDuration.WithLabelValues(string(step), outcome).Observe(time.Since(start).Seconds())
}

// resolveInput picks the step input: an explicit override, then the input
// persisted for the step, then the latest user message.
func resolveInput(t *model.Task, override string) string {
	if override != "" {
		return override
	}
	if t.Metadata.StepInput != "" {
		return t.Metadata.StepInput
	}
	// Later steps start without input; the comment that accepted the
	// previous step is not a direction.
	if t.Metadata.CurrentStep == model.StepGenerateSong {
		return t.Request()
	}
	return ""
}

func completionText(t *model.Task) string {
	if a, ok := t.Artifact(model.ArtifactFinalVideo); ok {
		var v model.UploadedVideo
		if err := decodeArtifact(a, &v); err == nil && v.URL != "" {
			return fmt.Sprintf("Your music video is complete: %s", v.URL)
		}
	}
	return "Your music video is complete."
}
