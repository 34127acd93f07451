package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/queue"
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	GetTask(id string) (*model.Task, bool)
}

// Processor is the queue's entry point into the engine. It reloads the task
// on every attempt so a retry always starts from the persisted state.
type Processor struct {
	engine *Engine
	store  TaskReader
	logger *zap.Logger
}

func NewProcessor(engine *Engine, store TaskReader, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{engine: engine, store: store, logger: logger.Named("processor")}
}

func (p *Processor) Process(ctx context.Context, task *model.Task, io port.IO) error {
	current, ok := p.store.GetTask(task.ID)
	if !ok {
		return queue.Permanent(fmt.Errorf("%w: %s", ErrTaskNotFound, task.ID))
	}

	log := p.logger.With(
		zap.String("task_id", current.ID),
		zap.String("state", string(current.Status.State)),
		zap.String("step", string(current.Metadata.CurrentStep)),
	)

	switch {
	case current.Status.State.IsTerminal():
		log.Debug("task is terminal, nothing to do")
		return nil
	case current.AwaitingFeedback():
		log.Info("handling user feedback")
		return p.engine.HandleUserFeedback(ctx, current, io)
	case current.Status.State == model.TaskStateInputRequired:
		log.Debug("task is waiting for input")
		return nil
	default:
		log.Info("running step")
		return p.engine.Run(ctx, current, io, "")
	}
}
