// Package port decouples the orchestration engine from how progress is
// persisted and how input is collected.
package port

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makeasinger/videoagent/internal/model"
)

var (
	ErrInputClosed = errors.New("port: input channel closed")
	ErrNoWaiter    = errors.New("port: no input request is pending")
)

// IO receives every progress report the engine emits.
type IO interface {
	OnProgress(ctx context.Context, p model.OrchestrationProgress) error
}

// InputRequester is implemented by ports that can wait for a reply on the
// same connection instead of suspending the task.
type InputRequester interface {
	IO
	OnInputRequired(ctx context.Context, prompt string, artifacts []model.Artifact) (string, error)
}

// TaskWriter is the subset of the task store a port writes through.
type TaskWriter interface {
	Mutate(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error)
}

// QueueIO persists progress into the store, whose listeners do the
// notifying.
type QueueIO struct {
	store  TaskWriter
	taskID string
	now    func() time.Time
}

func NewQueueIO(store TaskWriter, taskID string) *QueueIO {
	return &QueueIO{store: store, taskID: taskID, now: time.Now}
}

// OnProgress applies p to the stored task. A missing or terminal task is
// returned as an error so the transition is never silently lost.
func (q *QueueIO) OnProgress(ctx context.Context, p model.OrchestrationProgress) error {
	_, err := q.store.Mutate(ctx, q.taskID, func(t *model.Task) error {
		t.Apply(p, q.now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s progress: %w", p.State, err)
	}
	return nil
}

// appendUserMessage records an inline reply in the task history
func (q *QueueIO) appendUserMessage(ctx context.Context, text string) error {
	_, err := q.store.Mutate(ctx, q.taskID, func(t *model.Task) error {
		t.History = append(t.History, model.NewUserMessage(t.ID, t.ContextID, text))
		return nil
	})
	return err
}
