package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/queue"
	"github.com/makeasinger/videoagent/internal/store"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskTerminal = errors.New("task is already finished")
	ErrTaskBusy     = errors.New("task is not waiting for input")
	ErrEmptyPrompt  = errors.New("message has no text")
)

// Enqueuer admits tasks for execution.
type Enqueuer interface {
	Enqueue(task *model.Task, io port.IO) error
	Cancel(taskID string) bool
	Stats() queue.Stats
}

// SendOptions tunes a single send.
type SendOptions struct {
	// NewIO builds the I/O port for the task. Nil persists through the store.
	NewIO func(taskID string) port.IO

	// Subscribe returns a subscription opened before the task is written, so
	// the caller sees every event from the send onward.
	Subscribe bool
}

// SendResult is the task as written by the send plus the optional
// subscription. The caller owns and must close Subscription.
type SendResult struct {
	Task         *model.Task
	Subscription *store.Subscription
	Created      bool
}

// TaskService is the single entry point transports use to create, resume,
// query and cancel tasks.
type TaskService struct {
	store  *store.Store
	queue  Enqueuer
	logger *zap.Logger

	mu     sync.Mutex
	inline map[string]*port.DirectIO
}

func NewTaskService(st *store.Store, q Enqueuer, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{
		store:  st,
		queue:  q,
		logger: logger.Named("tasks"),
		inline: make(map[string]*port.DirectIO),
	}
}

// Send creates a task when no task id is given, otherwise it delivers the
// message as feedback to a task waiting for input.
func (s *TaskService) Send(ctx context.Context, params model.SendTaskParams, opts SendOptions) (*SendResult, error) {
	if params.Prompt() == "" {
		return nil, ErrEmptyPrompt
	}
	if id := params.TaskID(); id != "" {
		return s.feedback(ctx, id, params, opts)
	}
	return s.create(ctx, params, opts)
}

func (s *TaskService) create(ctx context.Context, params model.SendTaskParams, opts SendOptions) (*SendResult, error) {
	msg := params.Message
	msg.Role = model.RoleUser

	task := model.NewTask(params.ContextID, msg)
	task.Metadata.Notification = params.Notification
	if len(params.Metadata) > 0 {
		task.Metadata.Extra = params.Metadata
	}

	res := &SendResult{Created: true}
	if opts.Subscribe {
		res.Subscription = s.store.SubscribeTask(task.ID)
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		res.close()
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if err := s.queue.Enqueue(task, s.newIO(opts, task.ID)); err != nil {
		s.fail(ctx, task.ID, err)
		res.close()
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("context_id", task.ContextID),
	)
	res.Task = task
	return res, nil
}

func (s *TaskService) feedback(ctx context.Context, id string, params model.SendTaskParams, opts SendOptions) (*SendResult, error) {
	if _, err := s.checkAwaitingInput(id); err != nil {
		return nil, err
	}

	res := &SendResult{}
	if opts.Subscribe {
		res.Subscription = s.store.SubscribeTask(id)
	}

	// An engine blocked on inline input takes the reply directly, whichever
	// transport it arrives on.
	if d := s.waiter(id); d != nil {
		err := d.Deliver(ctx, params.Prompt())
		switch {
		case err == nil:
			s.logger.Info("feedback delivered inline", zap.String("task_id", id))
			task, ok := s.store.GetTask(id)
			if !ok {
				res.close()
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			res.Task = task
			return res, nil
		case !errors.Is(err, port.ErrNoWaiter) && !errors.Is(err, port.ErrInputClosed):
			res.close()
			return nil, s.translate(id, err)
		}
	}

	updated, err := s.store.Mutate(ctx, id, func(t *model.Task) error {
		if err := awaitingInput(t); err != nil {
			return err
		}
		msg := params.Message.Clone()
		msg.Role = model.RoleUser
		msg.TaskID = t.ID
		msg.ContextID = t.ContextID
		msg.Kind = "message"
		if msg.MessageID == "" {
			msg.MessageID = model.NewUserMessage(t.ID, t.ContextID, "").MessageID
		}
		t.History = append(t.History, msg)
		if params.Notification != nil {
			t.Metadata.Notification = params.Notification
		}
		return nil
	})
	if err != nil {
		res.close()
		return nil, s.translate(id, err)
	}

	if err := s.queue.Enqueue(updated, s.newIO(opts, id)); err != nil {
		s.fail(ctx, id, err)
		res.close()
		return nil, fmt.Errorf("failed to enqueue feedback: %w", err)
	}

	s.logger.Info("feedback received",
		zap.String("task_id", id),
		zap.String("step", string(updated.Metadata.CurrentStep)),
	)
	res.Task = updated
	return res, nil
}

// checkAwaitingInput rejects feedback before anything is written, so an
// unknown id never mutates the store.
func (s *TaskService) checkAwaitingInput(id string) (*model.Task, error) {
	t, ok := s.store.GetTask(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := awaitingInput(t); err != nil {
		return nil, err
	}
	return t, nil
}

func awaitingInput(t *model.Task) error {
	switch {
	case t.Status.State.IsTerminal():
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, t.ID, t.Status.State)
	case t.Status.State != model.TaskStateInputRequired:
		return fmt.Errorf("%w: %s is %s", ErrTaskBusy, t.ID, t.Status.State)
	case t.AwaitingFeedback():
		return fmt.Errorf("%w: feedback for %s is already being processed", ErrTaskBusy, t.ID)
	}
	return nil
}

// Get returns the task with at most historyLength trailing history entries.
func (s *TaskService) Get(id string, historyLength *int) (*model.Task, error) {
	t, ok := s.store.GetTask(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if historyLength != nil && *historyLength < len(t.History) {
		t.History = t.History[len(t.History)-*historyLength:]
	}
	return t, nil
}

// List returns tasks in creation order, optionally limited to one context.
func (s *TaskService) List(contextID string) []*model.Task {
	all := s.store.ListTasks()
	if contextID == "" {
		return all
	}
	out := make([]*model.Task, 0, len(all))
	for _, t := range all {
		if t.ContextID == contextID {
			out = append(out, t)
		}
	}
	return out
}

// Cancel moves a live task to CANCELED and stops any running attempt.
func (s *TaskService) Cancel(ctx context.Context, id string) (*model.Task, error) {
	canceled, err := s.store.Mutate(ctx, id, func(t *model.Task) error {
		t.Apply(model.OrchestrationProgress{
			State: model.TaskStateCanceled,
			Text:  "Task canceled",
		}, time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, s.translate(id, err)
	}
	s.queue.Cancel(id)

	s.logger.Info("task canceled", zap.String("task_id", id))
	return canceled, nil
}

func (s *TaskService) Stats() queue.Stats {
	return s.queue.Stats()
}

func (s *TaskService) newIO(opts SendOptions, taskID string) port.IO {
	if opts.NewIO == nil {
		return nil
	}
	io := opts.NewIO(taskID)
	if d, ok := io.(*port.DirectIO); ok {
		s.track(taskID, d)
	}
	return io
}

// track remembers an inline port until it is closed.
func (s *TaskService) track(taskID string, d *port.DirectIO) {
	s.mu.Lock()
	s.inline[taskID] = d
	s.mu.Unlock()

	d.OnClose(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inline[taskID] == d {
			delete(s.inline, taskID)
		}
	})
}

// waiter returns the inline port blocked on input for the task, if any.
func (s *TaskService) waiter(taskID string) *port.DirectIO {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.inline[taskID]; ok && d.Waiting() {
		return d
	}
	return nil
}

// InlinePorts returns the number of inline ports still open.
func (s *TaskService) InlinePorts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inline)
}

// fail marks a task FAILED when it could not be handed to the queue.
func (s *TaskService) fail(ctx context.Context, id string, cause error) {
	_, err := s.store.Mutate(ctx, id, func(t *model.Task) error {
		t.Apply(model.OrchestrationProgress{
			State:    model.TaskStateFailed,
			Text:     fmt.Sprintf("Task failed: %v", cause),
			Metadata: model.StepMetadata(model.StepFailed, ""),
		}, time.Now().UTC())
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrTaskTerminal) {
		s.logger.Error("failed to mark task failed", zap.String("task_id", id), zap.Error(err))
	}
}

func (s *TaskService) translate(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	case errors.Is(err, store.ErrTaskTerminal):
		return fmt.Errorf("%w: %v", ErrTaskTerminal, err)
	}
	return err
}

func (r *SendResult) close() {
	if r.Subscription != nil {
		r.Subscription.Close()
	}
}
