package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
)

var (
	ErrDuplicateTask    = errors.New("store: task already exists")
	ErrTaskNotFound     = errors.New("store: task not found")
	ErrTaskTerminal     = errors.New("store: task is in a terminal state")
	ErrHistoryTruncated = errors.New("store: update would drop history entries")
	ErrInvalidTask      = errors.New("store: invalid task")
)

// EventType says which store operation produced an event
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

// Event is delivered to listeners after every create or update. Task is a
// copy owned by the receiving listener.
type Event struct {
	Type          EventType
	Task          *model.Task
	PreviousState model.TaskState
}

// Store is the in-memory owner of every task record. Reads return copies;
// writes for one task id are serialized and their notifications are
// delivered in the order the writes were applied.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*entry

	lmu       sync.RWMutex
	listeners []registration
	nextID    atomic.Uint64

	logger *zap.Logger
}

type entry struct {
	// mu serializes writers and is held while listeners run
	mu       sync.Mutex
	snapshot atomic.Pointer[model.Task]
	removed  atomic.Bool
}

func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		tasks:  make(map[string]*entry),
		logger: logger.Named("store"),
	}
}

// CreateTask inserts a new task. An existing id is rejected with
// ErrDuplicateTask and the stored record is left untouched.
func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	if err := validate(task); err != nil {
		return err
	}

	e := &entry{}
	e.snapshot.Store(task.Clone())
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.Lock()
	if _, ok := s.tasks[task.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	s.tasks[task.ID] = e
	s.mu.Unlock()

	s.notify(ctx, Event{Type: EventCreated, Task: task})
	return nil
}

// GetTask returns a copy of the task. A missing id is reported by ok=false,
// never by an error.
func (s *Store) GetTask(id string) (*model.Task, bool) {
	s.mu.RLock()
	e, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.snapshot.Load().Clone(), true
}

// UpdateTask replaces the stored record for task.ID. Listeners have been
// notified by the time it returns.
func (s *Store) UpdateTask(ctx context.Context, task *model.Task) error {
	if task == nil {
		return ErrInvalidTask
	}
	next := task.Clone()
	_, err := s.Mutate(ctx, task.ID, func(t *model.Task) error {
		next.CreatedAt = t.CreatedAt
		*t = *next
		return nil
	})
	return err
}

// Mutate runs fn against a copy of the stored task and stores the result.
// The read-modify-write is atomic with respect to other writers of the same
// id. An error from fn aborts the write.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	s.mu.RLock()
	e, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	current := e.snapshot.Load()
	if current.Status.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, current.Status.State)
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if working.ID != id {
		return nil, fmt.Errorf("%w: id changed from %s to %s", ErrInvalidTask, id, working.ID)
	}
	if len(working.History) < len(current.History) {
		return nil, fmt.Errorf("%w: %d < %d", ErrHistoryTruncated, len(working.History), len(current.History))
	}
	if err := validate(working); err != nil {
		return nil, err
	}

	e.snapshot.Store(working)
	s.notify(ctx, Event{Type: EventUpdated, Task: working, PreviousState: current.Status.State})
	return working.Clone(), nil
}

// ListTasks returns copies of all tasks ordered by creation time, then id.
func (s *Store) ListTasks() []*model.Task {
	s.mu.RLock()
	out := make([]*model.Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.snapshot.Load().Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of stored tasks
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// PurgeTerminal removes terminal tasks whose last transition is older than
// the cutoff. It returns the number of removed tasks.
func (s *Store) PurgeTerminal(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, e := range s.tasks {
		t := e.snapshot.Load()
		if !t.Status.State.IsTerminal() || !t.Status.Timestamp.Before(cutoff) {
			continue
		}
		e.removed.Store(true)
		delete(s.tasks, id)
		purged++
	}
	return purged
}

func validate(t *model.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if !t.Metadata.CurrentStep.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidTask, t.Metadata.CurrentStep)
	}
	return nil
}
