// Package queue admits tasks to the processor under a global concurrency
// limit and retries failed attempts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/store"
)

// Processor runs one attempt for a task.
type Processor interface {
	Process(ctx context.Context, task *model.Task, io port.IO) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, task *model.Task, io port.IO) error

func (f ProcessorFunc) Process(ctx context.Context, task *model.Task, io port.IO) error {
	return f(ctx, task, io)
}

// TaskStore is what the queue needs from the store
type TaskStore interface {
	port.TaskWriter
	GetTask(id string) (*model.Task, bool)
}

type Config struct {
	MaxConcurrent int
	MaxRetries    int
	RetryDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		MaxRetries:    2,
		RetryDelay:    2 * time.Second,
	}
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Running       int `json:"running"`
	Backlog       int `json:"backlog"`
	MaxConcurrent int `json:"maxConcurrent"`
}

type job struct {
	task *model.Task
	io   port.IO
}

type run struct {
	cancel   context.CancelFunc
	canceled bool
}

// Queue is a FIFO backlog drained by at most MaxConcurrent workers.
// Enqueue never waits for processing; completion is observed through the
// store.
type Queue struct {
	cfg     Config
	proc    Processor
	store   TaskStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	backlog  []*job
	queued   map[string]*job
	running  map[string]*run
	followUp map[string]*job
	closed   bool
	wg       sync.WaitGroup

	baseCtx   context.Context
	cancelAll context.CancelFunc
}

func New(cfg Config, proc Processor, st TaskStore, logger *zap.Logger, m *metrics.Metrics) *Queue {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:       cfg,
		proc:      proc,
		store:     st,
		logger:    logger.Named("queue"),
		metrics:   m,
		queued:    make(map[string]*job),
		running:   make(map[string]*run),
		followUp:  make(map[string]*job),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
}

// Enqueue adds the task to the backlog and admits as many tasks as the limit
// allows. A task already waiting is not added twice; a task that is running
// gets exactly one follow-up run after the current one settles. A nil io
// persists progress through the store.
func (q *Queue) Enqueue(task *model.Task, io port.IO) error {
	if task == nil || task.ID == "" {
		return errors.New("queue: task has no id")
	}
	if io == nil {
		io = port.NewQueueIO(q.store, task.ID)
	}
	j := &job{task: task.Clone(), io: io}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	switch {
	case q.running[task.ID] != nil:
		if prev, ok := q.followUp[task.ID]; ok && prev.io != io {
			release(prev.io)
		}
		q.followUp[task.ID] = j
		q.logger.Debug("coalesced enqueue of running task", zap.String("task_id", task.ID))
	case q.queued[task.ID] != nil:
		if prev := q.queued[task.ID].io; prev != io {
			release(prev)
		}
		q.queued[task.ID].io = io
	default:
		q.backlog = append(q.backlog, j)
		q.queued[task.ID] = j
	}
	q.drainLocked()
	return nil
}

// Cancel drops a waiting task and cancels the context of a running one.
// It reports whether the task was known to the queue.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	found := false
	if j, ok := q.queued[taskID]; ok {
		release(j.io)
		delete(q.queued, taskID)
		for i, j := range q.backlog {
			if j.task.ID == taskID {
				q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
				break
			}
		}
		found = true
	}
	if r, ok := q.running[taskID]; ok {
		r.canceled = true
		r.cancel()
		if j, ok := q.followUp[taskID]; ok {
			release(j.io)
			delete(q.followUp, taskID)
		}
		found = true
	}
	q.updateGaugesLocked()
	return found
}

// SetMaxConcurrent changes the limit. Raising it admits waiting tasks
// immediately; lowering it lets running tasks finish.
func (q *Queue) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg.MaxConcurrent = n
	q.drainLocked()
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Running:       len(q.running),
		Backlog:       len(q.backlog),
		MaxConcurrent: q.cfg.MaxConcurrent,
	}
}

// IsActive reports whether the task is waiting or running.
func (q *Queue) IsActive(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[taskID] != nil || q.running[taskID] != nil
}

// Shutdown stops admitting tasks and waits for running ones. When ctx ends
// first, running attempts are canceled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	for id, j := range q.queued {
		release(j.io)
		delete(q.queued, id)
	}
	q.backlog = nil
	for _, j := range q.followUp {
		release(j.io)
	}
	q.followUp = make(map[string]*job)
	q.updateGaugesLocked()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancelAll()
		return nil
	case <-ctx.Done():
		q.cancelAll()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) drainLocked() {
	for !q.closed && len(q.running) < q.cfg.MaxConcurrent && len(q.backlog) > 0 {
		j := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]
		delete(q.queued, j.task.ID)

		ctx, cancel := context.WithCancel(q.baseCtx)
		r := &run{cancel: cancel}
		q.running[j.task.ID] = r
		q.wg.Add(1)
		go q.run(ctx, r, j)
	}
	q.updateGaugesLocked()
}

func (q *Queue) run(ctx context.Context, r *run, j *job) {
	defer q.wg.Done()
	defer release(j.io)
	defer q.settle(j.task.ID, r)

	id := j.task.ID
	log := q.logger.With(zap.String("task_id", id))

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			q.inc(func(m *metrics.Metrics) { m.Retries.Inc() })
			timer := time.NewTimer(q.cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				log.Info("retry abandoned", zap.Error(ctx.Err()))
				return
			}
		}

		q.inc(func(m *metrics.Metrics) { m.Attempts.Inc() })
		err := q.attempt(ctx, j)
		if err == nil {
			return
		}

		switch {
		case ctx.Err() != nil:
			log.Info("processing canceled", zap.Int("attempt", attempt+1), zap.Error(err))
			return
		case errors.Is(err, store.ErrTaskTerminal):
			log.Info("task became terminal during processing", zap.Error(err))
			return
		case IsPermanent(err):
			log.Error("processing failed permanently", zap.Int("attempt", attempt+1), zap.Error(err))
			q.markFailed(id, err)
			return
		case attempt >= q.cfg.MaxRetries:
			log.Error("processing failed, retries exhausted", zap.Int("attempts", attempt+1), zap.Error(err))
			q.markFailed(id, err)
			return
		default:
			log.Warn("processing failed, will retry",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", q.cfg.MaxRetries),
				zap.Duration("delay", q.cfg.RetryDelay),
				zap.Error(err),
			)
		}
	}
}

// attempt runs the processor once, turning a panic into an error
func (q *Queue) attempt(ctx context.Context, j *job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("processor panic: %v", p)
		}
	}()
	return q.proc.Process(ctx, j.task.Clone(), j.io)
}

func (q *Queue) settle(id string, r *run) {
	r.cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)
	if next, ok := q.followUp[id]; ok {
		delete(q.followUp, id)
		if !q.closed && !r.canceled {
			q.backlog = append(q.backlog, next)
			q.queued[id] = next
		} else {
			release(next.io)
		}
	}
	q.drainLocked()
}

// release closes a port that holds resources for a single run, such as a
// pending inline input request.
func release(io port.IO) {
	if c, ok := io.(interface{ Close() }); ok {
		c.Close()
	}
}

// markFailed records the final error on the task. A task that is already
// terminal or gone is left alone.
func (q *Queue) markFailed(id string, cause error) {
	q.inc(func(m *metrics.Metrics) { m.Failures.Inc() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := q.store.Mutate(ctx, id, func(t *model.Task) error {
		t.Apply(model.OrchestrationProgress{
			State:    model.TaskStateFailed,
			Text:     fmt.Sprintf("Task failed: %v", cause),
			Metadata: model.StepMetadata(model.StepFailed, ""),
		}, time.Now().UTC())
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrTaskTerminal) {
		q.logger.Error("failed to mark task failed", zap.String("task_id", id), zap.Error(err))
	}
}

func (q *Queue) updateGaugesLocked() {
	q.inc(func(m *metrics.Metrics) {
		m.QueueRunning.Set(float64(len(q.running)))
		m.QueueBacklog.Set(float64(len(q.backlog)))
	})
}

func (q *Queue) inc(fn func(m *metrics.Metrics)) {
	if q.metrics != nil {
		fn(q.metrics)
	}
}
