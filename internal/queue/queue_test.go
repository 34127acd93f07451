package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/store"
)

func newTask(t *testing.T, s *store.Store) *model.Task {
	t.Helper()
	task := model.NewTask("", model.NewUserMessage("", "", "A cyberpunk rap anthem about AI collaboration"))
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func complete(ctx context.Context, io port.IO) error {
	return io.OnProgress(ctx, model.OrchestrationProgress{
		State:    model.TaskStateCompleted,
		Text:     "done",
		Metadata: model.StepMetadata(model.StepCompleted, ""),
	})
}

func terminal(s *store.Store, id string) bool {
	t, ok := s.GetTask(id)
	return ok && t.Status.State.IsTerminal()
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	s := store.New(nil)
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return complete(ctx, io)
	})

	q := New(Config{MaxConcurrent: 2, MaxRetries: 0}, proc, s, nil, metrics.New())
	var ids []string
	for i := 0; i < 5; i++ {
		task := newTask(t, s)
		ids = append(ids, task.ID)
		require.NoError(t, q.Enqueue(task, nil))
	}

	stats := q.Stats()
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 3, stats.Backlog)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !terminal(s, id) {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
	for _, id := range ids {
		got, _ := s.GetTask(id)
		assert.Equal(t, model.TaskStateCompleted, got.Status.State)
	}
}

func TestQueue_FIFO(t *testing.T) {
	s := store.New(nil)
	var (
		mu    sync.Mutex
		order []string
	)
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return complete(ctx, io)
	})

	q := New(Config{MaxConcurrent: 1}, proc, s, nil, nil)
	var ids []string
	for i := 0; i < 4; i++ {
		task := newTask(t, s)
		ids = append(ids, task.ID)
		require.NoError(t, q.Enqueue(task, nil))
	}
	require.Eventually(t, func() bool { return terminal(s, ids[3]) }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	s := store.New(nil)
	var attempts atomic.Int32
	proc := ProcessorFunc(func(context.Context, *model.Task, port.IO) error {
		attempts.Add(1)
		return errors.New("song agent unavailable")
	})

	q := New(Config{MaxConcurrent: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond}, proc, s, nil, nil)
	task := newTask(t, s)
	require.NoError(t, q.Enqueue(task, nil))

	require.Eventually(t, func() bool { return terminal(s, task.ID) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())

	got, _ := s.GetTask(task.ID)
	assert.Equal(t, model.TaskStateFailed, got.Status.State)
	assert.Contains(t, got.Status.Message.Text(), "song agent unavailable")
	assert.Equal(t, model.StepFailed, got.Metadata.CurrentStep)
}

func TestQueue_PermanentErrorSkipsRetry(t *testing.T) {
	s := store.New(nil)
	var attempts atomic.Int32
	proc := ProcessorFunc(func(context.Context, *model.Task, port.IO) error {
		attempts.Add(1)
		return Permanent(errors.New("unknown step"))
	})

	q := New(Config{MaxConcurrent: 1, MaxRetries: 5, RetryDelay: time.Millisecond}, proc, s, nil, nil)
	task := newTask(t, s)
	require.NoError(t, q.Enqueue(task, nil))

	require.Eventually(t, func() bool { return terminal(s, task.ID) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestQueue_PanicIsRetried(t *testing.T) {
	s := store.New(nil)
	var attempts atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, _ *model.Task, io port.IO) error {
		if attempts.Add(1) == 1 {
			panic("nil map")
		}
		return complete(ctx, io)
	})

	q := New(Config{MaxConcurrent: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, proc, s, nil, nil)
	task := newTask(t, s)
	require.NoError(t, q.Enqueue(task, nil))

	require.Eventually(t, func() bool { return terminal(s, task.ID) }, time.Second, 5*time.Millisecond)
	got, _ := s.GetTask(task.ID)
	assert.Equal(t, model.TaskStateCompleted, got.Status.State)
}

func TestQueue_CoalescesRunningTask(t *testing.T) {
	s := store.New(nil)
	release := make(chan struct{})
	var runs atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		if runs.Add(1) == 1 {
			<-release
		}
		return nil
	})

	q := New(Config{MaxConcurrent: 4}, proc, s, nil, nil)
	task := newTask(t, s)
	require.NoError(t, q.Enqueue(task, nil))
	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, time.Millisecond)

	require.NoError(t, q.Enqueue(task, nil))
	require.NoError(t, q.Enqueue(task, nil))
	assert.Equal(t, 1, q.Stats().Running, "same id must never run twice at once")

	close(release)
	require.Eventually(t, func() bool { return !q.IsActive(task.ID) }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestQueue_DedupesBacklog(t *testing.T) {
	s := store.New(nil)
	block := make(chan struct{})
	var runs atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		runs.Add(1)
		<-block
		return nil
	})

	q := New(Config{MaxConcurrent: 1}, proc, s, nil, nil)
	first := newTask(t, s)
	second := newTask(t, s)
	require.NoError(t, q.Enqueue(first, nil))
	require.NoError(t, q.Enqueue(second, nil))
	require.NoError(t, q.Enqueue(second, nil))
	assert.Equal(t, 1, q.Stats().Backlog)

	close(block)
	require.Eventually(t, func() bool { return q.Stats().Running == 0 && q.Stats().Backlog == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestQueue_Cancel(t *testing.T) {
	s := store.New(nil)
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		<-ctx.Done()
		return ctx.Err()
	})

	q := New(Config{MaxConcurrent: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, proc, s, nil, nil)
	running := newTask(t, s)
	waiting := newTask(t, s)
	require.NoError(t, q.Enqueue(running, nil))
	require.NoError(t, q.Enqueue(waiting, nil))

	assert.True(t, q.Cancel(waiting.ID))
	assert.Equal(t, 0, q.Stats().Backlog)
	assert.True(t, q.Cancel(running.ID))
	assert.False(t, q.Cancel("unknown"))

	require.Eventually(t, func() bool { return q.Stats().Running == 0 }, time.Second, time.Millisecond)
	got, _ := s.GetTask(running.ID)
	assert.Equal(t, model.TaskStateSubmitted, got.Status.State, "canceled attempts are not marked failed by the queue")
}

func TestQueue_SetMaxConcurrent(t *testing.T) {
	s := store.New(nil)
	block := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		<-block
		return nil
	})

	q := New(Config{MaxConcurrent: 1}, proc, s, nil, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(newTask(t, s), nil))
	}
	assert.Equal(t, 1, q.Stats().Running)

	q.SetMaxConcurrent(3)
	assert.Equal(t, 3, q.Stats().Running)
	close(block)
}

func TestQueue_Shutdown(t *testing.T) {
	s := store.New(nil)
	proc := ProcessorFunc(func(ctx context.Context, task *model.Task, io port.IO) error {
		<-ctx.Done()
		return ctx.Err()
	})
	q := New(Config{MaxConcurrent: 1}, proc, s, nil, nil)
	require.NoError(t, q.Enqueue(newTask(t, s), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, q.Enqueue(newTask(t, s), nil), ErrQueueClosed)
}

func TestIsPermanent(t *testing.T) {
	base := errors.New("x")
	assert.False(t, IsPermanent(base))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.True(t, IsPermanent(errors.Join(errors.New("y"), Permanent(base))))
	assert.ErrorIs(t, Permanent(base), base)
	assert.Nil(t, Permanent(nil))
}

func TestQueue_ClosesInlinePortWhenRunSettles(t *testing.T) {
	s := store.New(nil)
	q := New(Config{MaxConcurrent: 1}, ProcessorFunc(func(ctx context.Context, _ *model.Task, io port.IO) error {
		return complete(ctx, io)
	}), s, nil, nil)

	task := newTask(t, s)
	direct := port.NewDirectIO(s, task.ID)
	require.NoError(t, q.Enqueue(task, direct))

	require.Eventually(t, func() bool { return terminal(s, task.ID) && direct.Closed() }, time.Second, 5*time.Millisecond)
	assert.False(t, q.IsActive(task.ID))
}

func TestQueue_CancelClosesWaitingPort(t *testing.T) {
	s := store.New(nil)
	block := make(chan struct{})
	q := New(Config{MaxConcurrent: 1}, ProcessorFunc(func(ctx context.Context, _ *model.Task, _ port.IO) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}), s, nil, nil)
	defer close(block)

	running := newTask(t, s)
	require.NoError(t, q.Enqueue(running, nil))
	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, 5*time.Millisecond)

	waiting := newTask(t, s)
	direct := port.NewDirectIO(s, waiting.ID)
	require.NoError(t, q.Enqueue(waiting, direct))

	assert.True(t, q.Cancel(waiting.ID))
	assert.True(t, direct.Closed())
}
