package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/videoagent/internal/model"
)

func newTask(t *testing.T, s *Store, prompt string) *model.Task {
	t.Helper()
	task := model.NewTask("ctx-1", model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart(prompt)}})
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func working(text string) model.OrchestrationProgress {
	return model.OrchestrationProgress{State: model.TaskStateWorking, Text: text}
}

func TestCreateTask_Duplicate(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "first")

	dup := task.Clone()
	dup.History = append(dup.History, model.NewUserMessage(dup.ID, dup.ContextID, "second"))
	err := s.CreateTask(context.Background(), dup)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	got, ok := s.GetTask(task.ID)
	require.True(t, ok)
	assert.Len(t, got.History, 1, "duplicate create must not overwrite")
}

func TestCreateTask_RejectsUnknownStep(t *testing.T) {
	s := New(nil)
	task := model.NewTask("", model.NewUserMessage("", "", "x"))
	task.Metadata.CurrentStep = "RENDER_EVERYTHING"
	assert.ErrorIs(t, s.CreateTask(context.Background(), task), ErrInvalidTask)
}

func TestGetTask_Missing(t *testing.T) {
	s := New(nil)
	got, ok := s.GetTask("nope")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestGetTask_ReturnsCopy(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")

	got, _ := s.GetTask(task.ID)
	got.History[0].Parts[0].Text = "tampered"
	got.Metadata.CurrentStep = model.StepCompleted

	again, _ := s.GetTask(task.ID)
	assert.Equal(t, "prompt", again.History[0].Text())
	assert.Equal(t, model.StepGenerateSong, again.Metadata.CurrentStep)
}

func TestUpdateTask_NotFound(t *testing.T) {
	s := New(nil)
	task := model.NewTask("", model.NewUserMessage("", "", "x"))
	assert.ErrorIs(t, s.UpdateTask(context.Background(), task), ErrTaskNotFound)
}

func TestUpdateTask_HistoryIsAppendOnly(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")
	ctx := context.Background()

	lengths := []int{}
	for i := 0; i < 5; i++ {
		got, err := s.Mutate(ctx, task.ID, func(tk *model.Task) error {
			tk.Apply(working(fmt.Sprintf("step %d", i)), time.Now())
			return nil
		})
		require.NoError(t, err)
		lengths = append(lengths, len(got.History))
	}
	for i := 1; i < len(lengths); i++ {
		assert.GreaterOrEqual(t, lengths[i], lengths[i-1])
	}

	truncated, _ := s.GetTask(task.ID)
	truncated.History = truncated.History[:1]
	assert.ErrorIs(t, s.UpdateTask(ctx, truncated), ErrHistoryTruncated)

	got, _ := s.GetTask(task.ID)
	assert.Len(t, got.History, 6)
}

func TestMutate_TerminalIsImmutable(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")
	ctx := context.Background()

	_, err := s.Mutate(ctx, task.ID, func(tk *model.Task) error {
		tk.Apply(model.OrchestrationProgress{State: model.TaskStateFailed, Text: "boom"}, time.Now())
		return nil
	})
	require.NoError(t, err)

	_, err = s.Mutate(ctx, task.ID, func(tk *model.Task) error {
		tk.Apply(working("again"), time.Now())
		return nil
	})
	assert.ErrorIs(t, err, ErrTaskTerminal)

	got, _ := s.GetTask(task.ID)
	assert.Equal(t, model.TaskStateFailed, got.Status.State)
}

func TestMutate_AbortsOnError(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")
	calls := 0
	s.AddStatusListener(func(context.Context, Event) error { calls++; return nil })

	boom := errors.New("boom")
	_, err := s.Mutate(context.Background(), task.ID, func(tk *model.Task) error {
		tk.Status.State = model.TaskStateWorking
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, calls)

	got, _ := s.GetTask(task.ID)
	assert.Equal(t, model.TaskStateSubmitted, got.Status.State)
}

func TestListeners_OrderPerTask(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []string
	)
	s.AddStatusListener(func(_ context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Task.Status.Message.Text())
		return nil
	})

	const n = 50
	for i := 0; i < n; i++ {
		_, err := s.Mutate(ctx, task.ID, func(tk *model.Task) error {
			tk.Apply(working(fmt.Sprintf("%d", i)), time.Now())
			return nil
		})
		require.NoError(t, err)
	}

	require.Len(t, seen, n)
	for i, text := range seen {
		assert.Equal(t, fmt.Sprintf("%d", i), text)
	}
}

func TestListeners_FailureIsolation(t *testing.T) {
	s := New(nil)
	var (
		mu    sync.Mutex
		count int
	)
	s.AddStatusListener(func(context.Context, Event) error { panic("bad listener") })
	s.AddStatusListener(func(context.Context, Event) error { return errors.New("failing listener") })
	s.AddStatusListener(func(context.Context, Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	task := newTask(t, s, "prompt")
	_, err := s.Mutate(context.Background(), task.ID, func(tk *model.Task) error {
		tk.Apply(working("go"), time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, _ := s.GetTask(task.ID)
	assert.Equal(t, model.TaskStateWorking, got.Status.State)
}

func TestRemoveStatusListener(t *testing.T) {
	s := New(nil)
	calls := 0
	id := s.AddStatusListener(func(context.Context, Event) error { calls++; return nil })
	newTask(t, s, "one")
	s.RemoveStatusListener(id)
	newTask(t, s, "two")
	assert.Equal(t, 1, calls)
}

func TestListener_CanReadStore(t *testing.T) {
	s := New(nil)
	var state model.TaskState
	s.AddStatusListener(func(_ context.Context, ev Event) error {
		got, ok := s.GetTask(ev.Task.ID)
		if ok {
			state = got.Status.State
		}
		return nil
	})
	task := newTask(t, s, "prompt")
	_, err := s.Mutate(context.Background(), task.ID, func(tk *model.Task) error {
		tk.Apply(working("go"), time.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStateWorking, state)
}

func TestSubscribeTask_OrderedAndFiltered(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")
	other := newTask(t, s, "other")

	sub := s.SubscribeTask(task.ID)
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		for _, id := range []string{task.ID, other.ID} {
			_, err := s.Mutate(ctx, id, func(tk *model.Task) error {
				tk.Apply(working(fmt.Sprintf("%d", i)), time.Now())
				return nil
			})
			require.NoError(t, err)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-sub.C():
			assert.Equal(t, task.ID, ev.Task.ID)
			assert.Equal(t, fmt.Sprintf("%d", i), ev.Task.Status.Message.Text())
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe(nil)
	sub.Close()
	sub.Close()

	newTask(t, s, "after close")
	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestListTasks_Stable(t *testing.T) {
	s := New(nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, newTask(t, s, fmt.Sprintf("p%d", i)).ID)
		time.Sleep(time.Millisecond)
	}

	list := s.ListTasks()
	require.Len(t, list, 5)
	for i, tk := range list {
		assert.Equal(t, ids[i], tk.ID)
	}
}

func TestPurgeTerminal(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	done := newTask(t, s, "done")
	live := newTask(t, s, "live")

	old := time.Now().Add(-2 * time.Hour)
	_, err := s.Mutate(ctx, done.ID, func(tk *model.Task) error {
		tk.Apply(model.OrchestrationProgress{State: model.TaskStateCompleted, Text: "ok"}, old)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, s.PurgeTerminal(time.Now().Add(-time.Hour)))
	_, ok := s.GetTask(done.ID)
	assert.False(t, ok)
	_, ok = s.GetTask(live.ID)
	assert.True(t, ok)
}

func TestMutate_ConcurrentWritersSerialize(t *testing.T) {
	s := New(nil)
	task := newTask(t, s, "prompt")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(ctx, task.ID, func(tk *model.Task) error {
				tk.History = append(tk.History, model.NewUserMessage(tk.ID, tk.ContextID, "x"))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := s.GetTask(task.ID)
	assert.Len(t, got.History, 21)
}
