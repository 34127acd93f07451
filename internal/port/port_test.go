package port

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/store"
)

func seed(t *testing.T) (*store.Store, *model.Task) {
	t.Helper()
	s := store.New(nil)
	task := model.NewTask("ctx", model.NewUserMessage("", "", "prompt"))
	require.NoError(t, s.CreateTask(context.Background(), task))
	return s, task
}

func TestQueueIO_Persists(t *testing.T) {
	s, task := seed(t)
	io := NewQueueIO(s, task.ID)

	err := io.OnProgress(context.Background(), model.OrchestrationProgress{
		State:     model.TaskStateInputRequired,
		Text:      "here is your song",
		Artifacts: []model.Artifact{{Name: model.ArtifactSong, Parts: []model.Part{model.TextPart("la")}}},
		Metadata:  model.StepMetadata(model.StepGenerateSong, ""),
	})
	require.NoError(t, err)

	got, _ := s.GetTask(task.ID)
	assert.Equal(t, model.TaskStateInputRequired, got.Status.State)
	assert.Equal(t, "here is your song", got.Status.Message.Text())
	assert.Len(t, got.Artifacts, 1)
}

func TestQueueIO_SurfacesMissingTask(t *testing.T) {
	s := store.New(nil)
	io := NewQueueIO(s, "gone")
	err := io.OnProgress(context.Background(), model.OrchestrationProgress{State: model.TaskStateWorking})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestDirectIO_DeliverReply(t *testing.T) {
	s, task := seed(t)
	d := NewDirectIO(s, task.ID)

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := d.OnInputRequired(context.Background(), "like it?", nil)
		done <- result{reply, err}
	}()

	require.Eventually(t, d.Waiting, time.Second, time.Millisecond)
	require.NoError(t, d.Deliver(context.Background(), "yes"))

	// recorded before the engine wakes up
	got, _ := s.GetTask(task.ID)
	assert.Equal(t, "yes", got.History[len(got.History)-1].Text())

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "yes", r.reply)

	got, _ = s.GetTask(task.ID)
	assert.Len(t, got.History, 2)
	assert.Equal(t, model.RoleUser, got.History[1].Role)
}

func TestDirectIO_DeliverWithoutWaiter(t *testing.T) {
	s, task := seed(t)
	d := NewDirectIO(s, task.ID)
	assert.ErrorIs(t, d.Deliver(context.Background(), "early"), ErrNoWaiter)
}

func TestDirectIO_Close(t *testing.T) {
	s, task := seed(t)
	d := NewDirectIO(s, task.ID)

	done := make(chan error, 1)
	go func() {
		_, err := d.OnInputRequired(context.Background(), "?", nil)
		done <- err
	}()
	require.Eventually(t, d.Waiting, time.Second, time.Millisecond)
	d.Close()

	assert.ErrorIs(t, <-done, ErrInputClosed)
	_, err := d.OnInputRequired(context.Background(), "?", nil)
	assert.ErrorIs(t, err, ErrInputClosed)
}

func TestDirectIO_ContextCancel(t *testing.T) {
	s, task := seed(t)
	d := NewDirectIO(s, task.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.OnInputRequired(ctx, "?", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, d.Waiting())
}

func TestDirectIO_DeliverToFinishedTask(t *testing.T) {
	s, task := seed(t)
	d := NewDirectIO(s, task.ID)

	done := make(chan error, 1)
	go func() {
		_, err := d.OnInputRequired(context.Background(), "?", nil)
		done <- err
	}()
	require.Eventually(t, d.Waiting, time.Second, time.Millisecond)

	_, err := s.Mutate(context.Background(), task.ID, func(t *model.Task) error {
		t.Status.State = model.TaskStateCanceled
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, d.Deliver(context.Background(), "too late"), store.ErrTaskTerminal)
	assert.True(t, d.Waiting())
	d.Close()
	assert.ErrorIs(t, <-done, ErrInputClosed)
}

func TestDirectIO_OnClose(t *testing.T) {
	s, task := seed(t)
	d := NewDirectIO(s, task.ID)

	calls := 0
	d.OnClose(func() { calls++ })
	d.Close()
	d.Close()
	assert.Equal(t, 1, calls)
	assert.True(t, d.Closed())

	d.OnClose(func() { calls++ })
	assert.Equal(t, 2, calls)
}
