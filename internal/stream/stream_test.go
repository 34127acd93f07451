package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/store"
)

func events(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

func TestFrames_ArtifactsOnceAheadOfStatus(t *testing.T) {
	task := model.NewTask("ctx", model.NewUserMessage("", "", "a song about rain"))
	tr := NewTracker()

	frames, done := tr.Frames(store.Event{Type: store.EventCreated, Task: task.Clone()})
	assert.Equal(t, []string{model.EventStatusUpdate}, events(frames))
	assert.False(t, done)

	task.Apply(model.OrchestrationProgress{
		State:     model.TaskStateWorking,
		Text:      "Song generated",
		Artifacts: []model.Artifact{{Name: "song", Parts: []model.Part{model.TextPart("v1")}}},
	}, time.Now())
	frames, done = tr.Frames(store.Event{Type: store.EventUpdated, Task: task.Clone()})
	require.Equal(t, []string{model.EventArtifact, model.EventStatusUpdate}, events(frames))
	assert.Nil(t, frames[1].Data.Artifacts, "status updates do not repeat artifacts")
	assert.False(t, done)

	// Unchanged artifact is not sent again
	task.Apply(model.OrchestrationProgress{State: model.TaskStateInputRequired, Text: "Happy with it?"}, time.Now())
	frames, done = tr.Frames(store.Event{Type: store.EventUpdated, Task: task.Clone()})
	assert.Equal(t, []string{model.EventStatusUpdate}, events(frames))
	assert.True(t, done, "input required ends the stream")
}

func TestFrames_SkipsAppendedFeedback(t *testing.T) {
	task := model.NewTask("ctx", model.NewUserMessage("", "", "prompt"))
	task.Apply(model.OrchestrationProgress{State: model.TaskStateInputRequired, Text: "Happy?"}, time.Now())
	task.History = append(task.History, model.NewUserMessage(task.ID, task.ContextID, "more drums"))

	frames, done := NewTracker().Frames(store.Event{Type: store.EventUpdated, Task: task})
	assert.Empty(t, frames)
	assert.False(t, done)
}

func TestFrames_TerminalAddsCompletion(t *testing.T) {
	task := model.NewTask("ctx", model.NewUserMessage("", "", "prompt"))
	task.Apply(model.OrchestrationProgress{State: model.TaskStateFailed, Text: "Task failed: boom"}, time.Now())

	frames, done := NewTracker().Frames(store.Event{Type: store.EventUpdated, Task: task})
	require.Equal(t, []string{model.EventStatusUpdate, model.EventCompletion}, events(frames))
	assert.True(t, done)
	assert.True(t, frames[1].Data.Final)
}
