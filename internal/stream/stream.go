// Package stream turns store events for one task into the named events
// clients receive over SSE and webhooks.
package stream

import (
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/store"
)

// Frame is one named event
type Frame struct {
	Event string
	Data  model.TaskEvent
}

// Tracker remembers which artifacts of a task were already sent. Artifacts
// are sent once per new or replaced artifact, ahead of the status update
// that produced them. A Tracker is not safe for concurrent use.
type Tracker struct {
	seen map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]string)}
}

// Frames returns the frames for ev and whether the stream is finished.
func (s *Tracker) Frames(ev store.Event) ([]Frame, bool) {
	t := ev.Task
	// The feedback message itself is not news to the client that sent it
	if t.AwaitingFeedback() {
		return nil, false
	}

	var out []Frame
	for _, a := range t.Artifacts {
		if s.seen[a.Name] == a.ArtifactID {
			continue
		}
		s.seen[a.Name] = a.ArtifactID
		out = append(out, Frame{Event: model.EventArtifact, Data: model.TaskEvent{
			ID:        t.ID,
			ContextID: t.ContextID,
			Status:    t.Status,
			Artifacts: []model.Artifact{a},
		}})
	}

	status := model.NewTaskEvent(t)
	status.Artifacts = nil
	out = append(out, Frame{Event: model.EventStatusUpdate, Data: status})

	if t.Status.State.IsTerminal() {
		out = append(out, Frame{Event: model.EventCompletion, Data: model.NewTaskEvent(t)})
	}
	return out, status.Final
}
