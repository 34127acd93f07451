package model

// Streaming event names
const (
	EventStatusUpdate = "status_update"
	EventArtifact     = "artifact"
	EventError        = "error"
	EventCompletion   = "completion"
)

// TaskEvent is the payload of every streamed event, over SSE, WebSocket and
// webhooks alike.
type TaskEvent struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId,omitempty"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
}

// ErrorEvent is sent before the stream closes on an internal failure
type ErrorEvent struct {
	ID      string `json:"id,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewTaskEvent snapshots a task into an event. INPUT_REQUIRED is final for a
// stream as well as the terminal states.
func NewTaskEvent(t *Task) TaskEvent {
	md := t.Metadata.Clone()
	return TaskEvent{
		ID:        t.ID,
		ContextID: t.ContextID,
		Status:    t.Status,
		Final:     t.Status.State.IsTerminal() || t.Status.State == TaskStateInputRequired,
		Artifacts: t.Artifacts,
		Metadata:  &md,
	}
}
