package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is one orchestration run through the fixed step sequence.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	History   []Message  `json:"history"`
	Metadata  Metadata   `json:"metadata"`
	Artifacts []Artifact `json:"artifacts"`
	Kind      string     `json:"kind"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TaskStatus is the current lifecycle snapshot of a task
type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
}

// Message is a single conversational turn
type Message struct {
	Role      Role           `json:"role" validate:"required,oneof=user agent"`
	Parts     []Part         `json:"parts" validate:"required,min=1,dive"`
	MessageID string         `json:"messageId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      string         `json:"kind,omitempty"`
}

// Artifact is a generation output accumulated on a task
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewTask builds a SUBMITTED task positioned at the first step with msg as
// its first history entry.
func NewTask(contextID string, msg Message) *Task {
	now := time.Now().UTC()
	id := uuid.New().String()
	if contextID == "" {
		contextID = uuid.New().String()
	}

	msg.TaskID = id
	msg.ContextID = contextID
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	msg.Kind = "message"

	return &Task{
		ID:        id,
		ContextID: contextID,
		Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: now},
		History:   []Message{msg},
		Metadata:  Metadata{CurrentStep: StepGenerateSong},
		Artifacts: []Artifact{},
		Kind:      "task",
		CreatedAt: now,
	}
}

// NewAgentMessage builds an agent text message bound to a task.
func NewAgentMessage(taskID, contextID, text string) *Message {
	return &Message{
		Role:      RoleAgent,
		Parts:     []Part{TextPart(text)},
		MessageID: uuid.New().String(),
		TaskID:    taskID,
		ContextID: contextID,
		Kind:      "message",
	}
}

// NewUserMessage builds a user text message bound to a task.
func NewUserMessage(taskID, contextID, text string) Message {
	return Message{
		Role:      RoleUser,
		Parts:     []Part{TextPart(text)},
		MessageID: uuid.New().String(),
		TaskID:    taskID,
		ContextID: contextID,
		Kind:      "message",
	}
}

// Text joins the message's text parts.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartKindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// LastUserMessage returns the most recent user message in history.
func (t *Task) LastUserMessage() (*Message, bool) {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].Role == RoleUser {
			return &t.History[i], true
		}
	}
	return nil, false
}

// Request returns the text of the first user message, the request that
// created the task.
func (t *Task) Request() string {
	for _, m := range t.History {
		if m.Role == RoleUser {
			return m.Text()
		}
	}
	return ""
}

// AwaitingFeedback reports whether the task is paused for input and a user
// message has arrived after the pause.
func (t *Task) AwaitingFeedback() bool {
	if t.Status.State != TaskStateInputRequired || len(t.History) == 0 {
		return false
	}
	return t.History[len(t.History)-1].Role == RoleUser
}

// Artifact returns the artifact with the given name.
func (t *Task) Artifact(name string) (*Artifact, bool) {
	for i := range t.Artifacts {
		if t.Artifacts[i].Name == name {
			return &t.Artifacts[i], true
		}
	}
	return nil, false
}

// UpsertArtifact replaces an artifact with the same name in place or appends
// a new one. Earlier artifacts are never removed.
func (t *Task) UpsertArtifact(a Artifact) {
	if a.ArtifactID == "" {
		a.ArtifactID = uuid.New().String()
	}
	for i := range t.Artifacts {
		if t.Artifacts[i].Name == a.Name {
			t.Artifacts[i] = a
			return
		}
	}
	t.Artifacts = append(t.Artifacts, a)
}

// Apply merges a progress report into the task. This is the only merge rule
// used for progress, both by the engine's working copy and by the store.
func (t *Task) Apply(p OrchestrationProgress, at time.Time) {
	status := TaskStatus{State: p.State, Timestamp: at}
	if p.Text != "" {
		status.Message = NewAgentMessage(t.ID, t.ContextID, p.Text)
		t.History = append(t.History, *status.Message)
	}
	t.Status = status

	for _, a := range p.Artifacts {
		t.UpsertArtifact(a.Clone())
	}
	if p.Metadata != nil {
		t.Metadata.Merge(*p.Metadata)
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Status.Message != nil {
		m := t.Status.Message.Clone()
		out.Status.Message = &m
	}
	if t.History != nil {
		out.History = make([]Message, len(t.History))
		for i, m := range t.History {
			out.History[i] = m.Clone()
		}
	}
	if t.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(t.Artifacts))
		for i, a := range t.Artifacts {
			out.Artifacts[i] = a.Clone()
		}
	}
	out.Metadata = t.Metadata.Clone()
	return &out
}

func (m Message) Clone() Message {
	out := m
	out.Parts = cloneParts(m.Parts)
	out.Metadata = cloneMap(m.Metadata)
	return out
}

func (a Artifact) Clone() Artifact {
	out := a
	out.Parts = cloneParts(a.Parts)
	out.Metadata = cloneMap(a.Metadata)
	return out
}

// cloneMap copies values through JSON so nested maps are not shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
