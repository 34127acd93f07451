package model

// Task states
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
)

var ValidTaskStates = []TaskState{
	TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
	TaskStateCompleted, TaskStateCanceled, TaskStateFailed,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// Message roles
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Part kinds
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Feedback actions returned by the interpreter
type FeedbackAction string

const (
	FeedbackAccept FeedbackAction = "accept"
	FeedbackRetry  FeedbackAction = "retry"
	FeedbackModify FeedbackAction = "modify"
)

// Known reports whether a is one of the three actions the engine branches on.
func (a FeedbackAction) Known() bool {
	switch a {
	case FeedbackAccept, FeedbackRetry, FeedbackModify:
		return true
	}
	return false
}

// Collaborator agent kinds
type AgentKind string

const (
	AgentSong   AgentKind = "song"
	AgentScript AgentKind = "script"
	AgentMedia  AgentKind = "media"
)

// Push notification modes
type NotificationMode string

const (
	NotificationSSE     NotificationMode = "sse"
	NotificationWebhook NotificationMode = "webhook"
)
