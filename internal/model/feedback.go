package model

// FeedbackRequest is everything the interpreter sees about a paused step.
type FeedbackRequest struct {
	Step           Step       `json:"step"`
	History        []Message  `json:"history"`
	PreviousOutput []Artifact `json:"previousOutput"`
	UserComment    string     `json:"userComment"`
	AgentCard      AgentCard  `json:"agentCard"`
}

// FeedbackDecision is the interpreter's structured reading of a comment.
// NewInput is only meaningful for retry and modify.
type FeedbackDecision struct {
	Action   FeedbackAction `json:"action"`
	NewInput string         `json:"newInput,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}
