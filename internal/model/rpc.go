package model

import (
	"encoding/json"
	"strings"
)

const JSONRPCVersion = "2.0"

// JSON-RPC methods
const (
	MethodSend          = "tasks/send"
	MethodSendSubscribe = "tasks/sendSubscribe"
	MethodGet           = "tasks/get"
	MethodCancel        = "tasks/cancel"

	// MethodStatus is the server-initiated notification pushed over WebSocket
	MethodStatus = "tasks/status"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTaskNotFound   = -32000
	CodeTaskFailure    = -32001
)

// JSONRPCRequest is an inbound call. A missing ID makes it a notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a server push with no id
type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

// SendTaskParams are the params of tasks/send and tasks/sendSubscribe.
// A task id, either top-level or on the message, marks the call as feedback.
type SendTaskParams struct {
	ID           string                  `json:"id,omitempty"`
	ContextID    string                  `json:"contextId,omitempty"`
	Message      Message                 `json:"message" validate:"required"`
	Notification *PushNotificationConfig `json:"notification,omitempty" validate:"omitempty"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
}

// TaskID returns the addressed task, if any.
func (p SendTaskParams) TaskID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Message.TaskID
}

// Prompt returns the trimmed text of the message.
func (p SendTaskParams) Prompt() string {
	return strings.TrimSpace(p.Message.Text())
}

// TaskQueryParams are the params of tasks/get
type TaskQueryParams struct {
	ID            string `json:"id" validate:"required"`
	HistoryLength *int   `json:"historyLength,omitempty" validate:"omitempty,min=0"`
}

// TaskIDParams are the params of tasks/cancel
type TaskIDParams struct {
	ID string `json:"id" validate:"required"`
}

// PushNotificationConfig requests streamed or webhook updates for a task.
type PushNotificationConfig struct {
	Mode       NotificationMode `json:"mode" validate:"required,oneof=sse webhook"`
	URL        string           `json:"url,omitempty" validate:"required_if=Mode webhook,omitempty,url"`
	Token      string           `json:"token,omitempty"`
	EventTypes []string         `json:"eventTypes,omitempty" validate:"omitempty,dive,oneof=status_update artifact error completion"`
}

// Wants reports whether the config subscribes to an event type. No filter
// means every event.
func (c *PushNotificationConfig) Wants(event string) bool {
	if c == nil || len(c.EventTypes) == 0 {
		return true
	}
	for _, e := range c.EventTypes {
		if e == event {
			return true
		}
	}
	return false
}
