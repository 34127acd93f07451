// Package rpc decodes JSON-RPC 2.0 calls and maps them onto the task service.
// HTTP and WebSocket transports share it.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/queue"
	"github.com/makeasinger/videoagent/internal/service"
)

// Dispatcher executes non-streaming methods. tasks/sendSubscribe is parsed
// here but streamed by the transport.
type Dispatcher struct {
	tasks     *service.TaskService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewDispatcher(tasks *service.TaskService, v *validator.Validate, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{tasks: tasks, validator: v, logger: logger.Named("rpc")}
}

// Decode parses a request body. On failure it returns the error response to
// send back.
func Decode(body []byte) (*model.JSONRPCRequest, *model.JSONRPCResponse) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		if len(body) > 0 && body[0] == '[' {
			return nil, ErrorResponse(nil, NewError(model.CodeInvalidRequest, "Batch requests are not supported", nil))
		}
		return nil, ErrorResponse(nil, NewError(model.CodeParseError, "Parse error", nil))
	}

	var req model.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrorResponse(nil, NewError(model.CodeParseError, "Parse error", err.Error()))
	}
	if req.JSONRPC != model.JSONRPCVersion || req.Method == "" {
		return nil, ErrorResponse(req.ID, NewError(model.CodeInvalidRequest, "Invalid Request", nil))
	}
	return &req, nil
}

// Handle executes one call. opts is used by tasks/send.
func (d *Dispatcher) Handle(ctx context.Context, req *model.JSONRPCRequest, opts service.SendOptions) *model.JSONRPCResponse {
	switch req.Method {
	case model.MethodSend:
		params, rpcErr := d.SendParams(req)
		if rpcErr != nil {
			return ErrorResponse(req.ID, rpcErr)
		}
		res, err := d.tasks.Send(ctx, params, opts)
		if err != nil {
			return ErrorResponse(req.ID, d.FromError(err))
		}
		return Result(req.ID, res.Task)

	case model.MethodGet:
		var params model.TaskQueryParams
		if rpcErr := d.bind(req, &params); rpcErr != nil {
			return ErrorResponse(req.ID, rpcErr)
		}
		task, err := d.tasks.Get(params.ID, params.HistoryLength)
		if err != nil {
			return ErrorResponse(req.ID, d.FromError(err))
		}
		return Result(req.ID, task)

	case model.MethodCancel:
		var params model.TaskIDParams
		if rpcErr := d.bind(req, &params); rpcErr != nil {
			return ErrorResponse(req.ID, rpcErr)
		}
		task, err := d.tasks.Cancel(ctx, params.ID)
		if err != nil {
			return ErrorResponse(req.ID, d.FromError(err))
		}
		return Result(req.ID, task)

	case model.MethodSendSubscribe:
		return ErrorResponse(req.ID, NewError(model.CodeInvalidRequest, "tasks/sendSubscribe requires a streaming transport", nil))
	}
	return ErrorResponse(req.ID, NewError(model.CodeMethodNotFound, "Method not found", req.Method))
}

// SendParams decodes and validates tasks/send and tasks/sendSubscribe params.
func (d *Dispatcher) SendParams(req *model.JSONRPCRequest) (model.SendTaskParams, *model.JSONRPCError) {
	var params model.SendTaskParams
	if rpcErr := d.bind(req, &params); rpcErr != nil {
		return params, rpcErr
	}
	if params.Prompt() == "" {
		return params, NewError(model.CodeInvalidParams, "Invalid params", map[string]string{"message": "text required"})
	}
	return params, nil
}

func (d *Dispatcher) bind(req *model.JSONRPCRequest, v any) *model.JSONRPCError {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return NewError(model.CodeInvalidParams, "Invalid params", "params required")
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return NewError(model.CodeInvalidParams, "Invalid params", err.Error())
	}
	if err := d.validator.Struct(v); err != nil {
		return NewError(model.CodeInvalidParams, "Invalid params", formatValidationErrors(err))
	}
	return nil
}

// FromError maps a service error onto a JSON-RPC error.
func (d *Dispatcher) FromError(err error) *model.JSONRPCError {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return NewError(model.CodeTaskNotFound, "Task not found", err.Error())
	case errors.Is(err, service.ErrEmptyPrompt):
		return NewError(model.CodeInvalidParams, "Invalid params", err.Error())
	case errors.Is(err, service.ErrTaskTerminal), errors.Is(err, service.ErrTaskBusy):
		return NewError(model.CodeTaskFailure, "Task cannot accept this message", err.Error())
	case errors.Is(err, queue.ErrQueueClosed):
		return NewError(model.CodeTaskFailure, "Server is shutting down", err.Error())
	}
	d.logger.Error("task processing failed", zap.Error(err))
	return NewError(model.CodeTaskFailure, "Task processing failed", err.Error())
}

func NewError(code int, message string, data any) *model.JSONRPCError {
	return &model.JSONRPCError{Code: code, Message: message, Data: data}
}

func Result(id json.RawMessage, result any) *model.JSONRPCResponse {
	return &model.JSONRPCResponse{JSONRPC: model.JSONRPCVersion, ID: normalizeID(id), Result: result}
}

func ErrorResponse(id json.RawMessage, err *model.JSONRPCError) *model.JSONRPCResponse {
	return &model.JSONRPCResponse{JSONRPC: model.JSONRPCVersion, ID: normalizeID(id), Error: err}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Namespace()] = e.Tag()
		}
		return errs
	}
	return err.Error()
}
