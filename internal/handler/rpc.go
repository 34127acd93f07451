package handler

import (
	"bufio"
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/rpc"
	"github.com/makeasinger/videoagent/internal/service"
	"github.com/makeasinger/videoagent/internal/stream"
)

// RPCHandler serves JSON-RPC over HTTP. tasks/sendSubscribe answers with a
// server-sent event stream.
type RPCHandler struct {
	dispatcher *rpc.Dispatcher
	tasks      *service.TaskService
	keepAlive  time.Duration
	logger     *zap.Logger
}

func NewRPCHandler(d *rpc.Dispatcher, tasks *service.TaskService, keepAlive time.Duration, logger *zap.Logger) *RPCHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCHandler{dispatcher: d, tasks: tasks, keepAlive: keepAlive, logger: logger.Named("rpc_http")}
}

// Handle handles POST / and POST /rpc
func (h *RPCHandler) Handle(c *fiber.Ctx) error {
	req, errResp := rpc.Decode(c.Body())
	if errResp != nil {
		return c.JSON(errResp)
	}

	if req.Method == model.MethodSendSubscribe {
		return h.subscribe(c, req)
	}

	resp := h.dispatcher.Handle(c.UserContext(), req, service.SendOptions{})
	if len(req.ID) == 0 {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(resp)
}

func (h *RPCHandler) subscribe(c *fiber.Ctx, req *model.JSONRPCRequest) error {
	params, rpcErr := h.dispatcher.SendParams(req)
	if rpcErr != nil {
		return c.JSON(rpc.ErrorResponse(req.ID, rpcErr))
	}

	// The task outlives this request, so it must not inherit its context
	res, err := h.tasks.Send(context.Background(), params, service.SendOptions{Subscribe: true})
	if err != nil {
		return c.JSON(rpc.ErrorResponse(req.ID, h.dispatcher.FromError(err)))
	}

	taskID := res.Task.ID
	sub := res.Subscription
	log := h.logger.With(zap.String("task_id", taskID))

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		tracker := stream.NewTracker()
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					_ = writeSSE(w, model.EventError, model.ErrorEvent{ID: taskID, Code: model.CodeInternalError, Message: "event stream closed"})
					_ = w.Flush()
					return
				}
				frames, done := tracker.Frames(ev)
				for _, f := range frames {
					if err := writeSSE(w, f.Event, f.Data); err != nil {
						log.Warn("failed to write event", zap.Error(err))
						return
					}
				}
				if err := w.Flush(); err != nil {
					log.Debug("client went away", zap.Error(err))
					return
				}
				if done {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					log.Debug("client went away", zap.Error(err))
					return
				}
			}
		}
	})
	return nil
}
