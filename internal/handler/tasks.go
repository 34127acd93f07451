package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/service"
	"github.com/makeasinger/videoagent/pkg/response"
)

// TaskHandler serves task polling
type TaskHandler struct {
	tasks *service.TaskService
}

func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type taskListResponse struct {
	Tasks []*model.Task `json:"tasks"`
}

// Get handles GET /tasks/:taskId
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	var historyLength *int
	if c.Query("historyLength") != "" {
		n := c.QueryInt("historyLength", -1)
		if n < 0 {
			return response.ValidationError(c, "historyLength must be a non-negative integer", nil)
		}
		historyLength = &n
	}

	task, err := h.tasks.Get(taskID, historyLength)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, task)
}

// List handles GET /tasks
func (h *TaskHandler) List(c *fiber.Ctx) error {
	return response.OK(c, taskListResponse{Tasks: h.tasks.List(c.Query("contextId"))})
}
