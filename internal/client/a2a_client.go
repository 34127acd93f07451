package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/model"
)

const agentCardPath = "/.well-known/agent.json"

// A2AClient talks to a remote agent: card discovery, tasks/send and
// tasks/get polling until the remote task settles.
type A2AClient struct {
	http         *resty.Client
	baseURL      string
	apiKey       string
	timeout      time.Duration
	pollInterval time.Duration
	cards        *cache.Cache
	logger       *zap.Logger
	seq          atomic.Int64
}

// RemoteTaskError is returned when the remote agent fails or cancels a task.
type RemoteTaskError struct {
	Agent  string
	TaskID string
	State  model.TaskState
	Reason string
}

func (e *RemoteTaskError) Error() string {
	return fmt.Sprintf("remote agent %s task %s ended %s: %s", e.Agent, e.TaskID, e.State, e.Reason)
}

func NewA2AClient(cfg config.AgentConfig, pollInterval, cardTTL time.Duration, logger *zap.Logger) *A2AClient {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if cardTTL <= 0 {
		cardTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}

	return &A2AClient{
		http:         http,
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		timeout:      cfg.Timeout,
		pollInterval: pollInterval,
		cards:        cache.New(cardTTL, 2*cardTTL),
		logger:       logger.With(zap.String("agent_url", baseURL)),
	}
}

// IsConfigured returns true if the client has a remote to talk to
func (c *A2AClient) IsConfigured() bool {
	return c.baseURL != ""
}

// Close releases idle connections
func (c *A2AClient) Close() error {
	return c.http.Close()
}

// FetchCard returns the remote agent card, cached for the configured TTL.
func (c *A2AClient) FetchCard(ctx context.Context) (model.AgentCard, error) {
	if v, ok := c.cards.Get(agentCardPath); ok {
		return v.(model.AgentCard), nil
	}

	var card model.AgentCard
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&card).
		Get(agentCardPath)
	if err != nil {
		return model.AgentCard{}, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	if resp.IsError() {
		return model.AgentCard{}, fmt.Errorf("agent card request failed (status %d): %s", resp.StatusCode(), resp.String())
	}

	c.cards.Set(agentCardPath, card, cache.DefaultExpiration)
	return card, nil
}

// SendTask starts a remote task with the given message.
func (c *A2AClient) SendTask(ctx context.Context, msg model.Message) (*model.Task, error) {
	var task model.Task
	if err := c.call(ctx, model.MethodSend, model.SendTaskParams{Message: msg}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches the current state of a remote task.
func (c *A2AClient) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := c.call(ctx, model.MethodGet, model.TaskQueryParams{ID: id}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitForTask polls a remote task on a fixed interval until it completes or
// pauses with output for review.
func (c *A2AClient) WaitForTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	attempt := 0
	for {
		switch task.Status.State {
		case model.TaskStateCompleted, model.TaskStateInputRequired:
			return task, nil
		case model.TaskStateFailed, model.TaskStateCanceled:
			reason := ""
			if task.Status.Message != nil {
				reason = task.Status.Message.Text()
			}
			return nil, &RemoteTaskError{Agent: c.baseURL, TaskID: task.ID, State: task.Status.State, Reason: reason}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		attempt++
		next, err := c.GetTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("polled remote task",
			zap.Int("attempt", attempt),
			zap.String("remote_task_id", task.ID),
			zap.String("state", string(next.Status.State)),
		)
		task = next
	}
}

// Invoke runs one skill on the remote agent and returns the settled task.
// The payload travels as a data part next to a text summary.
func (c *A2AClient) Invoke(ctx context.Context, skill, text string, payload any) (*model.Task, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := model.DataPart(map[string]any{"skill": skill, "input": payload})
	if err != nil {
		return nil, err
	}
	msg := model.Message{
		Role:      model.RoleUser,
		Parts:     []model.Part{model.TextPart(text), data},
		MessageID: uuid.New().String(),
		Metadata:  map[string]any{"skill": skill},
	}

	task, err := c.SendTask(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", skill, err)
	}
	c.logger.Info("remote task started", zap.String("skill", skill), zap.String("remote_task_id", task.ID))

	task, err = c.WaitForTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", skill, err)
	}
	return task, nil
}

type rpcResponse struct {
	Result json.RawMessage     `json:"result"`
	Error  *model.JSONRPCError `json:"error"`
}

func (c *A2AClient) call(ctx context.Context, method string, params, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	id, _ := json.Marshal(c.seq.Add(1))

	var out rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(model.JSONRPCRequest{JSONRPC: model.JSONRPCVersion, ID: id, Method: method, Params: rawParams}).
		SetResult(&out).
		Post("/")
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s failed (status %d): %s", method, resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return fmt.Errorf("%s failed (code %d): %s", method, out.Error.Code, out.Error.Message)
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

// DecodeArtifact decodes the data part of the named artifact, or of the
// first artifact with a data part when name is empty.
func DecodeArtifact(task *model.Task, name string, v any) error {
	for _, a := range task.Artifacts {
		if name != "" && a.Name != name {
			continue
		}
		for _, p := range a.Parts {
			if p.Kind == model.PartKindData {
				return p.Decode(v)
			}
		}
	}
	return fmt.Errorf("remote task %s has no %q data artifact", task.ID, name)
}
