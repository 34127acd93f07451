package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/videoagent/internal/auth"
	"github.com/makeasinger/videoagent/internal/client"
	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/feedback"
	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/orchestrator"
	"github.com/makeasinger/videoagent/internal/queue"
	"github.com/makeasinger/videoagent/internal/rpc"
	"github.com/makeasinger/videoagent/internal/server"
	"github.com/makeasinger/videoagent/internal/service"
	"github.com/makeasinger/videoagent/internal/store"
	ws "github.com/makeasinger/videoagent/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	store    *store.Store
	verifier *auth.HMACVerifier
}

// setupApp builds the same stack as the serve command with every remote
// unconfigured, so all collaborators use their mock fallbacks.
func setupApp(t *testing.T, authEnabled bool) *testApp {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{PublicURL: "http://agent.test"},
		Log:       config.LogConfig{Level: "info", Format: "console"},
		Auth:      config.AuthConfig{Enabled: authEnabled, JWTSecret: testJWTSecret},
		RateLimit: config.RateLimitConfig{Enabled: true, SendsPerMin: 10000},
	}

	m := metrics.New()
	st := store.New(nil)
	st.AddStatusListener(m.TaskListener())

	song := client.NewA2AClient(config.AgentConfig{}, time.Millisecond, time.Minute, nil)
	script := client.NewA2AClient(config.AgentConfig{}, time.Millisecond, time.Minute, nil)
	media := client.NewA2AClient(config.AgentConfig{}, time.Millisecond, time.Minute, nil)
	scripts := client.NewScriptAgent(script, nil)
	mediaAgent := client.NewMediaAgent(media, nil)

	engine := orchestrator.NewEngine(orchestrator.DefaultConfig(), orchestrator.Collaborators{
		Cards: client.NewAgentDirectory(map[model.AgentKind]*client.A2AClient{
			model.AgentSong:   song,
			model.AgentScript: script,
			model.AgentMedia:  media,
		}, nil),
		Songs:       client.NewSongAgent(song, nil),
		Scripts:     scripts,
		Entities:    scripts,
		Images:      mediaAgent,
		Clips:       mediaAgent,
		Compiler:    client.NewCompilerClient(config.CompilerConfig{}, nil),
		Uploader:    client.NewVideoUploader(nil, nil),
		Interpreter: feedback.NewInterpreter(client.NewLLMClient(config.LLMConfig{}), nil),
	}, nil, m)

	q := queue.New(queue.Config{MaxConcurrent: 2, MaxRetries: 1, RetryDelay: 10 * time.Millisecond},
		orchestrator.NewProcessor(engine, st, nil), st, nil, m)
	tasks := service.NewTaskService(st, q, nil)
	dispatcher := rpc.NewDispatcher(tasks, validator.New(), nil)

	hub := ws.NewHub(dispatcher, tasks, st, nil)
	st.AddStatusListener(hub.Listener())
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	verifier := auth.NewHMACVerifier(testJWTSecret)
	deps := server.Deps{
		Config:     cfg,
		Tasks:      tasks,
		Dispatcher: dispatcher,
		Hub:        hub,
		Metrics:    m,
		Services:   map[string]bool{"songAgent": false, "r2": false},
		KeepAlive:  time.Second,
	}
	if authEnabled {
		deps.Verifier = verifier
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
		stopHub()
	})

	return &testApp{app: server.New(deps), store: st, verifier: verifier}
}

// generateToken creates an HMAC JWT for test requests.
func (ta *testApp) generateToken(t *testing.T) string {
	t.Helper()
	token, err := ta.verifier.Sign("test-user-123", "test@example.com")
	require.NoError(t, err)
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, 10000)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &result), "body: %s", body)
	return result
}

// rpcResponse is a decoded JSON-RPC response whose result is a task
type rpcResponse struct {
	ID     json.RawMessage     `json:"id"`
	Result *model.Task         `json:"result"`
	Error  *model.JSONRPCError `json:"error"`
}

func sendBody(method, taskID, text string) string {
	params := map[string]any{
		"message": map[string]any{
			"role":  "user",
			"parts": []any{map[string]any{"kind": "text", "text": text}},
		},
	}
	if taskID != "" {
		params["id"] = taskID
	}
	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	return string(raw)
}

func callRPC(t *testing.T, app *fiber.App, body string) rpcResponse {
	t.Helper()
	resp, err := doRequest(app, http.MethodPost, "/", body, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out rpcResponse
	raw := readBody(t, resp)
	require.NoError(t, json.Unmarshal([]byte(raw), &out), "body: %s", raw)
	return out
}

func getTask(t *testing.T, app *fiber.App, id string) *model.Task {
	t.Helper()
	resp, err := doRequest(app, http.MethodGet, "/tasks/"+id, "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var task model.Task
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &task))
	return &task
}

// waitForInput polls until the task pauses at step
func waitForInput(t *testing.T, app *fiber.App, id string, step model.Step) *model.Task {
	t.Helper()
	var task *model.Task
	require.Eventually(t, func() bool {
		task = getTask(t, app, id)
		return task.Status.State == model.TaskStateInputRequired && task.Metadata.CurrentStep == step
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

type sseEvent struct {
	Event string
	Data  model.TaskEvent
}

// parseSSE splits a finished event stream into events. Comments are skipped.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.Data))
			}
		}
		if ev.Event != "" {
			out = append(out, ev)
		}
	}
	return out
}
