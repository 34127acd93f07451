package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/model"
)

// CompilerClient joins clips over the song audio using the video compiler
// microservice.
type CompilerClient struct {
	http    *resty.Client
	baseURL string
	logger  *zap.Logger
}

type compileResponse struct {
	OutputURL string  `json:"output_url"`
	MimeType  string  `json:"mime_type"`
	Duration  float64 `json:"duration"`
}

type compileClip struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

type compileBody struct {
	AudioURL  string        `json:"audio_url"`
	Clips     []compileClip `json:"clips"`
	OutputKey string        `json:"output_key"`
}

func NewCompilerClient(cfg config.CompilerConfig, logger *zap.Logger) *CompilerClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	baseURL := strings.TrimRight(cfg.ServiceURL, "/")
	return &CompilerClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		baseURL: baseURL,
		logger:  logger,
	}
}

// Compile joins clips in the order given. Without a service configured it
// returns a mock video URL.
func (c *CompilerClient) Compile(ctx context.Context, req model.CompileRequest) (*model.CompiledVideo, error) {
	if len(req.Clips) == 0 {
		return nil, fmt.Errorf("compile request has no clips")
	}

	var total float64
	body := compileBody{
		AudioURL:  req.AudioURL,
		Clips:     make([]compileClip, len(req.Clips)),
		OutputKey: fmt.Sprintf("videos/%s/compiled.mp4", req.TaskID),
	}
	for i, clip := range req.Clips {
		body.Clips[i] = compileClip{URL: clip.URL, Duration: clip.DurationSec}
		total += clip.DurationSec
	}

	if !c.IsConfigured() {
		c.logger.Debug("compiler not configured, using mock", zap.String("task_id", req.TaskID))
		return &model.CompiledVideo{
			URL:         fmt.Sprintf("https://example.com/mock/%s/compiled.mp4", req.TaskID),
			MimeType:    "video/mp4",
			DurationSec: total,
		}, nil
	}

	var out compileResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/compile")
	if err != nil {
		return nil, fmt.Errorf("failed to send compile request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("compiler error (status %d): %s", resp.StatusCode(), resp.String())
	}
	if out.OutputURL == "" {
		return nil, fmt.Errorf("compiler returned no output url")
	}
	if out.MimeType == "" {
		out.MimeType = "video/mp4"
	}
	return &model.CompiledVideo{URL: out.OutputURL, MimeType: out.MimeType, DurationSec: out.Duration}, nil
}

// HealthCheck checks if the compiler service is available
func (c *CompilerClient) HealthCheck(ctx context.Context) error {
	if !c.IsConfigured() {
		return nil
	}
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("compiler health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("compiler unhealthy (status %d)", resp.StatusCode())
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *CompilerClient) IsConfigured() bool {
	return c.baseURL != ""
}
