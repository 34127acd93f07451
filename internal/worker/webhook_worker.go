package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/notify"
)

// WebhookWorker posts task events to client endpoints
type WebhookWorker struct {
	http    *resty.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewWebhookWorker(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *WebhookWorker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookWorker{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "videoagent-webhook/1.0"),
		metrics: m,
		logger:  logger.Named("webhook"),
	}
}

func (w *WebhookWorker) Close() error {
	return w.http.Close()
}

// ProcessTask delivers one event. Server errors and transport failures are
// retried by asynq; client errors are not.
func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var d notify.Delivery
	if err := json.Unmarshal(t.Payload(), &d); err != nil {
		w.observe("invalid")
		return fmt.Errorf("failed to unmarshal delivery: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With(zap.String("task_id", d.Data.ID), zap.String("event", d.Event))

	req := w.http.R().
		SetContext(ctx).
		SetBody(notify.Body{Event: d.Event, Data: d.Data})
	if d.Token != "" {
		req.SetAuthToken(d.Token)
	}

	resp, err := req.Post(d.URL)
	if err != nil {
		w.observe("error")
		log.Warn("webhook delivery failed", zap.Error(err))
		return fmt.Errorf("webhook delivery failed: %w", err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		w.observe("delivered")
		log.Debug("webhook delivered", zap.Int("status", code))
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		w.observe("error")
		log.Warn("webhook endpoint error", zap.Int("status", code))
		return fmt.Errorf("webhook endpoint returned %d", code)
	default:
		w.observe("rejected")
		log.Warn("webhook rejected", zap.Int("status", code))
		return fmt.Errorf("webhook endpoint returned %d: %w", code, asynq.SkipRetry)
	}
}

func (w *WebhookWorker) observe(outcome string) {
	if w.metrics != nil {
		w.metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}
