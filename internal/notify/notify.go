// Package notify turns task updates into webhook deliveries for tasks that
// asked for push notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/store"
	"github.com/makeasinger/videoagent/internal/stream"
)

const (
	TaskTypeWebhook = "webhook:deliver"
	QueueWebhooks   = "webhooks"

	trackerTTL = 6 * time.Hour
)

// Delivery is the payload of a webhook task
type Delivery struct {
	URL   string          `json:"url"`
	Token string          `json:"token,omitempty"`
	Event string          `json:"event"`
	Data  model.TaskEvent `json:"data"`
}

// Body is what the receiving endpoint gets
type Body struct {
	Event string          `json:"event"`
	Data  model.TaskEvent `json:"data"`
}

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Notifier struct {
	client   Enqueuer
	cfg      config.WebhookConfig
	trackers *cache.Cache
	logger   *zap.Logger
}

func NewNotifier(client Enqueuer, cfg config.WebhookConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:   client,
		cfg:      cfg,
		trackers: cache.New(trackerTTL, trackerTTL/2),
		logger:   logger.Named("notify"),
	}
}

// NewDeliveryTask builds the asynq task for one delivery
func NewDeliveryTask(d Delivery, cfg config.WebhookConfig) (*asynq.Task, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery: %w", err)
	}
	opts := []asynq.Option{asynq.Queue(QueueWebhooks), asynq.MaxRetry(cfg.MaxRetry)}
	if cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(cfg.Timeout))
	}
	return asynq.NewTask(TaskTypeWebhook, payload, opts...), nil
}

// Listener enqueues one delivery per event the task's notification config
// wants. Tasks without a webhook config are ignored.
func (n *Notifier) Listener() store.Listener {
	return func(ctx context.Context, ev store.Event) error {
		cfg := ev.Task.Metadata.Notification
		if cfg == nil || cfg.Mode != model.NotificationWebhook || cfg.URL == "" {
			return nil
		}

		tracker := n.tracker(ev.Task.ID)
		frames, _ := tracker.Frames(ev)
		if ev.Task.Status.State.IsTerminal() {
			n.trackers.Delete(ev.Task.ID)
		}

		for _, f := range frames {
			if !cfg.Wants(f.Event) {
				continue
			}
			task, err := NewDeliveryTask(Delivery{URL: cfg.URL, Token: cfg.Token, Event: f.Event, Data: f.Data}, n.cfg)
			if err != nil {
				return err
			}
			if _, err := n.client.EnqueueContext(ctx, task); err != nil {
				n.logger.Error("failed to enqueue webhook",
					zap.String("task_id", ev.Task.ID),
					zap.String("event", f.Event),
					zap.Error(err),
				)
				return fmt.Errorf("failed to enqueue webhook: %w", err)
			}
		}
		return nil
	}
}

func (n *Notifier) tracker(taskID string) *stream.Tracker {
	if v, ok := n.trackers.Get(taskID); ok {
		return v.(*stream.Tracker)
	}
	t := stream.NewTracker()
	n.trackers.SetDefault(taskID, t)
	return t
}
