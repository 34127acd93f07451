// Package worker runs background jobs: webhook deliveries through asynq and
// the retention sweep on a cron schedule.
package worker

import (
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/notify"
)

// RedisOpt builds the asynq connection options
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewServer builds the asynq server and mux that deliver webhooks
func NewServer(cfg *config.Config, webhooks *WebhookWorker, logger *zap.Logger) (*asynq.Server, *asynq.ServeMux) {
	concurrency := cfg.Webhook.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	srv := asynq.NewServer(RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			notify.QueueWebhooks: 1,
		},
		Logger:   logger.Named("asynq").Sugar(),
		LogLevel: asynqLogLevel(cfg.Log.Level),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskTypeWebhook, webhooks.ProcessTask)
	return srv, mux
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
