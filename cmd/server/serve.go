package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/auth"
	"github.com/makeasinger/videoagent/internal/client"
	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/feedback"
	"github.com/makeasinger/videoagent/internal/logger"
	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/notify"
	"github.com/makeasinger/videoagent/internal/orchestrator"
	"github.com/makeasinger/videoagent/internal/queue"
	"github.com/makeasinger/videoagent/internal/rpc"
	"github.com/makeasinger/videoagent/internal/server"
	"github.com/makeasinger/videoagent/internal/service"
	"github.com/makeasinger/videoagent/internal/store"
	ws "github.com/makeasinger/videoagent/internal/websocket"
	"github.com/makeasinger/videoagent/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configPath)
	},
}

func serve(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	st := store.New(log.Logger)
	st.AddStatusListener(m.TaskListener())

	// Collaborators fall back to mocks when their remote is not configured
	songRemote := client.NewA2AClient(cfg.Agents.Song, cfg.Agents.PollInterval, cfg.Agents.CardTTL, log.Logger)
	scriptRemote := client.NewA2AClient(cfg.Agents.Script, cfg.Agents.PollInterval, cfg.Agents.CardTTL, log.Logger)
	mediaRemote := client.NewA2AClient(cfg.Agents.Media, cfg.Agents.PollInterval, cfg.Agents.CardTTL, log.Logger)
	defer songRemote.Close()
	defer scriptRemote.Close()
	defer mediaRemote.Close()

	llm := client.NewLLMClient(cfg.LLM)
	defer llm.Close()

	var objects client.ObjectStore
	if client.R2Configured(cfg.R2) {
		r2, err := client.NewR2Client(ctx, cfg.R2)
		if err != nil {
			log.Warn("R2 client not initialized, final videos stay on the compiler", zap.Error(err))
		} else {
			objects = r2
		}
	} else {
		log.Info("R2 storage not configured, final videos stay on the compiler")
	}

	scripts := client.NewScriptAgent(scriptRemote, log.Logger)
	media := client.NewMediaAgent(mediaRemote, log.Logger)
	compiler := client.NewCompilerClient(cfg.Compiler, log.Logger)

	engine := orchestrator.NewEngine(orchestrator.Config{
		ImageConcurrency: cfg.Engine.ImageConcurrency,
		ClipConcurrency:  cfg.Engine.ClipConcurrency,
		UnknownAction:    orchestrator.ActionPolicy(cfg.Engine.UnknownAction),
		VideoStyle:       cfg.Engine.VideoStyle,
	}, orchestrator.Collaborators{
		Cards: client.NewAgentDirectory(map[model.AgentKind]*client.A2AClient{
			model.AgentSong:   songRemote,
			model.AgentScript: scriptRemote,
			model.AgentMedia:  mediaRemote,
		}, log.Logger),
		Songs:       client.NewSongAgent(songRemote, log.Logger),
		Scripts:     scripts,
		Entities:    scripts,
		Images:      media,
		Clips:       media,
		Compiler:    compiler,
		Uploader:    client.NewVideoUploader(objects, log.Logger),
		Interpreter: feedback.NewInterpreter(llm, log.Logger),
	}, log.Logger, m)

	q := queue.New(queue.Config{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		MaxRetries:    cfg.Queue.MaxRetries,
		RetryDelay:    cfg.Queue.RetryDelay,
	}, orchestrator.NewProcessor(engine, st, log.Logger), st, log.Logger, m)

	tasks := service.NewTaskService(st, q, log.Logger)
	dispatcher := rpc.NewDispatcher(tasks, validator.New(), log.Logger)

	hub := ws.NewHub(dispatcher, tasks, st, log.Logger)
	st.AddStatusListener(hub.Listener())
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	var verifier auth.Verifier
	if cfg.Auth.Enabled && !cfg.Auth.Gateway {
		verifier, err = auth.NewVerifier(ctx, cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize auth: %w", err)
		}
	}

	// Redis backs rate limiting and webhook delivery. Both are skipped
	// without it.
	var redisClient *redis.Client
	var webhookServer *asynq.Server
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis not available", zap.Error(err))
		}

		asynqClient := asynq.NewClient(worker.RedisOpt(cfg.Redis))
		defer asynqClient.Close()
		st.AddStatusListener(notify.NewNotifier(asynqClient, cfg.Webhook, log.Logger).Listener())

		webhooks := worker.NewWebhookWorker(cfg.Webhook.Timeout, m, log.Logger)
		defer webhooks.Close()
		var mux *asynq.ServeMux
		webhookServer, mux = worker.NewServer(cfg, webhooks, log.Logger)
		if err := webhookServer.Start(mux); err != nil {
			return fmt.Errorf("failed to start webhook worker: %w", err)
		}
	} else {
		log.Info("redis disabled, rate limiting and webhooks are off")
	}

	reaper, err := worker.NewReaper(st, cfg.Retention, log.Logger)
	if err != nil {
		return err
	}
	reaper.Start()

	if viper.ConfigFileUsed() != "" {
		config.Watch(func(next *config.Config) {
			q.SetMaxConcurrent(next.Queue.MaxConcurrent)
			if err := log.SetLevel(next.Log.Level); err != nil {
				log.Warn("ignoring log level", zap.Error(err))
			}
			log.Info("config reloaded",
				zap.Int("max_concurrent", next.Queue.MaxConcurrent),
				zap.String("log_level", next.Log.Level),
			)
		}, func(err error) {
			log.Warn("ignoring invalid config reload", zap.Error(err))
		})
	}

	app := server.New(server.Deps{
		Config:     cfg,
		Tasks:      tasks,
		Dispatcher: dispatcher,
		Hub:        hub,
		Metrics:    m,
		Verifier:   verifier,
		Redis:      redisClient,
		Services: map[string]bool{
			"songAgent":   songRemote.IsConfigured(),
			"scriptAgent": scriptRemote.IsConfigured(),
			"mediaAgent":  mediaRemote.IsConfigured(),
			"llm":         llm.IsConfigured(),
			"compiler":    compiler.IsConfigured(),
			"r2":          objects != nil,
			"webhooks":    webhookServer != nil,
			"auth":        cfg.Auth.Enabled,
		},
		Logger:    log.Logger,
		AccessLog: true,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		log.Info("server starting", zap.String("addr", addr), zap.String("version", version))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	if err := q.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("queue shutdown error", zap.Error(err))
	}
	stopHub()
	reaper.Stop(shutdownCtx)
	if webhookServer != nil {
		webhookServer.Shutdown()
	}
	log.Info("server exited")
	return nil
}
