// Package server assembles the HTTP application.
package server

import (
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/auth"
	"github.com/makeasinger/videoagent/internal/config"
	"github.com/makeasinger/videoagent/internal/handler"
	"github.com/makeasinger/videoagent/internal/metrics"
	"github.com/makeasinger/videoagent/internal/middleware"
	"github.com/makeasinger/videoagent/internal/rpc"
	"github.com/makeasinger/videoagent/internal/service"
	ws "github.com/makeasinger/videoagent/internal/websocket"
	"github.com/makeasinger/videoagent/pkg/response"
)

// Deps is everything the routes need. Optional parts may be nil.
type Deps struct {
	Config     *config.Config
	Tasks      *service.TaskService
	Dispatcher *rpc.Dispatcher
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	Verifier   auth.Verifier
	Redis      *redis.Client
	Services   map[string]bool
	Logger     *zap.Logger

	// AccessLog enables fiber's request logger
	AccessLog bool
	KeepAlive time.Duration
}

func New(d Deps) *fiber.App {
	cfg := d.Config
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          response.ErrorHandler,
		BodyLimit:             4 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if d.AccessLog {
		logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
		if strings.EqualFold(cfg.Log.Level, "debug") {
			logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		}
		app.Use(fiberlogger.New(fiberlogger.Config{Format: logFormat}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	apiAuth := authMiddleware(cfg.Auth, d.Verifier, d.Logger)
	rateLimiter := middleware.NewRateLimiter(d.Redis, d.Logger.Named("ratelimit"))
	sendLimit := middleware.Passthrough()
	if cfg.RateLimit.Enabled {
		sendLimit = rateLimiter.SendLimit(cfg.RateLimit.SendsPerMin)
	}

	rpcHandler := handler.NewRPCHandler(d.Dispatcher, d.Tasks, d.KeepAlive, d.Logger)
	taskHandler := handler.NewTaskHandler(d.Tasks)
	healthHandler := handler.NewHealthHandler(d.Tasks, d.Services)

	// Public routes
	app.Get("/.well-known/agent.json", handler.AgentCardHandler(handler.AgentCard(cfg.Server.PublicURL)))
	app.Get("/health", healthHandler.Health)
	if d.Metrics != nil {
		app.Get("/metrics", handler.Metrics(d.Metrics))
	}

	// ForwardAuth verification endpoint (internal, called by the gateway)
	if d.Verifier != nil {
		app.Get("/auth/verify", handler.NewAuthHandler(d.Verifier).Verify)
	}

	// JSON-RPC
	app.Post("/", apiAuth, sendLimit, rpcHandler.Handle)
	app.Post("/rpc", apiAuth, sendLimit, rpcHandler.Handle)

	// Polling
	tasks := app.Group("/tasks", apiAuth)
	tasks.Get("/", taskHandler.List)
	tasks.Get("/:taskId", taskHandler.Get)

	// WebSocket
	if d.Hub != nil {
		app.Use("/ws", apiAuth, func(c *fiber.Ctx) error {
			if !websocket.IsWebSocketUpgrade(c) {
				return fiber.ErrUpgradeRequired
			}
			return c.Next()
		})
		app.Get("/ws", websocket.New(func(c *websocket.Conn) {
			d.Hub.HandleConnection(c, c.Query("contextId"), c.Query("inline") == "true")
		}))
	}

	return app
}

func authMiddleware(cfg config.AuthConfig, verifier auth.Verifier, logger *zap.Logger) fiber.Handler {
	switch {
	case !cfg.Enabled:
		return middleware.Passthrough()
	case cfg.Gateway:
		// Behind the gateway: auth is handled by ForwardAuth, read X-User-* headers
		logger.Info("gateway mode enabled, using header-based auth")
		return middleware.GatewayAuthMiddleware()
	default:
		return middleware.NewAuthMiddleware(verifier).Authenticate()
	}
}
