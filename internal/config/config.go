package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
	Engine    EngineConfig
	Agents    AgentsConfig
	LLM       LLMConfig
	Compiler  CompilerConfig
	R2        R2Config
	Webhook   WebhookConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	PublicURL       string
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level      string
	Format     string // "console" or "json"
	File       string // empty logs to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string // JWKS issuer; empty uses only JWTSecret
	ClientID  string
	Gateway   bool // trust X-User-* headers from a forward-auth proxy
}

type RateLimitConfig struct {
	Enabled     bool
	SendsPerMin int
}

type QueueConfig struct {
	MaxConcurrent int
	MaxRetries    int
	RetryDelay    time.Duration
}

type EngineConfig struct {
	ImageConcurrency int
	ClipConcurrency  int
	UnknownAction    string // "accept" or "fail"
	VideoStyle       string
}

type AgentsConfig struct {
	Song         AgentConfig
	Script       AgentConfig
	Media        AgentConfig
	CardTTL      time.Duration
	PollInterval time.Duration
}

// AgentConfig points at a remote A2A agent. An empty URL uses the built-in
// mock.
type AgentConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func (a AgentConfig) IsConfigured() bool {
	return a.URL != ""
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type CompilerConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type WebhookConfig struct {
	Concurrency int
	MaxRetry    int
	Timeout     time.Duration
}

type RetentionConfig struct {
	MaxAge   time.Duration
	Schedule string // cron spec
}

var secrets = []string{
	"REDIS_PASSWORD",
	"JWT_SECRET",
	"LLM_API_KEY",
	"SONG_AGENT_API_KEY",
	"SCRIPT_AGENT_API_KEY",
	"MEDIA_AGENT_API_KEY",
	"R2_ACCOUNT_ID",
	"R2_ACCESS_KEY_ID",
	"R2_SECRET_ACCESS_KEY",
}

var envBindings = map[string]string{
	"server.port":             "SERVER_PORT",
	"server.env":              "SERVER_ENV",
	"server.public_url":       "PUBLIC_URL",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"log.file":                "LOG_FILE",
	"redis.enabled":           "REDIS_ENABLED",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"auth.enabled":            "AUTH_ENABLED",
	"auth.jwt_secret":         "JWT_SECRET",
	"auth.issuer":             "AUTH_ISSUER",
	"auth.client_id":          "AUTH_CLIENT_ID",
	"auth.gateway":            "GATEWAY_ENABLED",
	"ratelimit.enabled":       "RATELIMIT_ENABLED",
	"ratelimit.sends_per_min": "RATELIMIT_SENDS_PER_MIN",
	"queue.max_concurrent":    "QUEUE_MAX_CONCURRENT",
	"queue.max_retries":       "QUEUE_MAX_RETRIES",
	"queue.retry_delay":       "QUEUE_RETRY_DELAY",
	"engine.unknown_action":   "ENGINE_UNKNOWN_ACTION",
	"engine.video_style":      "ENGINE_VIDEO_STYLE",
	"agents.song.url":         "SONG_AGENT_URL",
	"agents.song.api_key":     "SONG_AGENT_API_KEY",
	"agents.script.url":       "SCRIPT_AGENT_URL",
	"agents.script.api_key":   "SCRIPT_AGENT_API_KEY",
	"agents.media.url":        "MEDIA_AGENT_URL",
	"agents.media.api_key":    "MEDIA_AGENT_API_KEY",
	"llm.api_key":             "LLM_API_KEY",
	"llm.base_url":            "LLM_BASE_URL",
	"llm.model":               "LLM_MODEL",
	"compiler.service_url":    "COMPILER_SERVICE_URL",
	"compiler.timeout":        "COMPILER_TIMEOUT",
	"r2.account_id":           "R2_ACCOUNT_ID",
	"r2.access_key_id":        "R2_ACCESS_KEY_ID",
	"r2.secret_access_key":    "R2_SECRET_ACCESS_KEY",
	"r2.bucket_name":          "R2_BUCKET_NAME",
	"r2.public_url":           "R2_PUBLIC_URL",
	"retention.max_age":       "RETENTION_MAX_AGE",
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.public_url", "http://localhost:8000")
	viper.SetDefault("server.shutdown_timeout", "15s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age_days", 30)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.gateway", false)

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.sends_per_min", 30)

	viper.SetDefault("queue.max_concurrent", 3)
	viper.SetDefault("queue.max_retries", 2)
	viper.SetDefault("queue.retry_delay", "2s")

	viper.SetDefault("engine.image_concurrency", 4)
	viper.SetDefault("engine.clip_concurrency", 2)
	viper.SetDefault("engine.unknown_action", "accept")
	viper.SetDefault("engine.video_style", "cinematic")

	viper.SetDefault("agents.card_ttl", "10m")
	viper.SetDefault("agents.poll_interval", "3s")
	viper.SetDefault("agents.song.timeout", "5m")
	viper.SetDefault("agents.script.timeout", "2m")
	viper.SetDefault("agents.media.timeout", "10m")

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")

	viper.SetDefault("compiler.timeout", "10m")

	viper.SetDefault("webhook.concurrency", 5)
	viper.SetDefault("webhook.max_retry", 5)
	viper.SetDefault("webhook.timeout", "10s")

	viper.SetDefault("retention.max_age", "24h")
	viper.SetDefault("retention.schedule", "@every 10m")
}

// Load reads config.yaml (from path, or . and ./config) plus environment
// variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	for _, key := range secrets {
		readSecret(key)
	}

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	for key, env := range envBindings {
		_ = viper.BindEnv(key, env)
	}
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := build()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch calls fn with the reloaded config whenever the config file changes.
// Invalid reloads are reported through onError and otherwise ignored.
func Watch(fn func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := build()
		if err := cfg.Validate(); err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(cfg)
	})
	viper.WatchConfig()
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("config: queue.max_concurrent must be at least 1, got %d", c.Queue.MaxConcurrent)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("config: queue.max_retries must not be negative, got %d", c.Queue.MaxRetries)
	}
	switch c.Engine.UnknownAction {
	case "accept", "fail":
	default:
		return fmt.Errorf("config: engine.unknown_action must be accept or fail, got %q", c.Engine.UnknownAction)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Auth.Enabled && !c.Auth.Gateway && c.Auth.JWTSecret == "" && c.Auth.Issuer == "" {
		return fmt.Errorf("config: auth is enabled but neither auth.jwt_secret nor auth.issuer is set")
	}
	return nil
}

func build() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			Env:             viper.GetString("server.env"),
			PublicURL:       viper.GetString("server.public_url"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:      viper.GetString("log.level"),
			Format:     viper.GetString("log.format"),
			File:       viper.GetString("log.file"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Enabled:   viper.GetBool("auth.enabled"),
			JWTSecret: viper.GetString("auth.jwt_secret"),
			Issuer:    viper.GetString("auth.issuer"),
			ClientID:  viper.GetString("auth.client_id"),
			Gateway:   viper.GetBool("auth.gateway"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     viper.GetBool("ratelimit.enabled"),
			SendsPerMin: viper.GetInt("ratelimit.sends_per_min"),
		},
		Queue: QueueConfig{
			MaxConcurrent: viper.GetInt("queue.max_concurrent"),
			MaxRetries:    viper.GetInt("queue.max_retries"),
			RetryDelay:    viper.GetDuration("queue.retry_delay"),
		},
		Engine: EngineConfig{
			ImageConcurrency: viper.GetInt("engine.image_concurrency"),
			ClipConcurrency:  viper.GetInt("engine.clip_concurrency"),
			UnknownAction:    viper.GetString("engine.unknown_action"),
			VideoStyle:       viper.GetString("engine.video_style"),
		},
		Agents: AgentsConfig{
			Song:         agent("song"),
			Script:       agent("script"),
			Media:        agent("media"),
			CardTTL:      viper.GetDuration("agents.card_ttl"),
			PollInterval: viper.GetDuration("agents.poll_interval"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		Compiler: CompilerConfig{
			ServiceURL: viper.GetString("compiler.service_url"),
			Timeout:    viper.GetDuration("compiler.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Webhook: WebhookConfig{
			Concurrency: viper.GetInt("webhook.concurrency"),
			MaxRetry:    viper.GetInt("webhook.max_retry"),
			Timeout:     viper.GetDuration("webhook.timeout"),
		},
		Retention: RetentionConfig{
			MaxAge:   viper.GetDuration("retention.max_age"),
			Schedule: viper.GetString("retention.schedule"),
		},
	}
}

func agent(name string) AgentConfig {
	prefix := "agents." + name + "."
	return AgentConfig{
		URL:     viper.GetString(prefix + "url"),
		APIKey:  viper.GetString(prefix + "api_key"),
		Timeout: viper.GetDuration(prefix + "timeout"),
	}
}
