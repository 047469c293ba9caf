// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Persistence
	FeedbackFile string `env:"FEEDBACK_FILE" envDefault:"data/feedback.json"`
	CursorFile   string `env:"WS_CURSOR_FILE" envDefault:"data/ws_cursors.json"`

	// AI provider (OpenAI-compatible chat completions)
	AIAPIKey    string `env:"AI_API_KEY"`
	AIBaseURL   string `env:"AI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AIModel     string `env:"AI_MODEL" envDefault:"meta-llama/llama-3.1-8b-instruct"`
	AIMaxTokens int    `env:"AI_MAX_TOKENS" envDefault:"1024"`
	// AI Backoff Configuration
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"90s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"2s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"20s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	// Bulk enrichment engine
	BulkRateLimitRPM   float64 `env:"BULK_RATE_LIMIT_RPM" envDefault:"30"`
	BulkBatchSize      int     `env:"BULK_BATCH_SIZE" envDefault:"10"`
	BulkMaxConcurrency int     `env:"BULK_MAX_CONCURRENCY" envDefault:"4"`

	// Upstream event ingestion
	StubWSURL            string        `env:"STUB_WS_URL" envDefault:"ws://localhost:8765"`
	WSReconnectBaseDelay time.Duration `env:"WS_RECONNECT_BASE_DELAY" envDefault:"1s"`
	WSReconnectMaxDelay  time.Duration `env:"WS_RECONNECT_MAX_DELAY" envDefault:"30s"`
	WSInboundQueueSize   int           `env:"WS_INBOUND_QUEUE_SIZE" envDefault:"256"`
	WSWorkerCount        int           `env:"WS_WORKER_COUNT" envDefault:"2"`

	// HTTP surface
	MaxUploadMB           int64         `env:"MAX_UPLOAD_MB" envDefault:"10"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"feedback-analyzer"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAIBackoffConfig returns backoff configuration appropriate for the current
// environment. Test environments use much shorter intervals.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 50 * time.Millisecond, 500 * time.Millisecond, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}
