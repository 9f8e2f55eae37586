// Package config loads service configuration.
//
// Values are resolved in order: defaults, then an optional YAML file, then
// TAILOR_* environment variables. A .env file in the working directory is
// loaded into the environment first.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Session   SessionConfig   `yaml:"session" env:"SESSION"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	RateLimit       float64       `yaml:"rate_limit" env:"RATE_LIMIT" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" env:"RATE_BURST" validate:"gte=0"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES" validate:"gt=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LLMConfig selects and tunes the chat provider behind the oracle.
type LLMConfig struct {
	// Provider is one of anthropic, openai or google.
	Provider    string        `yaml:"provider" env:"PROVIDER" validate:"oneof=anthropic openai google"`
	Model       string        `yaml:"model" env:"MODEL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS" validate:"gt=0"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WorkflowConfig tunes the tailoring workflow.
type WorkflowConfig struct {
	ATSThreshold float64       `yaml:"ats_threshold" env:"ATS_THRESHOLD" validate:"gte=0,lte=100"`
	MaxSteps     int           `yaml:"max_steps" env:"MAX_STEPS" validate:"gt=0"`
	StepTimeout  time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	StepAttempts int           `yaml:"step_attempts" env:"STEP_ATTEMPTS" validate:"gte=1"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, mysql, postgres or redis.
	Driver string `yaml:"driver" env:"DRIVER" validate:"oneof=memory sqlite mysql postgres redis"`

	// DSN is the sqlite path or the mysql/postgres connection string.
	DSN string `yaml:"dsn" env:"DSN" validate:"required_if=Driver sqlite,required_if=Driver mysql,required_if=Driver postgres"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" validate:"required_if=Driver redis"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" validate:"gte=0"`
	KeyPrefix     string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SessionConfig controls session lifetime and locking.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL" validate:"gt=0"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE" validate:"required"`

	// DistributedLock guards sessions with a Redis lock as well as the
	// in-process one. Requires RedisAddr.
	DistributedLock bool          `yaml:"distributed_lock" env:"DISTRIBUTED_LOCK"`
	LockTTL         time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" validate:"required_if=Enabled true"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       5,
			RateBurst:       10,
			MaxUploadBytes:  10 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.7,
			MaxTokens:   4000,
			MaxRetries:  3,
			Timeout:     2 * time.Minute,
		},
		Workflow: WorkflowConfig{
			ATSThreshold: 80,
			MaxSteps:     1000,
			StepTimeout:  5 * time.Minute,
			StepAttempts: 2,
		},
		Store: StoreConfig{
			Driver:    "memory",
			KeyPrefix: "tailor:",
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			SweepSchedule: "@every 10m",
			LockTTL:       10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tailorgraph",
			SampleRate:  1,
		},
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Session.DistributedLock && c.Store.RedisAddr == "" {
		return fmt.Errorf("invalid config: session.distributed_lock requires store.redis_addr")
	}
	return nil
}
