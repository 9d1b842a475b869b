package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the gateway's configuration values.
// Tags like `envconfig:"APP_ENV"` specify the environment variable name.
// `default:""` provides a default value if the env var is not set.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"` // e.g., development, staging, production
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Upstream   UpstreamConfig
	Push       PushConfig
	Pos        PosConfig
	Postgres   PostgresConfig
	Log        LogConfig
	Tracing    TracingConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// UpstreamConfig describes the Kings Collections REST backend.
type UpstreamConfig struct {
	BaseURL        string        `envconfig:"KINGS_API_BASE_URL" default:"http://localhost:3005"`
	AuthMode       string        `envconfig:"KINGS_AUTH_MODE" default:"cookie"` // cookie or bearer
	Token          string        `envconfig:"KINGS_API_TOKEN"`                  // bearer mode: service token
	Email          string        `envconfig:"KINGS_API_EMAIL"`                  // optional sign-in at startup
	Password       string        `envconfig:"KINGS_API_PASSWORD"`
	RequestTimeout time.Duration `envconfig:"KINGS_API_TIMEOUT" default:"30s"`

	RetryMaxAttempts  int           `envconfig:"KINGS_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialDelay time.Duration `envconfig:"KINGS_RETRY_INITIAL_DELAY" default:"1s"`
	RetryPolicyFile   string        `envconfig:"RETRY_POLICY_FILE"`

	BreakerThreshold int           `envconfig:"KINGS_BREAKER_THRESHOLD" default:"0"` // 0 disables the breaker
	BreakerCooldown  time.Duration `envconfig:"KINGS_BREAKER_COOLDOWN" default:"30s"`
}

// PushConfig selects the source of productUpdated/categoryUpdated events.
type PushConfig struct {
	Source       string `envconfig:"PUSH_SOURCE" default:"none"` // none, redis, websocket
	RedisAddr    string `envconfig:"PUSH_REDIS_ADDR" default:"localhost:6379"`
	RedisChannel string `envconfig:"PUSH_REDIS_CHANNEL" default:"kings:catalog"`
	WebSocketURL string `envconfig:"PUSH_WEBSOCKET_URL" default:"ws://localhost:3005/events"`
}

// PosConfig holds point-of-sale arithmetic parameters.
type PosConfig struct {
	TaxRate     string `envconfig:"POS_TAX_RATE" default:"0.085"`
	ShippingFee string `envconfig:"CART_SHIPPING_FEE" default:"10000"`
	Currency    string `envconfig:"POS_CURRENCY" default:"UGX"`
}

// PostgresConfig holds PostgreSQL connection details for the mirror store.
// An empty host runs the gateway without persistence.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	DBName   string `envconfig:"POSTGRES_DBNAME"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

// LogConfig controls the logrus setup.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`  // trace, debug, info, warn, error
	Format     string `envconfig:"LOG_FORMAT" default:"text"` // text or json
	File       string `envconfig:"LOG_FILE"`                  // empty logs to stdout only
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"7"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE" default:"7"`
	Compress   bool   `envconfig:"LOG_COMPRESS" default:"true"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter     string `envconfig:"OTEL_EXPORTER" default:"none"` // none, stdout, otlp
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"kings-storefront"`
}

// Enabled reports whether a mirror database is configured.
func (pc *PostgresConfig) Enabled() bool {
	return pc.Host != ""
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// Load initializes the configuration from environment variables.
// It should be called once during application startup, after any .env file
// has been loaded.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Upstream.AuthMode) {
	case "cookie", "bearer":
	default:
		return fmt.Errorf("invalid KINGS_AUTH_MODE %q: must be cookie or bearer", c.Upstream.AuthMode)
	}
	switch strings.ToLower(c.Push.Source) {
	case "none", "redis", "websocket":
	default:
		return fmt.Errorf("invalid PUSH_SOURCE %q: must be none, redis or websocket", c.Push.Source)
	}
	if c.Upstream.RetryMaxAttempts < 1 {
		return fmt.Errorf("KINGS_RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Upstream.RetryMaxAttempts)
	}
	if c.Postgres.Enabled() && (c.Postgres.User == "" || c.Postgres.DBName == "") {
		return fmt.Errorf("POSTGRES_USER and POSTGRES_DBNAME are required when POSTGRES_HOST is set")
	}
	return nil
}
