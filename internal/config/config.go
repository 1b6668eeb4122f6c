// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Files    FilesConfig
	Logging  LoggingConfig
	Policy   PolicyConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RatePerSecond   int           `env:"RATE_LIMIT_PER_SECOND,default=50"`
	RateBurst       int           `env:"RATE_LIMIT_BURST,default=100"`
	Timezone        string        `env:"TZ,default=UTC"`
}

// DatabaseConfig configures the PostgreSQL connection. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_URL,default="`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=30m"`
	RetryInterval   time.Duration `env:"DB_RETRY_INTERVAL,default=5s"`
}

// AuthConfig selects token verification. When IdentityURL is set, tokens are
// verified by the external identity service; otherwise JWTSecret verifies
// HMAC tokens locally.
type AuthConfig struct {
	IdentityURL     string        `env:"IDENTITY_SERVICE_URL,default="`
	IdentityTimeout time.Duration `env:"IDENTITY_SERVICE_TIMEOUT,default=10s"`
	JWTSecret       string        `env:"JWT_SECRET,default="`
}

// FilesConfig configures attachment storage. BaseURL accepts any viant/afs
// URL: a local directory (file:///data/uploads) or an S3 bucket
// (s3://bucket/uploads).
type FilesConfig struct {
	BaseURL   string `env:"UPLOAD_BASE_URL,default=file:///tmp/approval-flow/uploads"`
	SweepCron string `env:"UNUSED_FILE_SWEEP_CRON,default="`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// PolicyConfig holds business policy toggles.
type PolicyConfig struct {
	// EnforceFlowOrder rejects decisions taken out of flow order.
	EnforceFlowOrder bool `env:"ENFORCE_FLOW_ORDER,default=false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Auth.IdentityURL == "" && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("either IDENTITY_SERVICE_URL or JWT_SECRET must be set")
	}
	if _, err := time.LoadLocation(cfg.Server.Timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Server.Timezone, err)
	}
	return &cfg, nil
}
