// Package config provides gateway configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Permission modes for GATEWAY_PERMISSIONS_MODE.
const (
	PermissionsStatic = "static"
	PermissionsJWT    = "jwt"
	PermissionsDB     = "db"
	PermissionsOpen   = "open"
)

// Config holds app-gateway configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"app-gateway"`

	// Subject overrides (empty = commsutil defaults)
	RequestSubject string `envconfig:"GATEWAY_SUBJECT"`
	EmitSubject    string `envconfig:"GATEWAY_EMIT_SUBJECT"`

	// Resolution files, base first; later files override earlier ones per method.
	ResolutionFiles []string `envconfig:"GATEWAY_RESOLUTION_FILES" default:"config/resolutions.json"`
	ServiceCatalog  string   `envconfig:"GATEWAY_SERVICE_CATALOG" default:"config/services.yaml"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"25s"`

	// Registration scheduler
	Workers     int           `envconfig:"GATEWAY_WORKERS" default:"4"`
	QueueSize   int           `envconfig:"GATEWAY_QUEUE_SIZE" default:"1024"`
	TaskTimeout time.Duration `envconfig:"GATEWAY_TASK_TIMEOUT" default:"5s"`

	// Permissions
	PermissionsMode string `envconfig:"GATEWAY_PERMISSIONS_MODE" default:"static"`
	Permissions     string `envconfig:"GATEWAY_PERMISSIONS"`
	JWTSecret       string `envconfig:"GATEWAY_JWT_SECRET"`

	// Database (permission grants)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Per-app rate limit; 0 disables
	RateLimitRPS   float64 `envconfig:"GATEWAY_RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"GATEWAY_RATE_LIMIT_BURST" default:"20"`

	// HTTP health/admin endpoint (GATEWAY_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"GATEWAY_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	c.PermissionsMode = strings.ToLower(strings.TrimSpace(c.PermissionsMode))
	return &c, nil
}

// ValidateForServe checks required config when running the gateway server.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - GATEWAY_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return fmt.Errorf("%s - GATEWAY_WORKERS and GATEWAY_QUEUE_SIZE must be positive", logPrefix)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("%s - GATEWAY_RATE_LIMIT_RPS must not be negative", logPrefix)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("%s - GATEWAY_RATE_LIMIT_BURST must be positive when rate limiting", logPrefix)
	}

	switch c.PermissionsMode {
	case PermissionsStatic, PermissionsOpen:
	case PermissionsJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("%s - GATEWAY_JWT_SECRET is required for permissions mode jwt", logPrefix)
		}
	case PermissionsDB:
		return c.ValidateForDB()
	default:
		return fmt.Errorf("%s - unknown GATEWAY_PERMISSIONS_MODE %q", logPrefix, c.PermissionsMode)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, grants).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
