// Package config provides router configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds subject-router configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"subject-router"`

	// Routing (empty RoutesFile = config/routes.yaml, then routes.yaml)
	RoutesFile     string        `envconfig:"ROUTES_FILE"`
	RequestTimeout time.Duration `envconfig:"ROUTER_REQUEST_TIMEOUT" default:"30s"`

	// Dispatch events
	EventsEnabled bool   `envconfig:"ROUTER_EVENTS_ENABLED" default:"false"`
	EventSubject  string `envconfig:"ROUTER_EVENT_SUBJECT"`

	// Database (optional for serve; empty disables the dispatch log)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	// MigrationPath overrides the migrations compiled into the binary.
	MigrationPath string `envconfig:"MIGRATION_PATH"`

	// HTTP health and metrics endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	MetricsEnabled     bool          `envconfig:"METRICS_ENABLED" default:"true"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PersistenceEnabled reports whether dispatch outcomes are written to the database.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

// ValidateForServe checks required config when running the router.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%s - ROUTER_REQUEST_TIMEOUT must not be negative", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%s - HTTP_PORT %d is out of range", logPrefix, c.HTTPPort)
	}
	if c.RunMigrations && !c.PersistenceEnabled() {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
