package config

import (
	"errors"
	"time"
)

// Config represents the full sequenced service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Issuance IssuanceConfig `mapstructure:"issuance"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	NodeID          string        `mapstructure:"node_id"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IssuanceConfig represents the issuance core's tunables (§6).
type IssuanceConfig struct {
	// Role is this node's role: "even" or "odd". Required.
	Role                  string        `mapstructure:"role"`
	DefaultStepSize       int32         `mapstructure:"default_step_size"`
	RefreshThreshold      float64       `mapstructure:"refresh_threshold"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval_ms"`
	FailoverScanInterval  time.Duration `mapstructure:"failover_scan_interval_ms"`
	RefreshTimeout        time.Duration `mapstructure:"refresh_timeout_ms"`
	PrefetchDeadline      time.Duration `mapstructure:"prefetch_deadline_ms"`
	PrefetchConcurrency   int           `mapstructure:"prefetch_concurrency"`
}

// DatabaseConfig represents the PostgreSQL segment/node store configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents the optional second-tier peer-liveness cache
// configuration (SPEC_FULL.md Ambient Stack). The core runs correctly
// without Redis configured; Host empty disables it.
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	TTL          time.Duration `mapstructure:"ttl"`
}

// MetricsConfig represents the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents the structured logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration and fills in any zero-value
// defaults that are safe to infer.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if c.Issuance.Role != "even" && c.Issuance.Role != "odd" {
		return errors.New("issuance.role is required and must be 'even' or 'odd'")
	}
	if c.Issuance.DefaultStepSize <= 0 {
		return errors.New("issuance.default_step_size must be positive")
	}
	if c.Issuance.RefreshThreshold <= 0 || c.Issuance.RefreshThreshold >= 1 {
		return errors.New("issuance.refresh_threshold must be in (0, 1)")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values (§6 Configuration).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			NodeID:          "", // filled in by Load if still unset after file/env overrides
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Issuance: IssuanceConfig{
			Role:                 "even",
			DefaultStepSize:      1000,
			RefreshThreshold:     0.1,
			HeartbeatInterval:    30 * time.Second,
			FailoverScanInterval: 30 * time.Second,
			RefreshTimeout:       10 * time.Second,
			PrefetchDeadline:     5 * time.Second,
			PrefetchConcurrency:  8,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "sequence",
			User:            "sequenced",
			Password:        "",
			MaxConnections:  50,
			MinConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "",
			Port:         6379,
			Password:     "",
			DB:           0,
			MaxRetries:   3,
			PoolSize:     50,
			MinIdleConns: 5,
			TTL:          10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
