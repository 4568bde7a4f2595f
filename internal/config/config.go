// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GitHubOIDCIssuer is the only identity provider PG Atlas trusts in this
// phase. The JWKS endpoint is derived from it.
const GitHubOIDCIssuer = "https://token.actions.githubusercontent.com"

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	OIDC     OIDCConfig     `mapstructure:"oidc" yaml:"oidc"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// DatabaseConfig holds the Postgres connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// OIDCConfig configures token verification for write endpoints.
type OIDCConfig struct {
	// Audience is the canonical API URL of this instance. It must exactly
	// match the audience the submitting CI action was configured with.
	Audience string `mapstructure:"audience" yaml:"audience"`
	// Issuer is the trusted token issuer. Defaults to GitHub's OIDC
	// provider; overridable for tests.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`
	// JWKSCacheTTL bounds how long the fetched key set is served before a
	// refresh is forced. Key rotation is rare in practice.
	JWKSCacheTTL time.Duration `mapstructure:"jwks_cache_ttl" yaml:"jwks_cache_ttl"`
	// FetchTimeout bounds each JWKS fetch so a slow provider surfaces as a
	// retryable failure, not a hang.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	// FetchRateLimit caps JWKS endpoint fetches per second across the
	// process, with a small burst for rotation windows.
	FetchRateLimit float64 `mapstructure:"fetch_rate_limit" yaml:"fetch_rate_limit"`
}

// JWKSURL returns the key set endpoint published by the configured issuer.
func (o OIDCConfig) JWKSURL() string {
	return strings.TrimSuffix(o.Issuer, "/") + "/.well-known/jwks"
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pg-atlas")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_body_bytes", 16<<20)

	// -- OIDC --
	v.SetDefault("oidc.issuer", GitHubOIDCIssuer)
	v.SetDefault("oidc.jwks_cache_ttl", "3600s")
	v.SetDefault("oidc.fetch_timeout", "10s")
	v.SetDefault("oidc.fetch_rate_limit", 2.0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "PG_ATLAS_DATABASE_URL")
	v.BindEnv("oidc.audience", "PG_ATLAS_API_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.OIDC.Audience == "" {
		return fmt.Errorf("oidc.audience is required; set PG_ATLAS_API_URL to this instance's canonical URL")
	}
	if c.OIDC.Issuer == "" {
		return fmt.Errorf("oidc.issuer must not be empty")
	}
	if c.OIDC.JWKSCacheTTL <= 0 {
		return fmt.Errorf("oidc.jwks_cache_ttl must be a positive duration")
	}
	if c.OIDC.FetchTimeout <= 0 {
		return fmt.Errorf("oidc.fetch_timeout must be a positive duration")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	return nil
}
