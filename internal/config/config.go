// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or CONFIG_FILE)
//  3. Default values
//
// Security: sensitive values (API keys, postgres password) are masked in
// MarshalJSON and never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors returned by Validate. Check with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the OpenRouter API key is missing.
	ErrMissingAPIKey = errors.New("missing OpenRouter API key")

	// ErrInvalidRegistryURL indicates the registry URL is malformed.
	ErrInvalidRegistryURL = errors.New("invalid registry URL")

	// ErrInvalidListenAddr indicates the HTTP listen address is malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidDefaultModel indicates the default LLM model is empty.
	ErrInvalidDefaultModel = errors.New("invalid default model")
)

// Environment names accepted in Config.Environment.
const (
	EnvDebug    = "debug"
	EnvDeployed = "deployed"
)

// Defaults applied before any file or environment override.
const (
	DefaultListenAddr        = ":8000"
	DefaultRegistryURL       = "http://registry:80"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel             = "anthropic/claude-3.7-sonnet"
	DefaultAgentName         = "Default"
	DefaultAgentDescription  = "Default agent"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// secrets, update MarshalJSON too.
type Config struct {
	Environment string   `mapstructure:"environment" json:"environment"`
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	LogLevel    string   `mapstructure:"log_level" json:"log_level"`
	LogJSON     bool     `mapstructure:"log_json" json:"log_json"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// LLM provider (OpenRouter-compatible chat completions endpoint).
	OpenRouterAPIKey  string `mapstructure:"openrouter_api_key" json:"openrouter_api_key"`
	OpenRouterBaseURL string `mapstructure:"openrouter_base_url" json:"openrouter_base_url"`
	Proxy             string `mapstructure:"proxy" json:"proxy"`
	DefaultModel      string `mapstructure:"default_model" json:"default_model"`

	// DARP registry.
	RegistryURL string `mapstructure:"registry_url" json:"registry_url"`

	// Defaults applied when provisioning a new user's agent.
	DefaultAgentName        string `mapstructure:"default_agent_name" json:"default_agent_name"`
	DefaultAgentDescription string `mapstructure:"default_agent_description" json:"default_agent_description"`
	DefaultAvatarURL        string `mapstructure:"default_avatar_url" json:"default_avatar_url"`
	DefaultAgentServerIDs   []int  `mapstructure:"default_agent_server_ids" json:"default_agent_server_ids"`

	// PostgreSQL connection (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db" json:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`
	PoolMaxConns     int    `mapstructure:"pool_max_conns" json:"pool_max_conns"`

	// Tracing (see internal/observability). Empty endpoint disables export.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load reads configuration from file (optional) and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", EnvDeployed)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	// The portal is served from arbitrary origins; narrow in deployment.
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("openrouter_base_url", DefaultOpenRouterBaseURL)
	v.SetDefault("default_model", DefaultModel)
	v.SetDefault("registry_url", DefaultRegistryURL)
	v.SetDefault("default_agent_name", DefaultAgentName)
	v.SetDefault("default_agent_description", DefaultAgentDescription)
	v.SetDefault("postgres_host", "portal_postgres")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_db", "portal_backend")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("pool_max_conns", 50)
	v.SetDefault("service_name", "portal-backend")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is fine; env and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* values.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if !strings.HasPrefix(c.RegistryURL, "http://") && !strings.HasPrefix(c.RegistryURL, "https://") {
		return fmt.Errorf("%w: %q", ErrInvalidRegistryURL, c.RegistryURL)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrInvalidListenAddr
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return ErrInvalidPostgresDBName
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return ErrInvalidDefaultModel
	}
	return nil
}

// MarshalJSON masks secrets so the config can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(*c)
	if masked.OpenRouterAPIKey != "" {
		masked.OpenRouterAPIKey = "***"
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	return json.Marshal(masked)
}
