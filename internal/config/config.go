package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// Config holds all client configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Backend Configuration:
// - LINGODOC_API_URL: translation backend base URL (default: https://api.lingodoc.io)
// - LINGODOC_TIMEOUT: request timeout in seconds (default: 15)
// - LINGODOC_UPLOAD_TIMEOUT: upload timeout in seconds (default: 120)
// - LINGODOC_RESULT_TIMEOUT: result download timeout in seconds (default: 60)
//
// Auth Configuration:
// - LINGODOC_TOKEN_URL: token issue endpoint (default: <api url>/api/auth/token)
// - LINGODOC_CREDENTIAL: long-lived credential exchanged for short-lived tokens
// - LINGODOC_PROACTIVE_REFRESH: refresh tokens ahead of expiry (default: false)
//
// Translate Configuration:
// - LINGODOC_TARGET_LANG: default target language when a command omits one
//
// System Configuration:
// - DATA_DIR: local state directory (default: ~/.lingodoc)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - MAINTENANCE_CRON: local maintenance schedule (default: @every 5m)
// - SNAPSHOT_TTL_HOURS: job snapshot retention in hours (default: 24)

type Config struct {
	// Backend Configuration
	API APIConfig `json:"api"`

	// Auth Configuration
	Auth AuthConfig `json:"auth"`

	// Translate Configuration
	Translate TranslateConfig `json:"translate"`

	// System Configuration
	System SystemConfig `json:"system"`
}

// APIConfig holds the configuration for the translation backend.
type APIConfig struct {
	BaseURL       string `json:"base_url"`
	Timeout       int    `json:"timeout"`
	UploadTimeout int    `json:"upload_timeout"`
	ResultTimeout int    `json:"result_timeout"`
}

// AuthConfig holds the configuration for token issuance.
type AuthConfig struct {
	TokenURL         string `json:"token_url"`
	Credential       string `json:"-"`
	ProactiveRefresh bool   `json:"proactive_refresh"`
}

type TranslateConfig struct {
	TargetLanguage string `json:"target_language"`
}

// SystemConfig holds the system configuration.
type SystemConfig struct {
	DataDir          string `json:"data_dir"`
	LogLevel         string `json:"log_level"`
	MaintenanceCron  string `json:"maintenance_cron"`
	SnapshotTTLHours int    `json:"snapshot_ttl_hours"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		API: APIConfig{
			BaseURL:       getEnvString("LINGODOC_API_URL", "https://api.lingodoc.io"),
			Timeout:       getEnvInt("LINGODOC_TIMEOUT", 15),
			UploadTimeout: getEnvInt("LINGODOC_UPLOAD_TIMEOUT", 120),
			ResultTimeout: getEnvInt("LINGODOC_RESULT_TIMEOUT", 60),
		},
		Auth: AuthConfig{
			TokenURL:         getEnvString("LINGODOC_TOKEN_URL", ""),
			Credential:       getEnvString("LINGODOC_CREDENTIAL", ""),
			ProactiveRefresh: getEnvBool("LINGODOC_PROACTIVE_REFRESH", false),
		},
		Translate: TranslateConfig{
			TargetLanguage: getEnvString("LINGODOC_TARGET_LANG", ""),
		},
		System: SystemConfig{
			DataDir:          getEnvString("DATA_DIR", defaultDataDir()),
			LogLevel:         getEnvString("LOG_LEVEL", "info"),
			MaintenanceCron:  getEnvString("MAINTENANCE_CRON", "@every 5m"),
			SnapshotTTLHours: getEnvInt("SNAPSHOT_TTL_HOURS", 24),
		},
	}
	if config.Auth.TokenURL == "" {
		config.Auth.TokenURL = config.API.BaseURL + "/api/auth/token"
	}

	log.Debug("config loaded: api=%s data_dir=%s log_level=%s", config.API.BaseURL, config.System.DataDir, config.System.LogLevel)

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("LINGODOC_API_URL is required")
	}
	if c.System.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

// DBPath returns the location of the local state database.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "lingodoc.db")
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".lingodoc")
	}
	return ".lingodoc"
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
