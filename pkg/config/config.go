package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL   = "https://api.vercel.com/v8/deployments"
	DefaultOutputDir = "./downloaded-project"
)

// Config represents the application configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Download  DownloadConfig  `mapstructure:"download"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig contains the remote deployment API settings
type APIConfig struct {
	BearerToken       string  `mapstructure:"bearer_token"`
	DeploymentID      string  `mapstructure:"deployment_id"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestTimeoutMs  int     `mapstructure:"request_timeout"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryBackoffMs    int     `mapstructure:"retry_backoff"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// RequestTimeout returns the per-attempt timeout
func (c APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// RetryBackoff returns the backoff unit multiplied by the attempt number
func (c APIConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// DownloadConfig contains download-specific configuration
type DownloadConfig struct {
	OutputDir              string   `mapstructure:"output_dir"`
	MaxConcurrentDownloads int      `mapstructure:"max_concurrent_downloads"`
	ExcludeExtensions      []string `mapstructure:"exclude_extensions"`
	ExcludeDirectories     []string `mapstructure:"exclude_directories"`
}

// ServerConfig contains configuration of the local deployment API server
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	RootDir      string `mapstructure:"root_dir"`
	DeploymentID string `mapstructure:"deployment_id"`
	BearerToken  string `mapstructure:"bearer_token"`
}

// TelemetryConfig contains telemetry configuration
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ConfigValidationError lists every configuration key that is missing or invalid
type ConfigValidationError struct {
	Missing []string
	Invalid map[string]string
}

func (e *ConfigValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		invalid := make([]string, 0, len(keys))
		for _, k := range keys {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", k, e.Invalid[k]))
		}
		parts = append(parts, "invalid configuration: "+strings.Join(invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	setDefaults()

	// Unmarshal configuration
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	postProcess(cfg)

	return cfg, nil
}

func setDefaults() {
	// API defaults
	viper.SetDefault("api.base_url", DefaultBaseURL)
	viper.SetDefault("api.request_timeout", 30000)
	viper.SetDefault("api.max_retries", 3)
	viper.SetDefault("api.retry_backoff", 1000)
	viper.SetDefault("api.requests_per_second", 0)

	// Download defaults
	viper.SetDefault("download.output_dir", DefaultOutputDir)
	viper.SetDefault("download.max_concurrent_downloads", 10)
	viper.SetDefault("download.exclude_extensions", []string{".log", ".tmp"})
	viper.SetDefault("download.exclude_directories", []string{"node_modules", ".git", ".next/cache"})

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.root_dir", ".")
	viper.SetDefault("server.deployment_id", "local")

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	// Environment variable mappings
	_ = viper.BindEnv("api.bearer_token", "BEARER_TOKEN")
	_ = viper.BindEnv("api.deployment_id", "DEPLOYMENT_ID")
	_ = viper.BindEnv("api.base_url", "BASE_URL")
	_ = viper.BindEnv("api.request_timeout", "REQUEST_TIMEOUT")
	_ = viper.BindEnv("api.max_retries", "MAX_RETRIES")
	_ = viper.BindEnv("api.retry_backoff", "RETRY_BACKOFF")
	_ = viper.BindEnv("api.requests_per_second", "REQUESTS_PER_SECOND")
	_ = viper.BindEnv("download.output_dir", "OUTPUT_DIR")
	_ = viper.BindEnv("download.max_concurrent_downloads", "MAX_CONCURRENT_DOWNLOADS")
	_ = viper.BindEnv("download.exclude_extensions", "EXCLUDE_EXTENSIONS")
	_ = viper.BindEnv("download.exclude_directories", "EXCLUDE_DIRECTORIES")
	_ = viper.BindEnv("server.bearer_token", "SERVER_BEARER_TOKEN")
	_ = viper.BindEnv("telemetry.enabled", "TELEMETRY_ENABLED")
	_ = viper.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func postProcess(cfg *Config) {
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	cfg.Download.ExcludeExtensions = trimAll(cfg.Download.ExcludeExtensions)
	cfg.Download.ExcludeDirectories = trimAll(cfg.Download.ExcludeDirectories)
}

// trimAll drops blank entries left behind by comma-separated env values
func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks the settings a download run needs before any I/O happens
func (c *Config) Validate() error {
	required := validation.Errors{
		"BEARER_TOKEN":  validation.Validate(c.API.BearerToken, validation.Required),
		"DEPLOYMENT_ID": validation.Validate(c.API.DeploymentID, validation.Required),
	}.Filter()

	ranges := validation.Errors{
		"BASE_URL":                 validation.Validate(c.API.BaseURL, validation.Required),
		"OUTPUT_DIR":               validation.Validate(c.Download.OutputDir, validation.Required),
		"MAX_CONCURRENT_DOWNLOADS": validation.Validate(c.Download.MaxConcurrentDownloads, validation.Required, validation.Min(1)),
		"REQUEST_TIMEOUT":          validation.Validate(c.API.RequestTimeoutMs, validation.Required, validation.Min(1)),
		"MAX_RETRIES":              validation.Validate(c.API.MaxRetries, validation.Required, validation.Min(1)),
		"RETRY_BACKOFF":            validation.Validate(c.API.RetryBackoffMs, validation.Min(0)),
		"REQUESTS_PER_SECOND":      validation.Validate(c.API.RequestsPerSecond, validation.Min(0.0)),
	}.Filter()

	if required == nil && ranges == nil {
		return nil
	}

	verr := &ConfigValidationError{}
	if errs, ok := required.(validation.Errors); ok {
		for key := range errs {
			verr.Missing = append(verr.Missing, key)
		}
		sort.Strings(verr.Missing)
	}
	if errs, ok := ranges.(validation.Errors); ok {
		verr.Invalid = make(map[string]string, len(errs))
		for key, err := range errs {
			verr.Invalid[key] = err.Error()
		}
	}
	return verr
}
