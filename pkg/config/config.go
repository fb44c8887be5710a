package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for an apiflow client
type Config struct {
	// Service endpoint and transport settings
	Client ClientConfig `yaml:"client" json:"client"`

	// Retry policy settings
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Client-side request throttling
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Signing credentials
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`

	// Waiter model location
	Waiters WaitersConfig `yaml:"waiters" json:"waiters"`

	// Metrics and tracing
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ClientConfig holds endpoint and transport configuration
type ClientConfig struct {
	Service       string        `yaml:"service" json:"service"`
	Region        string        `yaml:"region" json:"region"`
	EndpointURL   string        `yaml:"endpoint_url" json:"endpoint_url"`
	EndpointsFile string        `yaml:"endpoints_file" json:"endpoints_file"`
	Protocol      string        `yaml:"protocol" json:"protocol"`
	Insecure      bool          `yaml:"insecure" json:"insecure"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	// VerifySSL is nil when unset so that the CA bundle environment
	// variable can apply.
	VerifySSL *bool  `yaml:"verify_ssl,omitempty" json:"verify_ssl,omitempty"`
	CABundle  string `yaml:"ca_bundle" json:"ca_bundle"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// TargetPrefix forms the X-Amz-Target header of json protocol calls,
	// e.g. "DynamoDB_20120810".
	TargetPrefix string `yaml:"target_prefix" json:"target_prefix"`
	// APIVersion is sent as Version by query and ec2 protocol calls.
	APIVersion string `yaml:"api_version" json:"api_version"`
}

// RetryConfig holds retry policy configuration
type RetryConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts          int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay            time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier           float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor         float64       `yaml:"jitter_factor" json:"jitter_factor"`
	RetryableStatusCodes []int         `yaml:"retryable_status_codes" json:"retryable_status_codes"`
	ThrottleErrorCodes   []string      `yaml:"throttle_error_codes" json:"throttle_error_codes"`
	// AttemptCeiling is a hard limit enforced by the pipeline regardless of
	// policy decisions. 0 disables it.
	AttemptCeiling int `yaml:"attempt_ceiling" json:"attempt_ceiling"`
}

// RateLimitConfig holds client-side throttling configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// CredentialsConfig holds signing credentials configuration
type CredentialsConfig struct {
	Profile         string `yaml:"profile" json:"profile"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	SessionToken    string `yaml:"session_token" json:"session_token"`
	Anonymous       bool   `yaml:"anonymous" json:"anonymous"`
}

// WaitersConfig holds the waiter model location
type WaitersConfig struct {
	ModelPath string `yaml:"model_path" json:"model_path"`
}

// TelemetryConfig toggles metrics and tracing
type TelemetryConfig struct {
	Metrics bool `yaml:"metrics" json:"metrics"`
	Tracing bool `yaml:"tracing" json:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Region:   "us-east-1",
			Protocol: "json",
			Timeout:  60 * time.Second,
		},
		Retry: RetryConfig{
			Enabled:              true,
			MaxAttempts:          5,
			BaseDelay:            100 * time.Millisecond,
			MaxDelay:             20 * time.Second,
			Multiplier:           2.0,
			JitterFactor:         0.1,
			RetryableStatusCodes: []int{429, 500, 502, 503, 504},
			ThrottleErrorCodes: []string{
				"Throttling",
				"ThrottlingException",
				"ThrottledException",
				"RequestThrottledException",
				"TooManyRequestsException",
				"ProvisionedThroughputExceededException",
				"RequestLimitExceeded",
				"SlowDown",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
			Tracing: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if region := os.Getenv("APIFLOW_REGION"); region != "" {
		c.Client.Region = region
	}
	if endpointURL := os.Getenv("APIFLOW_ENDPOINT_URL"); endpointURL != "" {
		c.Client.EndpointURL = endpointURL
	}
	if bundle := os.Getenv("APIFLOW_CA_BUNDLE"); bundle != "" && c.Client.CABundle == "" {
		c.Client.CABundle = bundle
	}
	if timeout := os.Getenv("APIFLOW_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("APIFLOW_TIMEOUT: %w", err))
		} else {
			c.Client.Timeout = d
		}
	}

	// Retries
	if attempts := os.Getenv("APIFLOW_MAX_ATTEMPTS"); attempts != "" {
		val, err := strconv.Atoi(attempts)
		if err != nil {
			errs = append(errs, fmt.Errorf("APIFLOW_MAX_ATTEMPTS: %w", err))
		} else if val > 0 {
			c.Retry.MaxAttempts = val
		}
	}

	// Credentials
	if profile := os.Getenv("APIFLOW_PROFILE"); profile != "" {
		c.Credentials.Profile = profile
	}
	if keyID := os.Getenv("APIFLOW_ACCESS_KEY_ID"); keyID != "" {
		c.Credentials.AccessKeyID = keyID
	}
	if secret := os.Getenv("APIFLOW_SECRET_ACCESS_KEY"); secret != "" {
		c.Credentials.SecretAccessKey = secret
	}
	if token := os.Getenv("APIFLOW_SESSION_TOKEN"); token != "" {
		c.Credentials.SessionToken = token
	}

	if modelPath := os.Getenv("APIFLOW_WAITERS_FILE"); modelPath != "" {
		c.Waiters.ModelPath = modelPath
	}

	// Logging level
	if logLevel := os.Getenv("APIFLOW_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".apiflow.yaml",
		".apiflow.yml",
		filepath.Join(home, ".config", "apiflow", "config.yaml"),
		filepath.Join(home, ".config", "apiflow", "config.yml"),
		filepath.Join(home, ".apiflow.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Client.Region == "" && c.Client.EndpointURL == "" {
		errs = append(errs, errors.New("either a region or an endpoint URL is required"))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client timeout must be positive"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}
	if c.Retry.AttemptCeiling < 0 {
		errs = append(errs, errors.New("attempt ceiling cannot be negative"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("requests per second must be positive"))
		}
		if c.RateLimit.Burst <= 0 {
			errs = append(errs, errors.New("burst size must be positive"))
		}
	}

	if (c.Credentials.AccessKeyID == "") != (c.Credentials.SecretAccessKey == "") {
		errs = append(errs, errors.New("access key ID and secret access key must be set together"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if region, ok := flags["region"].(string); ok && region != "" {
		c.Client.Region = region
	}
	if endpointURL, ok := flags["endpoint-url"].(string); ok && endpointURL != "" {
		c.Client.EndpointURL = endpointURL
	}
	if service, ok := flags["service"].(string); ok && service != "" {
		c.Client.Service = service
	}
	if protocol, ok := flags["protocol"].(string); ok && protocol != "" {
		c.Client.Protocol = protocol
	}
	if prefix, ok := flags["target-prefix"].(string); ok && prefix != "" {
		c.Client.TargetPrefix = prefix
	}
	if version, ok := flags["api-version"].(string); ok && version != "" {
		c.Client.APIVersion = version
	}
	if verify, ok := flags["verify-ssl"].(bool); ok {
		c.Client.VerifySSL = &verify
	}
	if attempts, ok := flags["max-attempts"].(int); ok && attempts > 0 {
		c.Retry.MaxAttempts = attempts
	}
	if profile, ok := flags["profile"].(string); ok && profile != "" {
		c.Credentials.Profile = profile
	}
	if waiters, ok := flags["waiters"].(string); ok && waiters != "" {
		c.Waiters.ModelPath = waiters
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".apiflow.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
