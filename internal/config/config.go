package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the gbif-dl CLI.
type Config struct {
	Root           string             `yaml:"root"`
	Overwrite      bool               `yaml:"overwrite"`
	Strict         bool               `yaml:"strict"`
	Progress       bool               `yaml:"progress"`
	Proxy          string             `yaml:"proxy"`
	TCPConnections int                `yaml:"tcp_connections"`
	Workers        int                `yaml:"workers"`
	BatchSize      int                `yaml:"batch_size"`
	Timeout        time.Duration      `yaml:"timeout"`
	Subsets        map[string]float64 `yaml:"subsets"`
	Retry          RetryConfig        `yaml:"retry"`
	LogLevel       string             `yaml:"log_level"`
	ErrorLog       string             `yaml:"error_log"`
}

// RetryConfig defines retry behavior for individual fetches.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Root:           "media",
		TCPConnections: 64,
		Workers:        64,
		BatchSize:      16,
		Timeout:        60 * time.Second,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Root           string             `yaml:"root"`
	Overwrite      bool               `yaml:"overwrite"`
	Strict         bool               `yaml:"strict"`
	Progress       bool               `yaml:"progress"`
	Proxy          string             `yaml:"proxy"`
	TCPConnections int                `yaml:"tcp_connections"`
	Workers        int                `yaml:"workers"`
	BatchSize      int                `yaml:"batch_size"`
	Timeout        string             `yaml:"timeout"`
	Subsets        map[string]float64 `yaml:"subsets"`
	Retry          yamlRetryConfig    `yaml:"retry"`
	LogLevel       string             `yaml:"log_level"`
	ErrorLog       string             `yaml:"error_log"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Root != "" {
		cfg.Root = yc.Root
	}
	cfg.Overwrite = yc.Overwrite
	cfg.Strict = yc.Strict
	cfg.Progress = yc.Progress
	if yc.Proxy != "" {
		cfg.Proxy = yc.Proxy
	}
	if yc.TCPConnections != 0 {
		cfg.TCPConnections = yc.TCPConnections
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.BatchSize != 0 {
		cfg.BatchSize = yc.BatchSize
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.Subsets != nil {
		cfg.Subsets = yc.Subsets
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.ErrorLog != "" {
		cfg.ErrorLog = yc.ErrorLog
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GBIFDL_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("GBIFDL_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("GBIFDL_OVERWRITE"); v != "" {
		c.Overwrite = v == "true" || v == "1"
	}
	if v := os.Getenv("GBIFDL_STRICT"); v != "" {
		c.Strict = v == "true" || v == "1"
	}
	if v := os.Getenv("GBIFDL_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("GBIFDL_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("GBIFDL_TCP_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_TCP_CONNECTIONS: %w", err)
		}
		c.TCPConnections = n
	}
	if v := os.Getenv("GBIFDL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("GBIFDL_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_BATCH_SIZE: %w", err)
		}
		c.BatchSize = n
	}
	if v := os.Getenv("GBIFDL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("GBIFDL_SUBSETS"); v != "" {
		subsets, err := ParseSubsets(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_SUBSETS: %w", err)
		}
		c.Subsets = subsets
	}
	if v := os.Getenv("GBIFDL_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("GBIFDL_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("GBIFDL_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse GBIFDL_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("GBIFDL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GBIFDL_ERROR_LOG"); v != "" {
		c.ErrorLog = v
	}

	return nil
}

// ParseSubsets parses a "name=weight,name=weight" specification, e.g.
// "train=0.9,test=0.1".
func ParseSubsets(s string) (map[string]float64, error) {
	subsets := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("invalid subset %q, want name=weight", part)
		}
		w, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid subset weight %q: %w", value, err)
		}
		subsets[name] = w
	}
	return subsets, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("config: root is required")
	}
	if c.TCPConnections <= 0 {
		return errors.New("config: tcp_connections must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("config: batch_size must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Subsets != nil {
		var sum float64
		for _, w := range c.Subsets {
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return errors.New("config: subset weights must sum to 1.0")
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Root != "" {
		c.Root = override.Root
	}
	if override.Overwrite {
		c.Overwrite = override.Overwrite
	}
	if override.Strict {
		c.Strict = override.Strict
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Proxy != "" {
		c.Proxy = override.Proxy
	}
	if override.TCPConnections != 0 {
		c.TCPConnections = override.TCPConnections
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.BatchSize != 0 {
		c.BatchSize = override.BatchSize
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.Subsets != nil {
		c.Subsets = override.Subsets
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.ErrorLog != "" {
		c.ErrorLog = override.ErrorLog
	}
	return c
}
