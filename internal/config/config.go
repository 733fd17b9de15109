// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	courierrors "github.com/tombee/courier/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Store types.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config represents the complete courier configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	PubSub        PubSubConfig        `yaml:"pubsub"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Script        ScriptConfig        `yaml:"script"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`

	// IntegrationsFile is an optional YAML file of integration
	// configurations loaded at start and watched for changes.
	// Environment: COURIER_INTEGRATIONS_FILE
	IntegrationsFile string `yaml:"integrations_file,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: COURIER_ADDR
	// Default: :8000
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PublicBaseURL is the externally reachable base URL. Push subscriptions
	// are pointed at PublicBaseURL + pushEndpoint.
	// Environment: COURIER_PUBLIC_BASE_URL
	PublicBaseURL string `yaml:"public_base_url,omitempty"`
}

// StoreConfig configures where configurations and runs are kept.
type StoreConfig struct {
	// Type is one of memory, sqlite, postgres.
	// Environment: COURIER_STORE
	// Default: sqlite
	Type string `yaml:"type"`

	// Path is the SQLite database file.
	// Environment: COURIER_SQLITE_PATH
	Path string `yaml:"path,omitempty"`

	// ConnectionString is the PostgreSQL connection URL.
	// Environment: COURIER_DATABASE_URL
	ConnectionString string `yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// PubSubConfig tunes the pull listeners.
type PubSubConfig struct {
	// BatchSize is the maximum messages per pull.
	// Default: 10
	BatchSize int `yaml:"batch_size"`

	// PullTimeout bounds a single pull request.
	// Default: 10s
	PullTimeout time.Duration `yaml:"pull_timeout"`

	// StopGracePeriod is how long Stop waits for a listener to exit.
	// Default: 5s
	StopGracePeriod time.Duration `yaml:"stop_grace_period"`

	// AckDeadlineSeconds is used when creating subscriptions.
	// Default: 60
	AckDeadlineSeconds int `yaml:"ack_deadline_seconds"`
}

// DispatchConfig configures outbound delivery.
type DispatchConfig struct {
	// Timeout is the HTTP target timeout.
	// Environment: COURIER_DISPATCH_TIMEOUT
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent with every outbound HTTP request.
	UserAgent string `yaml:"user_agent"`
}

// ScriptConfig configures the script sandbox.
type ScriptConfig struct {
	// FailurePolicy decides what a failed condition means: open, closed, error.
	// Environment: COURIER_SCRIPT_FAILURE_POLICY
	// Default: open
	FailurePolicy string `yaml:"failure_policy"`

	// Timeout bounds a single script evaluation.
	// Default: 1s
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled exposes /metrics.
	// Default: true
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`

	// ServiceName identifies this service in traces.
	// Default: courier
	ServiceName string `yaml:"service_name,omitempty"`

	// OTLPEndpoint enables OTLP/HTTP trace export when set.
	// Environment: COURIER_OTLP_ENDPOINT
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SampleRate is the fraction of traces to sample (0.0 - 1.0).
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Metrics reports whether /metrics should be served.
func (o ObservabilityConfig) Metrics() bool {
	return o.MetricsEnabled == nil || *o.MetricsEnabled
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type:         StoreSQLite,
			Path:         filepath.Join(DataDir(), "courier.db"),
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		PubSub: PubSubConfig{
			BatchSize:          10,
			PullTimeout:        10 * time.Second,
			StopGracePeriod:    5 * time.Second,
			AckDeadlineSeconds: 60,
		},
		Dispatch: DispatchConfig{
			Timeout:   30 * time.Second,
			UserAgent: "courier/1.0",
		},
		Script: ScriptConfig{
			FailurePolicy: "open",
			Timeout:       time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName: "courier",
			SampleRate:  1.0,
		},
	}
}

// Load loads configuration from an optional YAML file, then environment
// variables. Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &courierrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &courierrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Store.Type == "" {
		c.Store.Type = d.Store.Type
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.MaxOpenConns == 0 {
		c.Store.MaxOpenConns = d.Store.MaxOpenConns
	}
	if c.Store.MaxIdleConns == 0 {
		c.Store.MaxIdleConns = d.Store.MaxIdleConns
	}

	if c.PubSub.BatchSize == 0 {
		c.PubSub.BatchSize = d.PubSub.BatchSize
	}
	if c.PubSub.PullTimeout == 0 {
		c.PubSub.PullTimeout = d.PubSub.PullTimeout
	}
	if c.PubSub.StopGracePeriod == 0 {
		c.PubSub.StopGracePeriod = d.PubSub.StopGracePeriod
	}
	if c.PubSub.AckDeadlineSeconds == 0 {
		c.PubSub.AckDeadlineSeconds = d.PubSub.AckDeadlineSeconds
	}

	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = d.Dispatch.Timeout
	}
	if c.Dispatch.UserAgent == "" {
		c.Dispatch.UserAgent = d.Dispatch.UserAgent
	}

	if c.Script.FailurePolicy == "" {
		c.Script.FailurePolicy = d.Script.FailurePolicy
	}
	if c.Script.Timeout == 0 {
		c.Script.Timeout = d.Script.Timeout
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = d.Observability.ServiceName
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = d.Observability.SampleRate
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("COURIER_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("COURIER_PUBLIC_BASE_URL"); val != "" {
		c.Server.PublicBaseURL = val
	}

	if val := os.Getenv("COURIER_STORE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("COURIER_SQLITE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("COURIER_DATABASE_URL"); val != "" {
		c.Store.ConnectionString = val
	}

	if val := os.Getenv("COURIER_PUBSUB_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.PubSub.BatchSize = n
		}
	}

	if val := os.Getenv("COURIER_DISPATCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Dispatch.Timeout = d
		}
	}

	if val := os.Getenv("COURIER_SCRIPT_FAILURE_POLICY"); val != "" {
		c.Script.FailurePolicy = strings.ToLower(val)
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("COURIER_OTLP_ENDPOINT"); val != "" {
		c.Observability.OTLPEndpoint = val
	}

	if val := os.Getenv("COURIER_INTEGRATIONS_FILE"); val != "" {
		c.IntegrationsFile = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}
	if c.Server.PublicBaseURL != "" {
		if u, err := url.Parse(c.Server.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("server.public_base_url must be an absolute URL, got %q", c.Server.PublicBaseURL))
		}
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case StorePostgres:
		if c.Store.ConnectionString == "" {
			errs = append(errs, "store.connection_string is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.type must be one of [memory, sqlite, postgres], got %q", c.Store.Type))
	}

	if c.PubSub.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("pubsub.batch_size must be positive, got %d", c.PubSub.BatchSize))
	}
	if c.PubSub.PullTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("pubsub.pull_timeout must be positive, got %v", c.PubSub.PullTimeout))
	}
	if c.PubSub.StopGracePeriod <= 0 {
		errs = append(errs, fmt.Sprintf("pubsub.stop_grace_period must be positive, got %v", c.PubSub.StopGracePeriod))
	}
	if c.PubSub.AckDeadlineSeconds < 10 || c.PubSub.AckDeadlineSeconds > 600 {
		errs = append(errs, fmt.Sprintf("pubsub.ack_deadline_seconds must be between 10 and 600, got %d", c.PubSub.AckDeadlineSeconds))
	}

	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("dispatch.timeout must be positive, got %v", c.Dispatch.Timeout))
	}

	validPolicies := map[string]bool{"open": true, "closed": true, "error": true}
	if !validPolicies[c.Script.FailurePolicy] {
		errs = append(errs, fmt.Sprintf("script.failure_policy must be one of [open, closed, error], got %q", c.Script.FailurePolicy))
	}
	if c.Script.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("script.timeout must be positive, got %v", c.Script.Timeout))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
