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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	courierrors "github.com/tombee/courier/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8000" {
		t.Errorf("expected addr :8000, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Type != StoreSQLite {
		t.Errorf("expected sqlite store, got %q", cfg.Store.Type)
	}
	if cfg.PubSub.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.PubSub.BatchSize)
	}
	if cfg.PubSub.PullTimeout != 10*time.Second {
		t.Errorf("expected pull timeout 10s, got %v", cfg.PubSub.PullTimeout)
	}
	if cfg.PubSub.StopGracePeriod != 5*time.Second {
		t.Errorf("expected stop grace 5s, got %v", cfg.PubSub.StopGracePeriod)
	}
	if cfg.Dispatch.Timeout != 30*time.Second {
		t.Errorf("expected dispatch timeout 30s, got %v", cfg.Dispatch.Timeout)
	}
	if cfg.Script.FailurePolicy != "open" {
		t.Errorf("expected fail-open policy, got %q", cfg.Script.FailurePolicy)
	}
	if !cfg.Observability.Metrics() {
		t.Errorf("expected metrics enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "memory store", modify: func(c *Config) { c.Store.Type = StoreMemory }},
		{
			name:    "unknown store",
			modify:  func(c *Config) { c.Store.Type = "redis" },
			errText: "store.type must be one of",
		},
		{
			name:    "postgres without url",
			modify:  func(c *Config) { c.Store.Type = StorePostgres },
			errText: "store.connection_string is required",
		},
		{
			name:    "bad policy",
			modify:  func(c *Config) { c.Script.FailurePolicy = "maybe" },
			errText: "script.failure_policy",
		},
		{
			name:    "zero batch",
			modify:  func(c *Config) { c.PubSub.BatchSize = 0 },
			errText: "pubsub.batch_size must be positive",
		},
		{
			name:    "ack deadline out of range",
			modify:  func(c *Config) { c.PubSub.AckDeadlineSeconds = 5 },
			errText: "pubsub.ack_deadline_seconds",
		},
		{
			name:    "relative public url",
			modify:  func(c *Config) { c.Server.PublicBaseURL = "/courier" },
			errText: "server.public_base_url",
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			errText: "log.format",
		},
		{
			name:    "sample rate above one",
			modify:  func(c *Config) { c.Observability.SampleRate = 1.5 },
			errText: "observability.sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.errText == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errText)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error containing %q, got %v", tt.errText, err)
			}
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COURIER_ADDR", "COURIER_PUBLIC_BASE_URL", "COURIER_STORE", "COURIER_SQLITE_PATH",
		"COURIER_DATABASE_URL", "COURIER_PUBSUB_BATCH_SIZE", "COURIER_DISPATCH_TIMEOUT",
		"COURIER_SCRIPT_FAILURE_POLICY", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"COURIER_OTLP_ENDPOINT", "COURIER_INTEGRATIONS_FILE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.yaml")
	content := `
server:
  addr: ":9000"
store:
  type: memory
pubsub:
  batch_size: 25
  pull_timeout: 3s
dispatch:
  timeout: 5s
script:
  failure_policy: closed
integrations_file: ./integrations.yaml
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("COURIER_ADDR", ":9100")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9100" {
		t.Errorf("env should override file addr, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Type != StoreMemory {
		t.Errorf("expected memory store, got %q", cfg.Store.Type)
	}
	if cfg.PubSub.BatchSize != 25 || cfg.PubSub.PullTimeout != 3*time.Second {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.PubSub.StopGracePeriod != 5*time.Second {
		t.Errorf("expected default stop grace, got %v", cfg.PubSub.StopGracePeriod)
	}
	if cfg.Dispatch.Timeout != 5*time.Second {
		t.Errorf("expected dispatch timeout 5s, got %v", cfg.Dispatch.Timeout)
	}
	if cfg.Dispatch.UserAgent != "courier/1.0" {
		t.Errorf("expected default user agent, got %q", cfg.Dispatch.UserAgent)
	}
	if cfg.Script.FailurePolicy != "closed" {
		t.Errorf("expected closed policy, got %q", cfg.Script.FailurePolicy)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected lowercased env level, got %q", cfg.Log.Level)
	}
	if cfg.IntegrationsFile != "./integrations.yaml" {
		t.Errorf("unexpected integrations file %q", cfg.IntegrationsFile)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	var cfgErr *courierrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Key != "config_file" {
		t.Errorf("expected key config_file, got %q", cfgErr.Key)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("COURIER_STORE", "cassandra")

	_, err := Load("")

	var cfgErr *courierrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected wrapped ErrInvalidConfig, got %v", err)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/var/lib/data")
	if got := DataDir(); got != "/var/lib/data/courier" {
		t.Errorf("unexpected data dir %q", got)
	}
}
