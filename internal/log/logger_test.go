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

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		level     string
		format    Format
		addSource bool
	}{
		{
			name:   "defaults when no env vars",
			level:  "info",
			format: FormatJSON,
		},
		{
			name:    "LOG_LEVEL is lowercased",
			envVars: map[string]string{"LOG_LEVEL": "DEBUG"},
			level:   "debug",
			format:  FormatJSON,
		},
		{
			name:    "COURIER_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{"COURIER_LOG_LEVEL": "warn", "LOG_LEVEL": "error"},
			level:   "warn",
			format:  FormatJSON,
		},
		{
			name:      "COURIER_DEBUG wins over levels",
			envVars:   map[string]string{"COURIER_DEBUG": "1", "COURIER_LOG_LEVEL": "error"},
			level:     "debug",
			format:    FormatJSON,
			addSource: true,
		},
		{
			name:      "format and source",
			envVars:   map[string]string{"LOG_FORMAT": "text", "LOG_SOURCE": "1"},
			level:     "info",
			format:    FormatText,
			addSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"COURIER_DEBUG", "COURIER_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.level {
				t.Errorf("expected level %q, got %q", tt.level, cfg.Level)
			}
			if cfg.Format != tt.format {
				t.Errorf("expected format %q, got %q", tt.format, cfg.Format)
			}
			if cfg.AddSource != tt.addSource {
				t.Errorf("expected AddSource %v, got %v", tt.addSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	logger.Debug("run recorded", RunIDKey, "r-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if entry["msg"] != "run recorded" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry[RunIDKey] != "r-1" {
		t.Errorf("expected run_id 'r-1', got %v", entry[RunIDKey])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("listener started", IntegrationIDKey, "abc")

	out := buf.String()
	if !strings.Contains(out, "msg=\"listener started\"") {
		t.Errorf("expected text message, got %q", out)
	}
	if !strings.Contains(out, "integration_id=abc") {
		t.Errorf("expected integration_id field, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry should be logged")
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithComponent(WithRun(base, "int-1", "run-1"), "pipeline").Info("done", Error(errors.New("boom")), Duration("api", 12))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	checks := map[string]any{
		IntegrationIDKey: "int-1",
		RunIDKey:         "run-1",
		ComponentKey:     "pipeline",
		"error":          "boom",
		"api_ms":         float64(12),
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("field %s = %v, want %v", k, entry[k], want)
		}
	}
}

func TestWithIntegration(t *testing.T) {
	var buf bytes.Buffer
	WithIntegration(New(&Config{Output: &buf}), "int-9").Info("x")
	if !strings.Contains(buf.String(), `"integration_id":"int-9"`) {
		t.Errorf("expected integration_id in %q", buf.String())
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Output: &buf})
	Trace(context.Background(), logger, "payload body")
	if buf.Len() != 0 {
		t.Errorf("trace should be filtered at debug level, got %q", buf.String())
	}

	logger = New(&Config{Level: "trace", Output: &buf})
	Trace(context.Background(), logger, "payload body", slog.String("body", "{}"))
	if !strings.Contains(buf.String(), "payload body") {
		t.Errorf("expected trace entry, got %q", buf.String())
	}
}

func TestSanitizeAPIKey(t *testing.T) {
	tests := map[string]string{
		"":                 "[REDACTED]",
		"abcd":             "[REDACTED]",
		"SG.secret-1234":   "...1234",
		"sk-live-abcdefgh": "...efgh",
	}
	for in, want := range tests {
		if got := SanitizeAPIKey(in); got != want {
			t.Errorf("SanitizeAPIKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNilConfig(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("expected logger for nil config")
	}
	if Discard() == nil {
		t.Fatal("expected discard logger")
	}
}
