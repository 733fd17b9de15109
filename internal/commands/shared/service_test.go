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

package shared

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/config"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9100\"\nstore:\n  type: memory\n"), 0o600))
	SetConfigPathForTest(path)
	defer SetConfigPathForTest("")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.Store.Type)
}

func TestLoadConfigMissingFile(t *testing.T) {
	SetConfigPathForTest(filepath.Join(t.TempDir(), "missing.yaml"))
	defer SetConfigPathForTest("")

	_, err := LoadConfig()
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitInvalidConfig, exitErr.Code)
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Format = "text"

	var buf bytes.Buffer
	NewLogger(cfg, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	verbose, _, _, _ := RegisterFlagPointers()
	*verbose = true
	defer func() { *verbose = false }()

	NewLogger(cfg, &buf).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
