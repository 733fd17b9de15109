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

package serve

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/commands/shared"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()
	assert.Equal(t, "serve", cmd.Use)
	for _, name := range []string{"addr", "integrations", "store"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestServeUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "courier.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  type: memory\nlog:\n  level: error\n"), 0o600))
	shared.SetConfigPathForTest(configPath)
	defer shared.SetConfigPathForTest("")

	addr := freeAddr(t)
	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cmd, options{addr: addr}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "courier.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  type: [\n"), 0o600))
	shared.SetConfigPathForTest(configPath)
	defer shared.SetConfigPathForTest("")

	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)
	err := run(context.Background(), cmd, options{})
	require.Error(t, err)

	var exitErr *shared.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, shared.ExitInvalidConfig, exitErr.Code)
}
