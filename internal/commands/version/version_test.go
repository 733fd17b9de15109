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

package version

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/commands/shared"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	shared.SetVersion("1.4.0", "abc1234", "2026-01-05")
	t.Cleanup(func() { shared.SetVersion("dev", "unknown", "unknown") })

	root := &cobra.Command{Use: "courier"}
	_, _, jsonPtr, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "JSON output")
	t.Cleanup(func() { shared.SetJSONForTest(false) })
	root.AddCommand(NewVersionCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"version"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestVersionText(t *testing.T) {
	out := run(t)
	assert.Contains(t, out, "courier 1.4.0 (abc1234, built 2026-01-05)")
	assert.Contains(t, out, "pubsub:pull")
	assert.Contains(t, out, "sendgrid")
	assert.Contains(t, out, "postgres")
	assert.Contains(t, out, "uppercase")
}

func TestVersionJSON(t *testing.T) {
	var info Info
	require.NoError(t, json.Unmarshal([]byte(run(t, "--json")), &info))

	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc1234", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
	assert.Equal(t, []string{"http", "email"}, info.Targets)
	assert.Equal(t, []string{"memory", "sqlite", "postgres"}, info.Stores)
	assert.Contains(t, info.Transforms, "date")
}

func TestVersionRejectsArguments(t *testing.T) {
	cmd := NewVersionCommand()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
