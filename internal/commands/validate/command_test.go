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

package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/commands/shared"
)

const valid = `
integrations:
  - id: orders
    name: Orders
    sourceType: webhook
    isActive: true
    condition: fields.total > 10
    mappings:
      - {source: customer.name, target: name, transform: uppercase}
      - {target: label, script: 'fields.first + " " + fields.last', scriptInputFields: [first, last]}
    target: {url: "https://crm.example.com/api/contacts"}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "integrations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()
	assert.Equal(t, "validate <integrations-file>", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
}

func TestValidateValidFile(t *testing.T) {
	out, err := execute(t, writeFile(t, valid))
	require.NoError(t, err)
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "1 integration(s)")
	assert.Contains(t, out, "orders (webhook -> http, 2 mappings)")
}

func TestValidateJSON(t *testing.T) {
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	out, err := execute(t, writeFile(t, valid))
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	require.Len(t, result.Integrations, 1)
	assert.Equal(t, "orders", result.Integrations[0].ID)
}

func TestValidateWarnsOnUnknownTransform(t *testing.T) {
	content := `
integrations:
  - id: orders
    name: Orders
    sourceType: webhook
    isActive: true
    mappings:
      - {source: a, target: b, transform: shout}
      - {source: c, target: d, transform: number}
      - {source: e, target: f, transform: none}
    target: {url: "https://crm.example.com/api/contacts"}
`
	out, err := execute(t, writeFile(t, content))
	require.NoError(t, err)
	assert.Contains(t, out, `[WARN] orders.mappings[0]: unknown transform "shout"`)
	assert.Contains(t, out, "uppercase")
	assert.NotContains(t, out, "mappings[1]")
	assert.NotContains(t, out, "mappings[2]")
}

func TestValidateInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"yaml syntax", "integrations: [\n"},
		{"missing id", "integrations:\n  - {name: x, sourceType: webhook, target: {url: 'https://x'}}\n"},
		{"bad condition", "integrations:\n  - {id: a, name: a, sourceType: webhook, condition: 'fields.total >', target: {url: 'https://x'}}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, writeFile(t, tt.doc))
			require.Error(t, err)

			var exitErr *shared.ExitError
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, shared.ExitInvalidConfig, exitErr.Code)
		})
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRequiresArgument(t *testing.T) {
	_, err := execute(t)
	require.Error(t, err)
}
