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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/courier/internal/catalog"
	"github.com/tombee/courier/internal/commands/shared"
	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/script"
	"github.com/tombee/courier/internal/transform"
	"github.com/tombee/courier/pkg/errors"
)

// Result is the machine-readable validation outcome.
type Result struct {
	Valid        bool          `json:"valid"`
	File         string        `json:"file"`
	Integrations []Integration `json:"integrations,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Integration summarizes one validated entry.
type Integration struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Mappings int    `json:"mappings"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <integrations-file>",
		Short: "Validate an integrations file",
		Long: `Validate checks that an integrations file parses, that every entry has
a unique id and passes configuration validation, and that every condition
and script mapping compiles.

Nothing is stored and no listeners are started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, path string) error {
	result := Result{File: path}

	configs, err := catalog.LoadFile(path)
	if err == nil {
		err = checkScripts(configs)
	}
	if err != nil {
		result.Errors = []string{err.Error()}
		if shared.GetJSON() {
			if werr := writeJSON(cmd, result); werr != nil {
				return werr
			}
		}
		return shared.NewInvalidConfigError(fmt.Sprintf("%s is invalid", path), err)
	}

	result.Valid = true
	result.Warnings = unknownTransforms(configs)
	for _, cfg := range configs {
		result.Integrations = append(result.Integrations, Integration{
			ID:       cfg.ID,
			Name:     cfg.Name,
			Source:   string(cfg.SourceType),
			Target:   string(cfg.Target.Kind()),
			Mappings: len(cfg.Mappings),
		})
	}

	if shared.GetJSON() {
		return writeJSON(cmd, result)
	}

	cmd.Println("Validation Results:")
	cmd.Println("  [OK] Syntax valid")
	cmd.Println("  [OK] Configurations valid")
	cmd.Println("  [OK] Scripts compile")
	for _, w := range result.Warnings {
		cmd.Printf("  [WARN] %s\n", w)
	}
	cmd.Printf("\n%d integration(s) in %s\n", len(configs), path)
	for _, i := range result.Integrations {
		cmd.Printf("  %s (%s -> %s, %d mappings)\n", i.ID, i.Source, i.Target, i.Mappings)
	}
	return nil
}

func checkScripts(configs []*integration.Configuration) error {
	sandbox := script.New(script.Config{Logger: log.Discard()})
	for _, cfg := range configs {
		if err := sandbox.Validate(cfg.Condition); err != nil {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("%s.condition", cfg.ID),
				Message:    err.Error(),
				Suggestion: "conditions are single expressions over fields, e.g. fields.amount > 100",
			}
		}
		for i, rule := range cfg.Mappings {
			if !rule.IsScript() {
				continue
			}
			if err := sandbox.Validate(rule.Script); err != nil {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("%s.mappings[%d].script", cfg.ID, i),
					Message: err.Error(),
				}
			}
		}
	}
	return nil
}

// unknownTransforms lists mapping rules whose transform name is not
// registered. Such rules pass their value through unchanged at run time.
func unknownTransforms(configs []*integration.Configuration) []string {
	var warnings []string
	for _, cfg := range configs {
		for i, rule := range cfg.Mappings {
			if rule.IsScript() || rule.Transform == "" || rule.Transform == transform.None {
				continue
			}
			if _, ok := transform.Lookup(rule.Transform); ok {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s.mappings[%d]: unknown transform %q passes values through unchanged (known: %s)",
				cfg.ID, i, rule.Transform, strings.Join(transform.Names(), ", ")))
		}
	}
	return warnings
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
