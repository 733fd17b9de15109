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

// Package catalog loads integrations declared in a YAML file into the
// store and keeps them in sync as the file changes.
package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/pkg/errors"
)

// File is the document format of an integrations file.
//
//	integrations:
//	  - id: orders-to-crm
//	    name: Orders to CRM
//	    sourceType: webhook
//	    webhookPath: /webhook/orders/
//	    mappings:
//	      - {source: customer.name, target: name, transform: uppercase}
//	    target: {url: https://crm.example.com/api/contacts}
type File struct {
	Integrations []*integration.Configuration `yaml:"integrations"`
}

// LoadFile reads and validates an integrations file. Every entry needs a
// unique id.
func LoadFile(path string) ([]*integration.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: "integrations_file", Reason: "failed to read file", Cause: err}
	}
	return Parse(data)
}

// Parse decodes and validates an integrations document.
func Parse(data []byte) ([]*integration.Configuration, error) {
	var doc File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &errors.ConfigError{Key: "integrations_file", Reason: "invalid YAML", Cause: err}
	}

	seen := make(map[string]bool, len(doc.Integrations))
	for i, cfg := range doc.Integrations {
		if cfg == nil {
			return nil, &errors.ConfigError{Key: fmt.Sprintf("integrations[%d]", i), Reason: "empty entry"}
		}
		if cfg.ID == "" {
			return nil, &errors.ConfigError{Key: fmt.Sprintf("integrations[%d].id", i), Reason: "required"}
		}
		if seen[cfg.ID] {
			return nil, &errors.ConfigError{Key: fmt.Sprintf("integrations[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", cfg.ID)}
		}
		seen[cfg.ID] = true

		if err := integration.Validate(cfg); err != nil {
			return nil, fmt.Errorf("integration %q: %w", cfg.ID, err)
		}
	}
	return doc.Integrations, nil
}
