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

package integration

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Inbound path prefixes.
const (
	WebhookPrefix = "/webhook/"
	PushPrefix    = "/pubsub/"
)

// PathToken returns 16 random hex characters for an inbound path.
func PathToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// AssignPaths defaults the source type to webhook and generates the
// inbound path the configuration needs if it has none: a webhook path for
// webhook sources, a push endpoint for push-mode Pub/Sub sources.
func AssignPaths(cfg *Configuration) {
	if cfg.SourceType == "" {
		cfg.SourceType = SourceWebhook
	}
	switch {
	case cfg.SourceType == SourceWebhook && cfg.WebhookPath == "":
		cfg.WebhookPath = WebhookPrefix + PathToken() + "/"
	case cfg.IsPush() && cfg.PushEndpoint == "":
		cfg.PushEndpoint = PushPrefix + PathToken() + "/"
	}
}
