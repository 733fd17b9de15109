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

// Package storetest holds a behavioral test suite shared by every store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("RunRoundTrip", func(t *testing.T) { testRunRoundTrip(t, newStore(t)) })
	t.Run("RunNotFound", func(t *testing.T) { testRunNotFound(t, newStore(t)) })
	t.Run("DuplicateRun", func(t *testing.T) { testDuplicateRun(t, newStore(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("ConfigurationCRUD", func(t *testing.T) { testConfigurationCRUD(t, newStore(t)) })
	t.Run("FindByEndpoint", func(t *testing.T) { testFindByEndpoint(t, newStore(t)) })
	t.Run("ListConfigurations", func(t *testing.T) { testListConfigurations(t, newStore(t)) })
	t.Run("ListenerFlag", func(t *testing.T) { testListenerFlag(t, newStore(t)) })
}

// Configuration returns a valid webhook configuration with id.
func Configuration(id string) *integration.Configuration {
	return &integration.Configuration{
		ID:          id,
		Name:        "integration " + id,
		SourceType:  integration.SourceWebhook,
		WebhookPath: "/webhook/" + id + "/",
		IsActive:    true,
		Mappings: []integration.MappingRule{
			{Source: "user.name", Target: "name", Transform: "uppercase"},
			{Target: "total", Script: "fields.a + fields.b", ScriptInputFields: []string{"a", "b"}},
		},
		Condition: "fields.amount > 100",
		Target: integration.Target{
			Type:     integration.TargetHTTP,
			URL:      "https://example.com/hook",
			AuthType: integration.AuthBearer,
			Auth:     integration.Auth{Token: "secret"},
			Headers:  map[string]string{"X-Team": "ops"},
		},
	}
}

func testRunRoundTrip(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	msg := "HTTP 502"
	run := &integration.Run{
		ID:                   "run-1",
		IntegrationID:        "cfg-1",
		IncomingPayload:      payload.ObjectOf(map[string]any{"amount": 150.0, "tags": []any{"a", "b"}}),
		TransformedPayload:   payload.ObjectOf(map[string]any{"total": 150.0}),
		OutgoingRequest:      payload.ObjectOf(map[string]any{"url": "https://example.com", "method": "POST"}),
		OutgoingResponse:     payload.ObjectOf(map[string]any{"status_code": 502.0}),
		Status:               integration.StatusError,
		ErrorMessage:         &msg,
		TransformationTimeMs: 3,
		APICallTimeMs:        42,
		CreatedAt:            time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.IntegrationID, got.IntegrationID)
	assert.Equal(t, run.Status, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	assert.Equal(t, int64(3), got.TransformationTimeMs)
	assert.Equal(t, int64(42), got.APICallTimeMs)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, run.CreatedAt)
	assert.True(t, payload.Equal(run.IncomingPayload, got.IncomingPayload))
	assert.True(t, payload.Equal(run.TransformedPayload, got.TransformedPayload))
	assert.True(t, payload.Equal(run.OutgoingRequest, got.OutgoingRequest))
	assert.True(t, payload.Equal(run.OutgoingResponse, got.OutgoingResponse))
}

func testRunNotFound(t *testing.T, s store.Store) {
	defer s.Close()

	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func testDuplicateRun(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	run := &integration.Run{ID: "dup", IntegrationID: "cfg", Status: integration.StatusSuccess}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.Error(t, s.CreateRun(ctx, &integration.Run{ID: "dup", IntegrationID: "cfg", Status: integration.StatusSuccess}))
}

func testListRuns(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		integrationID := "cfg-a"
		if i%2 == 1 {
			integrationID = "cfg-b"
		}
		require.NoError(t, s.CreateRun(ctx, &integration.Run{
			ID:            fmt.Sprintf("run-%d", i),
			IntegrationID: integrationID,
			Status:        integration.StatusSuccess,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "run-4", all[0].ID, "newest first")

	a, err := s.ListRuns(ctx, store.RunFilter{IntegrationID: "cfg-a"})
	require.NoError(t, err)
	assert.Len(t, a, 3)

	paged, err := s.ListRuns(ctx, store.RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, "run-3", paged[0].ID)
	assert.Equal(t, "run-2", paged[1].ID)

	none, err := s.ListRuns(ctx, store.RunFilter{Status: integration.StatusSkipped})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConfigurationCRUD(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	cfg := Configuration("cfg-1")
	require.NoError(t, s.CreateConfiguration(ctx, cfg))
	assert.False(t, cfg.CreatedAt.IsZero())

	got, err := s.GetConfiguration(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, cfg.Name, got.Name)
	assert.Equal(t, cfg.Condition, got.Condition)
	assert.Equal(t, cfg.Target.Auth.Token, got.Target.Auth.Token)
	require.Len(t, got.Mappings, 2)
	assert.Equal(t, "fields.a + fields.b", got.Mappings[1].Script)
	assert.Equal(t, []string{"a", "b"}, got.Mappings[1].ScriptInputFields)

	got.Name = "renamed"
	got.IsActive = false
	require.NoError(t, s.UpdateConfiguration(ctx, got))

	updated, err := s.GetConfiguration(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.IsActive)
	assert.True(t, cfg.CreatedAt.Equal(updated.CreatedAt))

	missing := Configuration("nope")
	assert.True(t, store.IsNotFound(s.UpdateConfiguration(ctx, missing)))

	require.NoError(t, s.DeleteConfiguration(ctx, "cfg-1"))
	_, err = s.GetConfiguration(ctx, "cfg-1")
	assert.True(t, store.IsNotFound(err))
	assert.True(t, store.IsNotFound(s.DeleteConfiguration(ctx, "cfg-1")))
}

func testFindByEndpoint(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	hook := Configuration("hook")
	require.NoError(t, s.CreateConfiguration(ctx, hook))

	push := Configuration("push")
	push.SourceType = integration.SourcePubSub
	push.WebhookPath = ""
	push.PushEndpoint = "/pubsub/abc/"
	push.Source = integration.SourceConfig{ProjectID: "p", TopicID: "t", SubscriptionMode: integration.ModePush}
	require.NoError(t, s.CreateConfiguration(ctx, push))

	inactive := Configuration("off")
	inactive.IsActive = false
	require.NoError(t, s.CreateConfiguration(ctx, inactive))

	got, err := s.FindByWebhookPath(ctx, "/webhook/hook/")
	require.NoError(t, err)
	assert.Equal(t, "hook", got.ID)

	got, err = s.FindByPushEndpoint(ctx, "/pubsub/abc/")
	require.NoError(t, err)
	assert.Equal(t, "push", got.ID)
	assert.Equal(t, integration.ModePush, got.Source.SubscriptionMode)

	_, err = s.FindByWebhookPath(ctx, "/webhook/off/")
	assert.True(t, store.IsNotFound(err), "inactive configurations are not routable")

	_, err = s.FindByPushEndpoint(ctx, "/pubsub/none/")
	assert.True(t, store.IsNotFound(err))
}

func testListConfigurations(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c1", "c2", "c3"} {
		cfg := Configuration(id)
		cfg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if id == "c2" {
			cfg.SourceType = integration.SourcePubSub
			cfg.Source = integration.SourceConfig{ProjectID: "p", TopicID: "t", SubscriptionMode: integration.ModePull}
		}
		if id == "c3" {
			cfg.IsActive = false
		}
		require.NoError(t, s.CreateConfiguration(ctx, cfg))
	}

	all, err := s.ListConfigurations(ctx, store.ConfigFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c1", all[0].ID)

	pubsub, err := s.ListConfigurations(ctx, store.ConfigFilter{SourceType: integration.SourcePubSub})
	require.NoError(t, err)
	require.Len(t, pubsub, 1)
	assert.True(t, pubsub[0].IsPull())

	active, err := s.ListConfigurations(ctx, store.ConfigFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func testListenerFlag(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	cfg := Configuration("cfg")
	require.NoError(t, s.CreateConfiguration(ctx, cfg))
	require.NoError(t, s.SetListenerActive(ctx, "cfg", true))

	got, err := s.GetConfiguration(ctx, "cfg")
	require.NoError(t, err)
	assert.True(t, got.ListenerActive)

	// Updates from the admin surface do not clobber the listener flag.
	got.ListenerActive = false
	got.Name = "changed"
	require.NoError(t, s.UpdateConfiguration(ctx, got))
	got, err = s.GetConfiguration(ctx, "cfg")
	require.NoError(t, err)
	assert.True(t, got.ListenerActive)

	assert.True(t, store.IsNotFound(s.SetListenerActive(ctx, "missing", true)))
}
