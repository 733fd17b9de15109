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

package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/store"
	"github.com/tombee/courier/internal/store/storetest"
)

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestBackend_ReturnsCopies(t *testing.T) {
	b := New()
	ctx := context.Background()

	cfg := storetest.Configuration("cfg")
	if err := b.CreateConfiguration(ctx, cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	cfg.Name = "mutated after create"

	got, err := b.GetConfiguration(ctx, "cfg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name == "mutated after create" {
		t.Error("stored configuration shares memory with caller")
	}
}

func TestBackend_ConcurrentCreateRun(t *testing.T) {
	b := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run := &integration.Run{ID: fmt.Sprintf("run-%d", i), IntegrationID: "cfg", Status: integration.StatusSuccess}
			if err := b.CreateRun(ctx, run); err != nil {
				t.Errorf("create run %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	runs, err := b.ListRuns(ctx, store.RunFilter{IntegrationID: "cfg"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 50 {
		t.Errorf("expected 50 runs, got %d", len(runs))
	}
}
