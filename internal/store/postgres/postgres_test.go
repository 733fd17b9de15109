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

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/tombee/courier/internal/store"
	"github.com/tombee/courier/internal/store/storetest"
)

// Requires COURIER_TEST_DATABASE_URL pointing at a disposable database.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("COURIER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("COURIER_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(Config{ConnectionString: dsn, MaxOpenConns: 4})
		if err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		for _, table := range []string{"runs", "integrations"} {
			if _, err := s.DB().ExecContext(context.Background(), "TRUNCATE "+table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		return s
	})
}
