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
	"io"
	"log/slog"
	"os"

	"github.com/tombee/courier/internal/config"
	"github.com/tombee/courier/internal/log"
)

// LoadConfig loads the service configuration named by --config, or the
// defaults and environment when it is unset.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewInvalidConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from the log section of cfg.
// COURIER_DEBUG still forces debug with source locations. --verbose
// lowers the level to debug and --quiet raises it to warn.
func NewLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	lc := log.FromEnv()
	if os.Getenv("COURIER_DEBUG") == "" {
		lc.Level = cfg.Log.Level
	}
	lc.Format = log.Format(cfg.Log.Format)
	lc.AddSource = lc.AddSource || cfg.Log.AddSource
	lc.Output = out

	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "warn"
	}
	return log.New(lc)
}
