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

// globalFlags holds the persistent flags bound by the root command.
type globalFlags struct {
	verbose bool
	quiet   bool
	json    bool
	config  string
}

var (
	flags globalFlags

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the verbose, quiet, json and
// config flag values for binding.
func RegisterFlagPointers() (verbose, quiet, json *bool, config *string) {
	return &flags.verbose, &flags.quiet, &flags.json, &flags.config
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose reports whether debug logging was requested.
func GetVerbose() bool { return flags.verbose }

// GetQuiet reports whether only warnings and errors should be logged.
func GetQuiet() bool { return flags.quiet }

// GetJSON reports whether command output should be JSON.
func GetJSON() bool { return flags.json }

// GetConfigPath returns the service config file path. Empty means
// defaults plus environment.
func GetConfigPath() string { return flags.config }

// SetConfigPathForTest sets the config path for testing purposes
func SetConfigPathForTest(path string) {
	flags.config = path
}

// SetJSONForTest sets the JSON flag for testing purposes
func SetJSONForTest(v bool) {
	flags.json = v
}
