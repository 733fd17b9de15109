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

/*
Package cli provides the root command for courier's CLI.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	courier
	├── serve         Run the HTTP service and Pub/Sub listeners
	├── process       Run one payload through an integration
	├── validate      Validate an integrations file
	├── listeners     Start Pub/Sub listeners without the HTTP surface
	└── version       Show version

# Global Flags

	--verbose, -v    Log at debug level
	--quiet, -q      Log warnings and errors only
	--json           Output in JSON format
	--config         Path to the service config file

# Error Handling

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid configuration or integrations file
  - Exit 3: The processed run ended with status error
*/
package cli
