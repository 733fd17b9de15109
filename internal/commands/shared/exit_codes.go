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
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/courier/pkg/errors"
)

// Exit codes for courier commands
const (
	ExitSuccess       = 0
	ExitFailed        = 1
	ExitInvalidConfig = 2
	ExitRunFailed     = 3
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidConfigError creates an error for unreadable or invalid
// configuration and integration files.
func NewInvalidConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewRunFailedError creates an error for a run that was recorded with
// status error.
func NewRunFailedError(msg string) *ExitError {
	return &ExitError{Code: ExitRunFailed, Message: msg}
}

// HandleExitError prints err and exits with its code. Errors that are not
// an ExitError exit with ExitFailed.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(WriteError(os.Stderr, err))
}

// WriteError prints err with any suggestion attached to it and returns
// the exit code.
func WriteError(w io.Writer, err error) int {
	fmt.Fprintln(w, "Error:", err.Error())

	var validation *pkgerrors.ValidationError
	if errors.As(err, &validation) && validation.Suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", validation.Suggestion)
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}
