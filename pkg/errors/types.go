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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "integration", "run")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// DispatchError represents a failure delivering a transformed payload to
// its target. Non-2xx HTTP responses are not DispatchErrors; they are
// recorded as error runs without failing the pipeline call.
type DispatchError struct {
	// Target is the target type ("http" or "email")
	Target string

	// Destination is the sanitized URL or recipient list
	Destination string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s dispatch failed", e.Target)
	if e.Destination != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Destination)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *DispatchError) ErrorType() string {
	return "dispatch"
}

// ScriptError represents a condition or transform script that could not
// be evaluated.
type ScriptError struct {
	// Engine names the evaluator that reported the failure
	Engine string

	// Script is the normalized script source
	Script string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	if e.Engine != "" {
		return fmt.Sprintf("script evaluation failed (%s): %v", e.Engine, e.Cause)
	}
	return fmt.Sprintf("script evaluation failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ScriptError) ErrorType() string {
	return "script"
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "target.url", "store.path")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "condition", "pubsub pull")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string {
	return "timeout"
}

// ErrorType returns the classification used in metrics and run records
// for err. Errors that do not implement ErrorClassifier are "internal".
func ErrorType(err error) string {
	var classifier ErrorClassifier
	if As(err, &classifier) {
		return classifier.ErrorType()
	}
	var cfgErr *ConfigError
	if As(err, &cfgErr) {
		return "config"
	}
	var validationErr *ValidationError
	if As(err, &validationErr) {
		return "validation"
	}
	var notFound *NotFoundError
	if As(err, &notFound) {
		return "not_found"
	}
	return "internal"
}
