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
	"context"
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is wraps errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As from the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New wraps errors.New from the standard library.
func New(message string) error {
	return errors.New(message)
}

// Field returns the input field or configuration key an error refers to,
// or "" when err carries none.
//
//	var cfg integration.Configuration
//	if err := integration.Validate(&cfg); err != nil {
//	    writeJSON(w, 400, map[string]string{"error": err.Error(), "field": errors.Field(err)})
//	}
func Field(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		return ve.Field
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Key
	}
	return ""
}

// Category returns the ErrorType of the first classified error in err's
// tree, or "internal" when none is classified.
func Category(err error) string {
	var c ErrorClassifier
	if errors.As(err, &c) {
		return c.ErrorType()
	}
	if Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "internal"
}
