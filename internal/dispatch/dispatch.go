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

// Package dispatch delivers transformed payloads to integration targets.
//
// A Sender never reports a target-side rejection as a Go error: a non-2xx
// HTTP response is an Outcome with StatusError. Go errors are reserved for
// deliveries that could not be attempted or completed, and are always
// *errors.DispatchError.
package dispatch

import (
	"context"
	"fmt"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
)

// Outcome is the normalized result of one delivery.
type Outcome struct {
	// Status is success or error.
	Status integration.Status

	// Request is the record of what was sent. Never nil once a Sender has
	// built the request, even when delivery fails.
	Request *payload.Object

	// Response is the record of what came back, or an {"error": ...} object
	// when delivery failed.
	Response payload.Value

	// Body is the parsed response body returned to callers.
	Body payload.Value

	// Message is a human readable summary for email deliveries.
	Message string

	// Error is set when Status is error.
	Error string
}

// Sender delivers a payload to one kind of target.
type Sender interface {
	Send(ctx context.Context, target integration.Target, body *payload.Object) (*Outcome, error)
}

// Dispatcher routes deliveries by target type.
type Dispatcher struct {
	senders map[integration.TargetType]Sender
}

// New creates a Dispatcher. A nil sender leaves that target type unsupported.
func New(httpSender, emailSender Sender) *Dispatcher {
	d := &Dispatcher{senders: make(map[integration.TargetType]Sender, 2)}
	if httpSender != nil {
		d.senders[integration.TargetHTTP] = httpSender
	}
	if emailSender != nil {
		d.senders[integration.TargetEmail] = emailSender
	}
	return d
}

// Dispatch sends body to target.
func (d *Dispatcher) Dispatch(ctx context.Context, target integration.Target, body *payload.Object) (*Outcome, error) {
	kind := target.Kind()
	sender, ok := d.senders[kind]
	if !ok {
		return nil, fmt.Errorf("no sender for target type %q", kind)
	}
	return sender.Send(ctx, target, body)
}

func errorResponse(err error) *payload.Object {
	obj := payload.NewObject()
	obj.Set("error", payload.String(err.Error()))
	return obj
}
