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

package tracing

// Config holds observability configuration.
type Config struct {
	// ServiceName identifies this service in traces and metrics.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// SampleRate is the fraction of root traces to sample (0.0 - 1.0).
	// Spans with a sampled parent are always recorded.
	SampleRate float64

	// OTLPEndpoint is the host:port of an OTLP/HTTP trace receiver.
	// Empty disables span export.
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the receiver.
	OTLPInsecure bool

	// OTLPHeaders are sent with each export request.
	OTLPHeaders map[string]string
}
