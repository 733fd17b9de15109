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

package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/transform"
	"github.com/tombee/courier/pkg/errors"
	"github.com/tombee/courier/pkg/httpclient"
)

// maxResponseBytes caps how much of a target response is kept.
const maxResponseBytes = 1 << 20

// HTTPSender delivers payloads to HTTP endpoints.
type HTTPSender struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSender creates an HTTPSender on top of client.
func NewHTTPSender(client *http.Client, logger *slog.Logger) *HTTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{client: client, logger: logger}
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, target integration.Target, body *payload.Object) (*Outcome, error) {
	method := target.HTTPMethod()

	req, err := buildRequest(ctx, method, target.URL, body)
	if err != nil {
		return nil, &errors.DispatchError{Target: "http", Destination: target.URL, Message: "invalid request", Cause: err}
	}
	for name, value := range target.Headers {
		req.Header.Set(name, value)
	}
	applyAuth(req.Header, target)

	record := payload.NewObject()
	record.Set("url", payload.String(target.URL))
	record.Set("method", payload.String(method))
	record.Set("headers", payload.FromNative(httpclient.RecordableHeaders(req.Header)))
	record.Set("body", body)

	resp, err := s.client.Do(req)
	if err != nil {
		out := &Outcome{
			Status:   integration.StatusError,
			Request:  record,
			Response: errorResponse(err),
			Error:    err.Error(),
		}
		return out, &errors.DispatchError{
			Target:      "http",
			Destination: req.URL.Redacted(),
			Cause:       err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.logger.WarnContext(ctx, "reading target response", slog.Any("error", err))
	}
	data := parseResponseBody(raw)

	response := payload.NewObject()
	response.Set("status_code", payload.Number(resp.StatusCode))
	response.Set("headers", payload.FromNative(httpclient.RecordableHeaders(resp.Header)))
	response.Set("body", data)

	out := &Outcome{
		Status:   integration.StatusSuccess,
		Request:  record,
		Response: response,
		Body:     data,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Status = integration.StatusError
		out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return out, nil
}

func buildRequest(ctx context.Context, method, target string, body *payload.Object) (*http.Request, error) {
	if method == http.MethodGet {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for key, value := range QueryParams(body) {
			for _, v := range value {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, method, u.String(), nil)
	}

	encoded, err := payload.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// applyAuth adds the authentication header for the target's auth type.
func applyAuth(h http.Header, target integration.Target) {
	switch target.AuthType {
	case integration.AuthBearer:
		h.Set("Authorization", "Bearer "+target.Auth.Token)
	case integration.AuthBasic:
		creds := target.Auth.Username + ":" + target.Auth.Password
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	case integration.AuthAPIKey:
		h.Set(target.Auth.APIKeyHeader(), target.Auth.APIKey)
	}
}

// QueryParams flattens body into query parameters. Nested keys are joined
// with dots, arrays repeat the parameter, and nulls are dropped.
func QueryParams(body *payload.Object) url.Values {
	params := url.Values{}
	if body != nil {
		addParams(params, body, "")
	}
	return params
}

func addParams(params url.Values, obj *payload.Object, prefix string) {
	for _, key := range obj.Keys() {
		v, _ := obj.Get(key)
		name := key
		if prefix != "" {
			name = prefix + payload.PathSeparator + key
		}
		switch v := v.(type) {
		case *payload.Object:
			addParams(params, v, name)
		case payload.Null:
		case payload.Array:
			for _, item := range v {
				if !payload.IsNull(item) {
					params.Add(name, transform.Stringify(item))
				}
			}
		default:
			params.Add(name, transform.Stringify(v))
		}
	}
}

func parseResponseBody(raw []byte) payload.Value {
	if v, err := payload.Parse(raw); err == nil {
		return v
	}
	obj := payload.NewObject()
	obj.Set("body", payload.String(string(raw)))
	return obj
}
