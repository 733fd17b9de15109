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

package integration

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"gopkg.in/go-playground/validator.v9"

	"github.com/tombee/courier/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so errors match the API payloads.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks that cfg is complete enough to process events. It
// returns a *errors.ConfigError describing the first problem found.
func Validate(cfg *Configuration) error {
	if cfg == nil {
		return &errors.ConfigError{Reason: "configuration is nil"}
	}

	if err := validate.Struct(cfg); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &errors.ConfigError{
				Key:    fieldKey(fe.Namespace()),
				Reason: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
				Cause:  err,
			}
		}
		return &errors.ConfigError{Reason: err.Error(), Cause: err}
	}

	if cfg.SourceType == SourcePubSub {
		if err := validateSource(cfg.Source); err != nil {
			return err
		}
	}

	switch cfg.Target.Kind() {
	case TargetEmail:
		return validateEmail(cfg.Target.Email)
	default:
		return validateHTTP(cfg.Target)
	}
}

func validateSource(src SourceConfig) error {
	if src.ProjectID == "" {
		return &errors.ConfigError{Key: "sourceConfig.projectId", Reason: "required for pubsub sources"}
	}
	if src.Subscription == "" {
		return &errors.ConfigError{Key: "sourceConfig.subscription", Reason: "required for pubsub sources"}
	}
	return nil
}

func validateHTTP(t Target) error {
	if t.URL == "" {
		return &errors.ConfigError{Key: "target.url", Reason: "required for http targets"}
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &errors.ConfigError{Key: "target.url", Reason: "must be an absolute http(s) URL", Cause: err}
	}

	switch t.AuthType {
	case AuthBearer:
		if t.Auth.Token == "" {
			return &errors.ConfigError{Key: "target.auth.token", Reason: "required for bearer auth"}
		}
	case AuthBasic:
		if t.Auth.Username == "" {
			return &errors.ConfigError{Key: "target.auth.username", Reason: "required for basic auth"}
		}
	case AuthAPIKey:
		if t.Auth.APIKey == "" {
			return &errors.ConfigError{Key: "target.auth.apiKey", Reason: "required for apikey auth"}
		}
	}
	return nil
}

func validateEmail(e EmailConfig) error {
	if len(Recipients(e.ToEmail)) == 0 {
		return &errors.ConfigError{Key: "target.emailConfig.toEmail", Reason: "at least one recipient is required"}
	}
	if e.FromEmail == "" {
		return &errors.ConfigError{Key: "target.emailConfig.fromEmail", Reason: "required for email targets"}
	}
	switch e.Provider {
	case ProviderSendGrid:
		if e.APIKey == "" {
			return &errors.ConfigError{Key: "target.emailConfig.apiKey", Reason: "required for sendgrid"}
		}
	default:
		if e.SMTPServer == "" {
			return &errors.ConfigError{Key: "target.emailConfig.smtpServer", Reason: "required for smtp delivery"}
		}
	}
	return nil
}

// Recipients splits a comma separated address list, trimming whitespace
// and dropping empty entries.
func Recipients(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// fieldKey strips the root struct name from a validator namespace.
func fieldKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
