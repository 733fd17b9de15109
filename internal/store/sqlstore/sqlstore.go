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

// Package sqlstore implements the store interfaces on database/sql. The
// sqlite and postgres packages open the database, run their own schema
// migrations and hand the connection to New with a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/store"
)

// Compile-time interface assertions.
var (
	_ store.RunStore    = (*Store)(nil)
	_ store.RunLister   = (*Store)(nil)
	_ store.ConfigStore = (*Store)(nil)
	_ store.Store       = (*Store)(nil)
)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	// Name identifies the engine in errors.
	Name string

	// NumberedPlaceholders rewrites ? to $1, $2, ...
	NumberedPlaceholders bool

	// TimeAsText stores timestamps as fixed-width RFC 3339 text.
	TimeAsText bool
}

var (
	SQLite   = Dialect{Name: "sqlite", TimeAsText: true}
	Postgres = Dialect{Name: "postgres", NumberedPlaceholders: true}
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQL-backed store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps an open, migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) timeArg(t time.Time) any {
	if s.dialect.TimeAsText {
		return t.UTC().Format(timeLayout)
	}
	return t.UTC()
}

// CreateRun inserts a run record.
func (s *Store) CreateRun(ctx context.Context, run *integration.Run) error {
	incoming, err := encodePayload(run.IncomingPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal incoming payload: %w", err)
	}
	transformed, err := encodePayload(run.TransformedPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal transformed payload: %w", err)
	}
	request, err := encodePayload(run.OutgoingRequest)
	if err != nil {
		return fmt.Errorf("failed to marshal outgoing request: %w", err)
	}
	response, err := encodePayload(run.OutgoingResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal outgoing response: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}

	_, err = s.exec(ctx, `
		INSERT INTO runs (id, integration_id, incoming_payload, transformed_payload,
			outgoing_request, outgoing_response, status, error_message,
			transformation_time_ms, api_call_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.IntegrationID, incoming, transformed, request, response,
		string(run.Status), nullString(run.ErrorMessage),
		run.TransformationTimeMs, run.APICallTimeMs, s.timeArg(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, integration_id, incoming_payload, transformed_payload,
	outgoing_request, outgoing_response, status, error_message,
	transformation_time_ms, api_call_time_ms, created_at`

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*integration.Run, error) {
	row := s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, store.RunNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*integration.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.IntegrationID != "" {
		query += ` AND integration_id = ?`
		args = append(args, filter.IntegrationID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	// An offset without a limit is applied after scanning since the engines
	// disagree on how to spell an unbounded LIMIT.
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*integration.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if filter.Limit <= 0 && filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*integration.Run, error) {
	var (
		run                                       integration.Run
		incoming, transformed, request, response []byte
		status                                    string
		errMsg                                    sql.NullString
		created                                   timeValue
	)
	err := row.Scan(&run.ID, &run.IntegrationID, &incoming, &transformed,
		&request, &response, &status, &errMsg,
		&run.TransformationTimeMs, &run.APICallTimeMs, &created)
	if err != nil {
		return nil, err
	}

	run.Status = integration.Status(status)
	run.CreatedAt = created.Time
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	if run.IncomingPayload, err = decodePayload(incoming); err != nil {
		return nil, err
	}
	if run.TransformedPayload, err = decodePayload(transformed); err != nil {
		return nil, err
	}
	if run.OutgoingRequest, err = decodePayload(request); err != nil {
		return nil, err
	}
	if run.OutgoingResponse, err = decodePayload(response); err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateConfiguration inserts a configuration.
func (s *Store) CreateConfiguration(ctx context.Context, cfg *integration.Configuration) error {
	now := s.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal integration: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO integrations (id, name, source_type, webhook_path, push_endpoint,
			is_active, listener_active, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, string(cfg.SourceType), cfg.WebhookPath, cfg.PushEndpoint,
		cfg.IsActive, cfg.ListenerActive, doc,
		s.timeArg(cfg.CreatedAt), s.timeArg(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

const configColumns = `is_active, listener_active, doc, created_at, updated_at`

// GetConfiguration retrieves a configuration by ID.
func (s *Store) GetConfiguration(ctx context.Context, id string) (*integration.Configuration, error) {
	row := s.queryRow(ctx, `SELECT `+configColumns+` FROM integrations WHERE id = ?`, id)
	return s.oneConfig(row, id)
}

// UpdateConfiguration replaces a configuration's definition. The listener
// flag and creation time are left untouched.
func (s *Store) UpdateConfiguration(ctx context.Context, cfg *integration.Configuration) error {
	existing, err := s.GetConfiguration(ctx, cfg.ID)
	if err != nil {
		return err
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.ListenerActive = existing.ListenerActive
	cfg.UpdatedAt = s.now().UTC()

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal integration: %w", err)
	}
	res, err := s.exec(ctx, `
		UPDATE integrations
		SET name = ?, source_type = ?, webhook_path = ?, push_endpoint = ?,
			is_active = ?, doc = ?, updated_at = ?
		WHERE id = ?`,
		cfg.Name, string(cfg.SourceType), cfg.WebhookPath, cfg.PushEndpoint,
		cfg.IsActive, doc, s.timeArg(cfg.UpdatedAt), cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	return requireAffected(res, cfg.ID)
}

// DeleteConfiguration removes a configuration. Its runs are kept.
func (s *Store) DeleteConfiguration(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	return requireAffected(res, id)
}

// ListConfigurations lists configurations by creation time.
func (s *Store) ListConfigurations(ctx context.Context, filter store.ConfigFilter) ([]*integration.Configuration, error) {
	query := `SELECT ` + configColumns + ` FROM integrations WHERE 1=1`
	var args []any
	if filter.SourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, string(filter.SourceType))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var configs []*integration.Configuration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return configs, nil
}

// FindByWebhookPath returns the active configuration for a webhook path.
func (s *Store) FindByWebhookPath(ctx context.Context, path string) (*integration.Configuration, error) {
	row := s.queryRow(ctx, `SELECT `+configColumns+` FROM integrations
		WHERE webhook_path = ? AND is_active = ? ORDER BY created_at LIMIT 1`, path, true)
	return s.oneConfig(row, path)
}

// FindByPushEndpoint returns the active configuration for a push endpoint.
func (s *Store) FindByPushEndpoint(ctx context.Context, endpoint string) (*integration.Configuration, error) {
	row := s.queryRow(ctx, `SELECT `+configColumns+` FROM integrations
		WHERE push_endpoint = ? AND is_active = ? ORDER BY created_at LIMIT 1`, endpoint, true)
	return s.oneConfig(row, endpoint)
}

// SetListenerActive updates the listener flag.
func (s *Store) SetListenerActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE integrations SET listener_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update listener state: %w", err)
	}
	return requireAffected(res, id)
}

func (s *Store) oneConfig(row *sql.Row, key string) (*integration.Configuration, error) {
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, store.ConfigurationNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return cfg, nil
}

func scanConfig(row scanner) (*integration.Configuration, error) {
	var (
		isActive, listenerActive bool
		doc                      []byte
		created, updated         timeValue
	)
	if err := row.Scan(&isActive, &listenerActive, &doc, &created, &updated); err != nil {
		return nil, err
	}
	var cfg integration.Configuration
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("corrupt integration document: %w", err)
	}
	cfg.IsActive = isActive
	cfg.ListenerActive = listenerActive
	cfg.CreatedAt = created.Time
	cfg.UpdatedAt = updated.Time
	return &cfg, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return store.ConfigurationNotFound(id)
	}
	return nil
}

func encodePayload(v payload.Value) ([]byte, error) {
	if v == nil {
		v = payload.Null{}
	}
	return payload.Marshal(v)
}

func decodePayload(data []byte) (payload.Value, error) {
	if len(data) == 0 {
		return payload.Null{}, nil
	}
	v, err := payload.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt payload column: %w", err)
	}
	return v, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// timeValue scans TIMESTAMPTZ columns and RFC 3339 text alike.
type timeValue struct {
	Time time.Time
}

// Scan implements sql.Scanner.
func (t *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (t *timeValue) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
