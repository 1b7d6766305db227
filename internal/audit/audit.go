// Copyright 2025 The Obskit Authors
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

// Package audit records tool invocations in a local SQLite database so
// operators can answer "what did the agent run" after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/obskit/obskit/pkg/errors"
)

// Outcome values for recorded invocations.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// sensitiveParamKeys are redacted from recorded parameters.
var sensitiveParamKeys = []string{"api_key", "apikey", "token", "secret", "password"}

// Entry is one recorded tool invocation.
type Entry struct {
	// ID is the invocation's unique identifier.
	ID string `json:"id"`

	// Tool is the invoked tool name.
	Tool string `json:"tool"`

	// Params is the JSON-encoded argument map with sensitive keys redacted.
	Params string `json:"params"`

	// Outcome is OutcomeSuccess or OutcomeError.
	Outcome string `json:"outcome"`

	// Duration is how long the invocation ran.
	Duration time.Duration `json:"duration"`

	// CreatedAt is when the invocation was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Log is an append-only invocation log backed by SQLite.
//
// WAL mode keeps concurrent tool handlers from blocking each other on writes.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if path == "" {
		return nil, &errors.ConfigError{Key: "audit.path", Reason: "database path is required"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "opening audit database")
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to audit database")
	}

	schema := `CREATE TABLE IF NOT EXISTS tool_invocations (
		id TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		params_json TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating audit database")
	}

	logger.Info("audit log opened", "path", path)
	return &Log{db: db, logger: logger.With("component", "audit")}, nil
}

// Record appends one invocation. Sensitive argument keys are redacted before
// the parameters are stored.
func (l *Log) Record(ctx context.Context, tool string, params map[string]any, outcome string, duration time.Duration) error {
	paramsJSON, err := json.Marshal(redactParams(params))
	if err != nil {
		return errors.Wrap(err, "encoding audit params")
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO tool_invocations (id, tool, params_json, outcome, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tool, string(paramsJSON), outcome,
		duration.Milliseconds(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "recording tool invocation")
	}
	return nil
}

// Recent returns the n most recent invocations, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, tool, params_json, outcome, duration_ms, created_at
		 FROM tool_invocations
		 ORDER BY created_at DESC, id
		 LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "querying tool invocations")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Tool, &e.Params, &e.Outcome, &durationMS, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning tool invocation")
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if at, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = at
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// redactParams replaces values of sensitive keys with a marker.
func redactParams(params map[string]any) map[string]any {
	redacted := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			redacted[k] = "[REDACTED]"
			continue
		}
		redacted[k] = v
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveParamKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
