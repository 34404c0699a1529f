// Copyright 2025 Kestrel Authors
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

package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	global_position BIGSERIAL PRIMARY KEY,
	stream_id       TEXT NOT NULL,
	version         BIGINT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (stream_id, version)
);
CREATE INDEX IF NOT EXISTS events_stream_id_idx ON events (stream_id);
`

// PostgresStore is the production Store, backed by a single append-only
// events table. The unique index on (stream_id, version) is what turns a
// concurrent Append race into a constraint violation rather than silent
// data loss.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a PostgresStore against db, which must already be
// configured (pool size, TLS) by the caller, and ensures the events table
// exists.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("eventstore: migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, streamID string, expectedVersion int64, events []EventData) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eventstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1`, streamID,
	).Scan(&currentVersion)
	if err != nil {
		return nil, fmt.Errorf("eventstore: read current version: %w", err)
	}
	if currentVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (stream_id, version, event_type, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING global_position, recorded_at`)
	if err != nil {
		return nil, fmt.Errorf("eventstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	appended := make([]Event, 0, len(events))
	for i, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("eventstore: marshal %s payload: %w", e.Type, err)
		}
		version := currentVersion + int64(i) + 1
		var out Event
		if err := stmt.QueryRowContext(ctx, streamID, version, e.Type, payload).Scan(&out.GlobalPosition, &out.RecordedAt); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return nil, ErrVersionConflict
			}
			return nil, fmt.Errorf("eventstore: insert event %s: %w", e.Type, err)
		}
		out.StreamID = streamID
		out.Version = version
		out.Type = e.Type
		out.Payload = payload
		appended = append(appended, out)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("eventstore: commit: %w", err)
	}
	return appended, nil
}

func (s *PostgresStore) Load(ctx context.Context, streamID string) ([]Event, error) {
	return s.LoadFrom(ctx, streamID, 0)
}

func (s *PostgresStore) LoadFrom(ctx context.Context, streamID string, fromVersion int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT global_position, stream_id, version, event_type, payload, recorded_at
		 FROM events WHERE stream_id = $1 AND version > $2 ORDER BY version ASC`,
		streamID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("eventstore: load stream %s: %w", streamID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) LoadAllFrom(ctx context.Context, fromPosition int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT global_position, stream_id, version, event_type, payload, recorded_at
		 FROM events WHERE global_position > $1 ORDER BY global_position ASC LIMIT $2`,
		fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: load all from %d: %w", fromPosition, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.GlobalPosition, &e.StreamID, &e.Version, &e.Type, &e.Payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
