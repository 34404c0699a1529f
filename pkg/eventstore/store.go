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
	"encoding/json"
	"errors"
	"time"
)

// ErrVersionConflict is returned by Append when expectedVersion no longer
// matches the stream's current version: another writer appended first.
var ErrVersionConflict = errors.New("eventstore: version conflict")

// ErrStreamNotFound is returned by Load when a stream has no events.
var ErrStreamNotFound = errors.New("eventstore: stream not found")

// Event is one persisted record in a stream.
type Event struct {
	StreamID       string
	GlobalPosition int64
	Version        int64
	Type           string
	Payload        json.RawMessage
	RecordedAt     time.Time
}

// Unmarshal decodes the event payload into v.
func (e Event) Unmarshal(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventData is an event awaiting assignment of a version and timestamp.
type EventData struct {
	Type    string
	Payload any
}

// Store is the append-only log both services' write models persist to.
type Store interface {
	// Append appends events to streamID, guarded by expectedVersion: the
	// version of the last event already recorded for this stream (0 for a
	// brand-new stream). Returns ErrVersionConflict if another writer has
	// appended since the caller last loaded the stream.
	Append(ctx context.Context, streamID string, expectedVersion int64, events []EventData) ([]Event, error)

	// Load returns every event recorded for streamID in version order.
	// Returns an empty, nil-error slice for a stream with no events — callers
	// distinguish "no events yet" from "storage failure", not "stream
	// exists".
	Load(ctx context.Context, streamID string) ([]Event, error)

	// LoadFrom returns events recorded for streamID with version > fromVersion,
	// in version order. Used to resume a partially-loaded aggregate.
	LoadFrom(ctx context.Context, streamID string, fromVersion int64) ([]Event, error)

	// LoadAllFrom streams every event across all streams with global
	// position > fromPosition, up to limit events, in position order. Used
	// by the projector's reconciliator to catch up or rebuild read models.
	LoadAllFrom(ctx context.Context, fromPosition int64, limit int) ([]Event, error)

	Close() error
}
