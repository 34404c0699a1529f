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
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local development,
// mirroring the mutex-protected map idiom pkg/ratelimit's MemoryStore uses
// for the same reason: no external dependency required to exercise the
// append/load/conflict contract.
type MemoryStore struct {
	mu       sync.Mutex
	byStream map[string][]Event
	all      []Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byStream: make(map[string][]Event)}
}

func (s *MemoryStore) Append(ctx context.Context, streamID string, expectedVersion int64, events []EventData) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.byStream[streamID]
	var currentVersion int64
	if len(existing) > 0 {
		currentVersion = existing[len(existing)-1].Version
	}
	if currentVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	appended := make([]Event, 0, len(events))
	for i, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		out := Event{
			StreamID:       streamID,
			GlobalPosition: int64(len(s.all)) + 1,
			Version:        currentVersion + int64(i) + 1,
			Type:           e.Type,
			Payload:        payload,
			RecordedAt:     time.Now().UTC(),
		}
		s.all = append(s.all, out)
		appended = append(appended, out)
	}
	s.byStream[streamID] = append(existing, appended...)
	return appended, nil
}

func (s *MemoryStore) Load(ctx context.Context, streamID string) ([]Event, error) {
	return s.LoadFrom(ctx, streamID, 0)
}

func (s *MemoryStore) LoadFrom(ctx context.Context, streamID string, fromVersion int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.byStream[streamID] {
		if e.Version > fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadAllFrom(ctx context.Context, fromPosition int64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.all {
		if e.GlobalPosition > fromPosition {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
