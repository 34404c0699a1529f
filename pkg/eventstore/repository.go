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
	"fmt"
)

// Folder applies a single decoded domain event onto state, returning the
// updated state. Implementations live alongside each aggregate (Conversation,
// UpstreamSource, ToolGroup, ...); the repository only knows how to get raw
// Events in and out of the store.
type Folder[T any] func(state T, event Event) (T, error)

// Repository loads and saves one aggregate type's streams, named
// "{aggregateType}-{id}" per spec §4.13. T is the aggregate's state; Save
// callers apply their commands to the loaded state and pass back the
// resulting domain events along with the version loaded, so Append can
// detect a concurrent writer.
type Repository[T any] struct {
	store         Store
	mediator      *Mediator
	aggregateType string
	zero          func() T
	fold          Folder[T]
}

// NewRepository constructs a Repository for one aggregate type. zero builds
// the aggregate's initial (empty) state; fold applies one event at a time.
// mediator may be nil, in which case appended events are not published
// anywhere (useful in tests that only care about the write path).
func NewRepository[T any](store Store, mediator *Mediator, aggregateType string, zero func() T, fold Folder[T]) *Repository[T] {
	return &Repository[T]{store: store, mediator: mediator, aggregateType: aggregateType, zero: zero, fold: fold}
}

// StreamID returns the stream name for aggregate id.
func (r *Repository[T]) StreamID(id string) string {
	return fmt.Sprintf("%s-%s", r.aggregateType, id)
}

// Loaded is an aggregate's folded state plus the version it was loaded at,
// which callers must pass back to Save unchanged to get the optimistic
// concurrency check.
type Loaded[T any] struct {
	State   T
	Version int64
}

// Load folds every event recorded for id into state, starting from zero().
// A stream with no events yields zero() at version 0 — not an error, since
// "aggregate doesn't exist yet" and "aggregate has no events yet" are the
// same thing in an event-sourced model.
func (r *Repository[T]) Load(ctx context.Context, id string) (Loaded[T], error) {
	events, err := r.store.Load(ctx, r.StreamID(id))
	if err != nil {
		return Loaded[T]{}, fmt.Errorf("eventstore: load %s: %w", r.StreamID(id), err)
	}

	state := r.zero()
	var version int64
	for _, e := range events {
		state, err = r.fold(state, e)
		if err != nil {
			return Loaded[T]{}, fmt.Errorf("eventstore: fold %s event %s v%d: %w", r.StreamID(id), e.Type, e.Version, err)
		}
		version = e.Version
	}
	return Loaded[T]{State: state, Version: version}, nil
}

// Save appends newEvents to id's stream, guarded by expectedVersion (the
// version returned by the Load this command was computed against), and
// publishes the appended events to the mediator for projection. Returns
// ErrVersionConflict if another writer appended first; callers retry by
// reloading and reapplying the command.
func (r *Repository[T]) Save(ctx context.Context, id string, expectedVersion int64, newEvents []EventData) ([]Event, error) {
	appended, err := r.store.Append(ctx, r.StreamID(id), expectedVersion, newEvents)
	if err != nil {
		return nil, err
	}
	if r.mediator != nil {
		r.mediator.Publish(ctx, appended)
	}
	return appended, nil
}
