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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Value int
}

func foldCounter(state counterState, e Event) (counterState, error) {
	switch e.Type {
	case "Incremented":
		var payload struct{ By int }
		if err := e.Unmarshal(&payload); err != nil {
			return state, err
		}
		state.Value += payload.By
	case "Reset":
		state.Value = 0
	}
	return state, nil
}

func TestStore_AppendAndLoad_OrdersByVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appended, err := store.Append(ctx, "counter-1", 0, []EventData{
		{Type: "Incremented", Payload: map[string]int{"By": 2}},
		{Type: "Incremented", Payload: map[string]int{"By": 3}},
	})
	require.NoError(t, err)
	require.Len(t, appended, 2)
	assert.Equal(t, int64(1), appended[0].Version)
	assert.Equal(t, int64(2), appended[1].Version)

	events, err := store.Load(ctx, "counter-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, int64(2), events[1].Version)
}

func TestStore_Append_VersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "counter-1", 0, []EventData{{Type: "Incremented", Payload: map[string]int{"By": 1}}})
	require.NoError(t, err)

	_, err = store.Append(ctx, "counter-1", 0, []EventData{{Type: "Incremented", Payload: map[string]int{"By": 1}}})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestRepository_FoldIsEquivalentRegardlessOfReplayVsFreshApply(t *testing.T) {
	// For all conversations C and sequences of commands applied to C, folding
	// the resulting events yields the same state as executing the same
	// commands on a fresh aggregate.
	store := newTestStore(t)
	repo := NewRepository(store, nil, "counter", func() counterState { return counterState{} }, foldCounter)
	ctx := context.Background()

	loaded, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, []EventData{{Type: "Incremented", Payload: map[string]int{"By": 5}}})
	require.NoError(t, err)

	loaded, err = repo.Load(ctx, "c1")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, []EventData{{Type: "Incremented", Payload: map[string]int{"By": 7}}})
	require.NoError(t, err)

	final, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 12, final.State.Value)
	assert.Equal(t, int64(2), final.Version)

	// Replaying from zero must reach the same state (idempotent, deterministic).
	events, err := store.Load(ctx, "counter-c1")
	require.NoError(t, err)
	replayed := counterState{}
	for _, e := range events {
		replayed, err = foldCounter(replayed, e)
		require.NoError(t, err)
	}
	assert.Equal(t, final.State, replayed)
}

func TestRepository_Save_RejectsStaleVersion(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store, nil, "counter", func() counterState { return counterState{} }, foldCounter)
	ctx := context.Background()

	_, err := repo.Save(ctx, "c1", 0, []EventData{{Type: "Incremented", Payload: map[string]int{"By": 1}}})
	require.NoError(t, err)

	_, err = repo.Save(ctx, "c1", 0, []EventData{{Type: "Incremented", Payload: map[string]int{"By": 1}}})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMediator_PublishFansOutToAllSubscribers(t *testing.T) {
	m := NewMediator()
	a := m.Subscribe("projector")
	b := m.Subscribe("audit")
	ctx := context.Background()

	m.Publish(ctx, []Event{{StreamID: "counter-1", Type: "Incremented"}})

	select {
	case e := <-a:
		assert.Equal(t, "Incremented", e.Type)
	case <-time.After(time.Second):
		t.Fatal("projector subscriber did not receive event")
	}
	select {
	case e := <-b:
		assert.Equal(t, "Incremented", e.Type)
	case <-time.After(time.Second):
		t.Fatal("audit subscriber did not receive event")
	}
}

func TestMediator_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	m := NewMediator()
	ch := m.Subscribe("slow")
	ctx := context.Background()

	events := make([]EventData, 0, DefaultSubscriberBuffer+10)
	for i := 0; i < DefaultSubscriberBuffer+10; i++ {
		events = append(events, EventData{Type: "Incremented"})
	}
	var published []Event
	for range events {
		published = append(published, Event{StreamID: "counter-1", Type: "Incremented"})
	}

	done := make(chan struct{})
	go func() {
		m.Publish(ctx, published)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	assert.Len(t, ch, DefaultSubscriberBuffer)
}

func TestMediator_UnsubscribeClosesChannel(t *testing.T) {
	m := NewMediator()
	ch := m.Subscribe("projector")
	m.Unsubscribe("projector")

	_, ok := <-ch
	assert.False(t, ok)
}
