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

package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/pkg/eventstore"
)

func newTestRepo() *eventstore.Repository[Conversation] {
	return eventstore.NewRepository(eventstore.NewMemoryStore(), nil, "Conversation", NewConversation, FoldConversation)
}

func TestConversation_FoldingReplaysToSameState(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	loaded, _ := repo.Load(ctx, "c1")
	events, err := loaded.State.Create("u1", "you are a helpful assistant")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, err = loaded.State.AddUserMessage("m1", "hello")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, err = loaded.State.AddAssistantMessage("m2", "", StatusPending)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, err = loaded.State.AddToolCall("m2", "math:add", "call1", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, err = loaded.State.AddToolResult("m2", "call1", true, map[string]any{"sum": 5}, "", 12)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, err = loaded.State.UpdateMessageStatus("m2", StatusCompleted)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	// Loading twice independently must fold to identical state (spec §8:
	// replaying events must equal executing the commands that produced
	// them).
	first, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)

	assert.Equal(t, "u1", first.State.UserID)
	require.Len(t, first.State.Messages, 2)
	assert.Equal(t, RoleUser, first.State.Messages[0].Role)
	assert.Equal(t, StatusCompleted, first.State.Messages[1].Status)
	require.Len(t, first.State.Messages[1].ToolCalls, 1)
	require.Len(t, first.State.Messages[1].ToolResults, 1)
	assert.Equal(t, "call1", first.State.Messages[1].ToolResults[0].CallID)
}

func TestConversation_AddToolResultRequiresMatchingCall(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	loaded, _ := repo.Load(ctx, "c1")
	events, _ := loaded.State.Create("u1", "sys")
	_, err := repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, _ = loaded.State.AddAssistantMessage("m1", "", StatusPending)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	_, err = loaded.State.AddToolResult("m1", "no-such-call", true, nil, "", 0)
	assert.Error(t, err)
}

func TestConversation_ClearMessagesKeepSystemTwiceIsIdempotent(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	loaded, _ := repo.Load(ctx, "c1")
	events, _ := loaded.State.Create("u1", "sys")
	_, err := repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, _ = loaded.State.AddUserMessage("m1", "hi")
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, err = loaded.State.ClearMessages(true)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	assert.Empty(t, loaded.State.Messages)

	events, err = loaded.State.ClearMessages(true)
	require.NoError(t, err)
	assert.Nil(t, events, "clearing an already-empty history must be a no-op")
}

func TestConversation_UpdateMessageStatusMustBeMonotone(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	loaded, _ := repo.Load(ctx, "c1")
	events, _ := loaded.State.Create("u1", "sys")
	_, err := repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	events, _ = loaded.State.AddAssistantMessage("m1", "hi", StatusCompleted)
	_, err = repo.Save(ctx, "c1", loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "c1")
	_, err = loaded.State.UpdateMessageStatus("m1", StatusFailed)
	assert.Error(t, err, "a message that is already completed cannot transition again")
}

func TestConversation_GetContextMessagesTruncatesFromTheEnd(t *testing.T) {
	c := Conversation{Messages: []Message{
		{ID: "1", Role: RoleUser}, {ID: "2", Role: RoleAssistant}, {ID: "3", Role: RoleUser},
	}}
	got := c.GetContextMessages(2)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
