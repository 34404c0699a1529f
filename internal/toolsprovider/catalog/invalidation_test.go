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

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

func TestInvalidator_ToolEventInvalidatesAndNotifies(t *testing.T) {
	tools := &fakeTools{tools: map[string]ToolRecord{"t1": baseTool("t1", "ping", nil)}}
	groups := &fakeGroups{groups: map[string]GroupRecord{
		"g1": {GroupID: "g1", IsActive: true, ExplicitToolIDs: []string{"t1"}},
	}}
	resolver := New(tools, groups)
	notifier := NewNotifier()
	mediator := eventstore.NewMediator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := NewInvalidator(resolver, notifier, mediator, "test-invalidator")
	sub := notifier.Subscribe("sse-conn-1")
	go inv.Run(ctx)

	_, err := resolver.Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, tools.calls)

	mediator.Publish(context.Background(), []eventstore.Event{
		{StreamID: "src1:op1", Type: domain.EventToolDiscovered},
	})

	select {
	case note := <-sub:
		assert.Equal(t, ToolsUpdated, note.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a tools_updated notification")
	}

	deadline := time.After(time.Second)
	for {
		_, err := resolver.Resolve(context.Background(), "g1")
		require.NoError(t, err)
		if tools.calls == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("resolver cache was never invalidated")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestInvalidator_GroupEventNotifiesWithGroupID(t *testing.T) {
	resolver := New(&fakeTools{tools: map[string]ToolRecord{}}, &fakeGroups{groups: map[string]GroupRecord{}})
	notifier := NewNotifier()
	mediator := eventstore.NewMediator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := NewInvalidator(resolver, notifier, mediator, "test-invalidator-2")
	sub := notifier.Subscribe("sse-conn-2")
	go inv.Run(ctx)

	mediator.Publish(context.Background(), []eventstore.Event{
		{StreamID: "g1", Type: domain.EventGroupActivated},
	})

	select {
	case note := <-sub:
		assert.Equal(t, GroupsUpdated, note.Type)
		assert.Equal(t, "g1", note.GroupID)
	case <-time.After(time.Second):
		t.Fatal("expected a groups_updated notification")
	}
}
