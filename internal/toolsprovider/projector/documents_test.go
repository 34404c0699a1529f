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

package projector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
)

func TestToolDocFromState(t *testing.T) {
	state := domain.SourceTool{
		SourceID: "src1", OperationID: "getWidget", ToolName: "get_widget",
		Description: "fetch a widget", Tags: []string{"billing"}, LabelIDs: []string{"lbl1"},
		IsEnabled: true, Status: domain.ToolStatusActive,
		Profile: domain.ExecutionProfile{Mode: domain.ModeSyncHTTP, Method: "GET"},
	}
	doc := toolDocFromState("src1:getWidget", state)

	assert.Equal(t, "src1:getWidget", doc.ID)
	assert.Equal(t, "src1", doc.SourceID)
	assert.Equal(t, "get_widget", doc.ToolName)
	assert.True(t, doc.IsEnabled)
	assert.Equal(t, domain.ToolStatusActive, doc.Status)
}

func TestSourceDocFromState(t *testing.T) {
	state := domain.UpstreamSource{Name: "billing-api", IsEnabled: true, Health: domain.HealthHealthy}
	doc := sourceDocFromState("src1", state)

	assert.Equal(t, "src1", doc.ID)
	assert.Equal(t, "billing-api", doc.Name)
	assert.True(t, doc.IsEnabled)
	assert.Equal(t, domain.HealthHealthy, doc.Health)
}

func TestGroupDocFromState(t *testing.T) {
	state := domain.ToolGroup{
		Selectors:       []domain.ToolSelector{{NamePattern: "get_*"}},
		ExplicitToolIDs: []string{"t1"},
		ExcludedToolIDs: []string{"t2"},
		IsActive:        true,
	}
	doc := groupDocFromState("g1", state)

	assert.Equal(t, "g1", doc.ID)
	assert.Len(t, doc.Selectors, 1)
	assert.Equal(t, []string{"t1"}, doc.ExplicitToolIDs)
	assert.True(t, doc.IsActive)
}

func TestPolicyDocFromState(t *testing.T) {
	state := domain.AccessPolicy{
		ClaimMatchers:   []domain.ClaimMatcher{{JSONPath: "sub", Operator: domain.OpExists}},
		AllowedGroupIDs: []string{"g1"},
		Priority:        10,
		IsActive:        true,
	}
	doc := policyDocFromState("p1", state)

	assert.Equal(t, "p1", doc.ID)
	assert.Equal(t, 10, doc.Priority)
	assert.Equal(t, []string{"g1"}, doc.AllowedGroupIDs)
}

func TestEventKinds_CoversEveryAggregateEventType(t *testing.T) {
	cases := map[string]aggregateKind{
		domain.EventSourceRegistered:      kindSource,
		domain.EventToolDiscovered:        kindTool,
		domain.EventGroupCreated:          kindGroup,
		domain.EventPolicyDefined:         kindPolicy,
		domain.EventToolLabelAdded:        kindTool,
		domain.EventGroupDeactivated:      kindGroup,
		domain.EventPolicyPrioritySet:     kindPolicy,
		domain.EventSourceDisabled:        kindSource,
	}
	for eventType, want := range cases {
		assert.Equal(t, want, eventKinds[eventType], "event type %q", eventType)
	}
	assert.Equal(t, kindUnknown, eventKinds["SomeUnrelatedEvent"])
}
