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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
)

type fakeTools struct {
	tools map[string]ToolRecord
	calls int
}

func (f *fakeTools) ListTools(ctx context.Context) (map[string]ToolRecord, error) {
	f.calls++
	return f.tools, nil
}

type fakeGroups struct {
	groups map[string]GroupRecord
}

func (f *fakeGroups) GetGroup(ctx context.Context, groupID string) (GroupRecord, bool, error) {
	g, ok := f.groups[groupID]
	return g, ok, nil
}

func baseTool(id, name string, tags []string) ToolRecord {
	return ToolRecord{
		ToolID: id, SourceID: "src1", SourceEnabled: true,
		ToolName: name, Tags: tags, IsEnabled: true, Status: domain.ToolStatusActive,
	}
}

func TestResolver_UnionsSelectorAndExplicitMinusExcluded(t *testing.T) {
	tools := &fakeTools{tools: map[string]ToolRecord{
		"t1": baseTool("t1", "list_widgets", []string{"billing"}),
		"t2": baseTool("t2", "get_invoice", []string{"billing"}),
		"t3": baseTool("t3", "delete_user", []string{"admin"}),
		"t4": baseTool("t4", "ping", nil),
	}}
	groups := &fakeGroups{groups: map[string]GroupRecord{
		"g1": {
			GroupID:         "g1",
			IsActive:        true,
			Selectors:       []domain.ToolSelector{{RequiredTags: []string{"billing"}}},
			ExplicitToolIDs: []string{"t4"},
			ExcludedToolIDs: []string{"t2"},
		},
	}}

	r := New(tools, groups)
	result, err := r.Resolve(context.Background(), "g1")
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"t1": true, "t4": true}, toolIDSet(result))
}

func TestResolver_ExcludesIneligibleToolsEvenIfExplicit(t *testing.T) {
	deprecated := baseTool("t1", "old_tool", nil)
	deprecated.Status = domain.ToolStatusDeprecated
	tools := &fakeTools{tools: map[string]ToolRecord{"t1": deprecated}}
	groups := &fakeGroups{groups: map[string]GroupRecord{
		"g1": {GroupID: "g1", IsActive: true, ExplicitToolIDs: []string{"t1"}},
	}}

	r := New(tools, groups)
	result, err := r.Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestResolver_InactiveGroupErrors(t *testing.T) {
	groups := &fakeGroups{groups: map[string]GroupRecord{"g1": {GroupID: "g1", IsActive: false}}}
	r := New(&fakeTools{tools: map[string]ToolRecord{}}, groups)

	_, err := r.Resolve(context.Background(), "g1")
	assert.Error(t, err)
}

func TestResolver_CachesUntilInvalidated(t *testing.T) {
	tools := &fakeTools{tools: map[string]ToolRecord{"t1": baseTool("t1", "ping", nil)}}
	groups := &fakeGroups{groups: map[string]GroupRecord{
		"g1": {GroupID: "g1", IsActive: true, ExplicitToolIDs: []string{"t1"}},
	}}
	r := New(tools, groups)

	_, err := r.Resolve(context.Background(), "g1")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, tools.calls)

	r.Invalidate()
	_, err = r.Resolve(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, tools.calls)
}

func toolIDSet(m map[string]ToolRecord) map[string]bool {
	out := make(map[string]bool, len(m))
	for id := range m {
		out[id] = true
	}
	return out
}
