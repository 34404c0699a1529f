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

package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/pkg/eventstore"
)

func TestUpstreamSource_EnableAfterEnableIsNoOp(t *testing.T) {
	store := eventstore.NewMemoryStore()
	repo := eventstore.NewRepository(store, nil, "UpstreamSource", NewUpstreamSource, FoldUpstreamSource)
	ctx := context.Background()

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	events, err := loaded.State.Register("weather", "https://api.example.com/openapi.json", SourceTypeOpenAPI, AuthConfig{}, "")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "s1", loaded.Version, events)
	require.NoError(t, err)

	loaded, err = repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, loaded.State.IsEnabled)

	events, err = loaded.State.Enable()
	require.NoError(t, err)
	assert.Nil(t, events, "enable after register (already enabled) must be a no-op")
}

func TestUpstreamSource_HealthRecomputesFromConsecutiveFailures(t *testing.T) {
	store := eventstore.NewMemoryStore()
	repo := eventstore.NewRepository(store, nil, "UpstreamSource", NewUpstreamSource, FoldUpstreamSource)
	ctx := context.Background()

	loaded, _ := repo.Load(ctx, "s1")
	events, _ := loaded.State.Register("weather", "https://api.example.com", SourceTypeOpenAPI, AuthConfig{}, "")
	_, err := repo.Save(ctx, "s1", loaded.Version, events)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		loaded, _ = repo.Load(ctx, "s1")
		events, err = loaded.State.RecordSyncFailure("timeout")
		require.NoError(t, err)
		_, err = repo.Save(ctx, "s1", loaded.Version, events)
		require.NoError(t, err)
	}

	loaded, _ = repo.Load(ctx, "s1")
	assert.Equal(t, 3, loaded.State.ConsecutiveFailures)
	assert.Equal(t, HealthUnhealthy, loaded.State.Health)

	loaded2 := loaded
	events, err = loaded2.State.RecordSyncSuccess("abc123", 12)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "s1", loaded2.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, "s1")
	assert.Equal(t, 0, loaded.State.ConsecutiveFailures)
	assert.Equal(t, HealthHealthy, loaded.State.Health)
}

func TestSourceTool_DeprecateForcesDisabled(t *testing.T) {
	store := eventstore.NewMemoryStore()
	repo := eventstore.NewRepository(store, nil, "SourceTool", NewSourceTool, FoldSourceTool)
	ctx := context.Background()

	id := StreamKey("s1", "get_weather")
	loaded, _ := repo.Load(ctx, id)
	events, err := loaded.State.Discover("s1", "get_weather", "weather:get", "fetch weather", InputSchema{"type": "object"}, ExecutionProfile{Mode: ModeSyncHTTP}, nil, "h1")
	require.NoError(t, err)
	_, err = repo.Save(ctx, id, loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, id)
	events, err = loaded.State.Deprecate()
	require.NoError(t, err)
	_, err = repo.Save(ctx, id, loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, id)
	assert.Equal(t, ToolStatusDeprecated, loaded.State.Status)
	assert.False(t, loaded.State.IsEnabled)

	// deprecate again is a no-op
	events, err = loaded.State.Deprecate()
	require.NoError(t, err)
	assert.Nil(t, events)

	events, err = loaded.State.Restore()
	require.NoError(t, err)
	_, err = repo.Save(ctx, id, loaded.Version, events)
	require.NoError(t, err)

	loaded, _ = repo.Load(ctx, id)
	assert.Equal(t, ToolStatusActive, loaded.State.Status)
	assert.True(t, loaded.State.IsEnabled)
}

func TestToolGroup_ResolvedSetIsSelectorsPlusExplicitMinusExcluded(t *testing.T) {
	group := ToolGroup{
		Selectors:       []ToolSelector{{SourcePattern: "weather*"}},
		ExplicitToolIDs: []string{"math:add"},
		ExcludedToolIDs: []string{"weather:delete_all"},
	}
	catalog := []SelectableTool{
		{SourceName: "weather", ToolName: "weather:get"},
		{SourceName: "weather", ToolName: "weather:delete_all"},
		{SourceName: "math", ToolName: "math:add"},
		{SourceName: "math", ToolName: "math:sub"},
	}

	resolved := map[string]bool{}
	for _, tool := range catalog {
		matched := false
		for _, sel := range group.Selectors {
			if sel.Matches(tool) {
				matched = true
				break
			}
		}
		if matched {
			resolved[tool.ToolName] = true
		}
	}
	for _, id := range group.ExplicitToolIDs {
		resolved[id] = true
	}
	for _, id := range group.ExcludedToolIDs {
		delete(resolved, id)
	}

	assert.True(t, resolved["weather:get"])
	assert.True(t, resolved["math:add"])
	assert.False(t, resolved["weather:delete_all"], "excluded tools must never survive, even if selector-matched")
	assert.False(t, resolved["math:sub"])
}

func TestClaimMatcher_OperatorSemantics(t *testing.T) {
	claims := map[string]any{
		"sub":   "user-1",
		"roles": []string{"viewer", "editor"},
		"org":   map[string]any{"tier": "gold"},
	}
	lookup := func(path string) (any, bool) {
		switch path {
		case "sub":
			return claims["sub"], true
		case "roles":
			return claims["roles"], true
		case "org.tier":
			return "gold", true
		default:
			return nil, false
		}
	}

	cases := []struct {
		name    string
		matcher ClaimMatcher
		want    bool
	}{
		{"equals match", ClaimMatcher{JSONPath: "sub", Operator: OpEquals, Value: "user-1"}, true},
		{"equals mismatch", ClaimMatcher{JSONPath: "sub", Operator: OpEquals, Value: "user-2"}, false},
		{"not_equals", ClaimMatcher{JSONPath: "sub", Operator: OpNotEquals, Value: "user-2"}, true},
		{"contains array membership", ClaimMatcher{JSONPath: "roles", Operator: OpContains, Value: "editor"}, true},
		{"not_contains array", ClaimMatcher{JSONPath: "roles", Operator: OpNotContains, Value: "admin"}, true},
		{"matches regex anchored", ClaimMatcher{JSONPath: "sub", Operator: OpMatches, Value: "user-"}, true},
		{"in csv", ClaimMatcher{JSONPath: "org.tier", Operator: OpIn, Value: "silver,gold,platinum"}, true},
		{"not_in csv", ClaimMatcher{JSONPath: "org.tier", Operator: OpNotIn, Value: "silver,bronze"}, true},
		{"exists true", ClaimMatcher{JSONPath: "sub", Operator: OpExists}, true},
		{"exists false for missing", ClaimMatcher{JSONPath: "missing", Operator: OpExists}, false},
		{"missing claim fails equals", ClaimMatcher{JSONPath: "missing", Operator: OpEquals, Value: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.matcher.Evaluate(lookup))
		})
	}
}

func TestAccessPolicy_YieldsBothGrantAndDenyClaimSets(t *testing.T) {
	// "For all accepted PolicyDefined{matchers, groups}, there exists a
	// claims set yielding resolve(claims) ⊇ groups and another yielding ∅."
	policy := AccessPolicy{
		ClaimMatchers:   []ClaimMatcher{{JSONPath: "role", Operator: OpEquals, Value: "admin"}},
		AllowedGroupIDs: []string{"g1", "g2"},
	}

	grant := func(path string) (any, bool) {
		if path == "role" {
			return "admin", true
		}
		return nil, false
	}
	deny := func(path string) (any, bool) { return nil, false }

	grants := true
	for _, m := range policy.ClaimMatchers {
		if !m.Evaluate(grant) {
			grants = false
		}
	}
	assert.True(t, grants)

	denies := true
	for _, m := range policy.ClaimMatchers {
		if m.Evaluate(deny) {
			denies = false
		}
	}
	assert.True(t, denies)
}

func TestSelector_CaseInsensitiveGlobAndRegex(t *testing.T) {
	tool := SelectableTool{SourceName: "Weather", ToolName: "Weather:GetForecast", Method: "GET", Tags: []string{"Public"}}

	assert.True(t, (ToolSelector{SourcePattern: "weath*"}).Matches(tool))
	assert.True(t, (ToolSelector{NamePattern: "regex:weather:.*"}).Matches(tool))
	assert.True(t, (ToolSelector{RequiredTags: []string{"public"}}).Matches(tool))
	assert.False(t, (ToolSelector{ExcludedTags: []string{"public"}}).Matches(tool))
}
