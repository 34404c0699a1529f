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

package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/auth"
)

func claimsWithRole(role string) *auth.Claims {
	return &auth.Claims{
		Subject: "user-1",
		Raw: map[string]any{
			"realm_access": map[string]any{"roles": []any{role}},
		},
	}
}

func TestResolver_UnionsGroupsAcrossPassingPoliciesInPriorityOrder(t *testing.T) {
	lister := &fakePolicyLister{
		policies: []PolicyView{
			{
				ID:              "p-low",
				Priority:        1,
				ClaimMatchers:   []domain.ClaimMatcher{{JSONPath: "realm_access.roles", Operator: domain.OpContains, Value: "viewer"}},
				AllowedGroupIDs: []string{"group-readonly"},
			},
			{
				ID:              "p-high",
				Priority:        10,
				ClaimMatchers:   []domain.ClaimMatcher{{JSONPath: "realm_access.roles", Operator: domain.OpContains, Value: "admin"}},
				AllowedGroupIDs: []string{"group-admin"},
			},
		},
		epoch: 1,
	}
	r := New(Config{}, lister, newMemoryCache())

	set, err := r.Resolve(context.Background(), claimsWithRole("admin"), false)
	require.NoError(t, err)
	_, hasAdmin := set["group-admin"]
	_, hasReadonly := set["group-readonly"]
	assert.True(t, hasAdmin)
	assert.False(t, hasReadonly)
}

func TestResolver_AllMatchersMustPassAND(t *testing.T) {
	lister := &fakePolicyLister{
		policies: []PolicyView{
			{
				ID:       "p1",
				Priority: 1,
				ClaimMatchers: []domain.ClaimMatcher{
					{JSONPath: "realm_access.roles", Operator: domain.OpContains, Value: "admin"},
					{JSONPath: "email", Operator: domain.OpEquals, Value: "a@example.com"},
				},
				AllowedGroupIDs: []string{"group-admin"},
			},
		},
	}
	r := New(Config{}, lister, nil)

	set, err := r.Resolve(context.Background(), claimsWithRole("admin"), false)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestResolver_CachesUntilEpochChanges(t *testing.T) {
	lister := &fakePolicyLister{
		policies: []PolicyView{
			{ID: "p1", Priority: 1, ClaimMatchers: nil, AllowedGroupIDs: []string{"group-all"}},
		},
		epoch: 1,
	}
	r := New(Config{}, lister, newMemoryCache())
	claims := claimsWithRole("anything")

	_, err := r.Resolve(context.Background(), claims, false)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), claims, false)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls, "policies are always listed to read the current epoch, even on a cache hit")

	lister.epoch = 2
	set, err := r.Resolve(context.Background(), claims, false)
	require.NoError(t, err)
	_, ok := set["group-all"]
	assert.True(t, ok)
}

func TestResolver_SkipCacheForcesReevaluation(t *testing.T) {
	lister := &fakePolicyLister{
		policies: []PolicyView{{ID: "p1", Priority: 1, AllowedGroupIDs: []string{"group-all"}}},
		epoch:    1,
	}
	r := New(Config{}, lister, newMemoryCache())
	claims := claimsWithRole("x")

	_, err := r.Resolve(context.Background(), claims, false)
	require.NoError(t, err)

	// Same epoch, so only skipCache can surface the changed policy.
	lister.policies = []PolicyView{{ID: "p1", Priority: 1, AllowedGroupIDs: []string{"group-new"}}}
	set, err := r.Resolve(context.Background(), claims, true)
	require.NoError(t, err)
	_, ok := set["group-new"]
	assert.True(t, ok)
}

func TestResolver_MissingClaimFailsEveryMatcherExceptExists(t *testing.T) {
	lister := &fakePolicyLister{
		policies: []PolicyView{
			{
				ID:              "p1",
				ClaimMatchers:   []domain.ClaimMatcher{{JSONPath: "nickname", Operator: domain.OpEquals, Value: "x"}},
				AllowedGroupIDs: []string{"group-1"},
			},
		},
	}
	r := New(Config{}, lister, nil)

	set, err := r.Resolve(context.Background(), &auth.Claims{Subject: "u", Raw: map[string]any{}}, false)
	require.NoError(t, err)
	assert.Empty(t, set)
}
