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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
)

// DefaultCacheTTL is the resolved-set cache lifetime when Config doesn't
// override it (spec §4.11 step 3: "TTL configurable, default 60 s").
const DefaultCacheTTL = 60 * time.Second

// PolicyView is the read side of an AccessPolicy the resolver needs:
// everything domain.AccessPolicy holds, without a dependency on how it is
// stored (event-store fold on the hot path, or a projected read model).
type PolicyView struct {
	ID              string
	ClaimMatchers   []domain.ClaimMatcher
	AllowedGroupIDs []string
	Priority        int
}

// PolicyLister returns every active policy plus an epoch that changes
// whenever the active-policy set changes, so cached resolutions
// automatically invalidate on policy edits without an explicit bust.
type PolicyLister interface {
	ActivePolicies(ctx context.Context) (policies []PolicyView, epoch int64, err error)
}

// Cache is the key-value store backing resolved-set caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Config configures a Resolver.
type Config struct {
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Resolver implements resolve_agent_access (spec §4.11).
type Resolver struct {
	cfg      Config
	policies PolicyLister
	cache    Cache
}

// New constructs a Resolver. cache may be nil to disable caching entirely
// (every call re-evaluates policies).
func New(cfg Config, policies PolicyLister, cache Cache) *Resolver {
	return &Resolver{cfg: cfg.withDefaults(), policies: policies, cache: cache}
}

// Resolve returns the set of tool-group IDs claims is granted access to.
// skipCache forces a live re-evaluation, bypassing and then refreshing any
// cached entry.
func (r *Resolver) Resolve(ctx context.Context, claims *auth.Claims, skipCache bool) (map[string]struct{}, error) {
	policies, epoch, err := r.policies.ActivePolicies(ctx)
	if err != nil {
		return nil, err
	}

	key := cacheKey(claims, epoch)

	if !skipCache && r.cache != nil {
		if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			if set, err := decodeGroupSet(cached); err == nil {
				return set, nil
			}
		}
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].Priority > policies[j].Priority })

	result := make(map[string]struct{})
	for _, p := range policies {
		if !allMatchersPass(p.ClaimMatchers, claims) {
			continue
		}
		for _, gid := range p.AllowedGroupIDs {
			result[gid] = struct{}{}
		}
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, encodeGroupSet(result), r.cfg.CacheTTL); err != nil {
			// best-effort: a cache-write failure just means the next call
			// re-evaluates policies instead of hitting a stale/missing entry.
			_ = err
		}
	}

	return result, nil
}

func allMatchersPass(matchers []domain.ClaimMatcher, claims *auth.Claims) bool {
	for _, m := range matchers {
		if !m.Evaluate(claims.Get) {
			return false
		}
	}
	return true
}

// canonicalClaims is the subset of claims the cache key is derived from
// (spec §4.11 step 1): "sub, realm_access.roles, groups, email".
type canonicalClaims struct {
	Sub              string `json:"sub"`
	RealmAccessRoles any    `json:"realm_access_roles"`
	Groups           any    `json:"groups"`
	Email            any    `json:"email"`
	Epoch            int64  `json:"epoch"`
}

func cacheKey(claims *auth.Claims, epoch int64) string {
	c := canonicalClaims{Epoch: epoch}
	if claims != nil {
		c.Sub = claims.Subject
		if v, ok := claims.Get("realm_access.roles"); ok {
			c.RealmAccessRoles = v
		}
		if v, ok := claims.Get("groups"); ok {
			c.Groups = v
		}
		if v, ok := claims.Get("email"); ok {
			c.Email = v
		}
	}
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return "access:" + hex.EncodeToString(sum[:])
}

func encodeGroupSet(set map[string]struct{}) string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeGroupSet(s string) (map[string]struct{}, error) {
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
