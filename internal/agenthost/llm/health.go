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

package llm

import (
	"context"
	"sync"
	"time"
)

// DefaultHealthCacheTTL is how long a HealthCheck result is reused before
// the next call re-probes the backend (SPEC_FULL.md §4.1 supplement).
const DefaultHealthCacheTTL = 60 * time.Second

// nowFunc is overridden in tests to avoid a real time dependency.
var nowFunc = time.Now

// CachedProvider wraps a Provider so HealthCheck results are memoized for
// TTL, sparing a hot connection-accept path from round-tripping to the
// backend on every reconnect.
type CachedProvider struct {
	Provider
	ttl time.Duration

	mu       sync.Mutex
	cachedAt time.Time
	cached   HealthStatus
	hasValue bool
}

// NewCachedProvider wraps p with a TTL health-check cache. ttl <= 0 uses
// DefaultHealthCacheTTL.
func NewCachedProvider(p Provider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultHealthCacheTTL
	}
	return &CachedProvider{Provider: p, ttl: ttl}
}

func (c *CachedProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	c.mu.Lock()
	if c.hasValue && nowFunc().Sub(c.cachedAt) < c.ttl {
		status := c.cached
		c.mu.Unlock()
		return status, nil
	}
	c.mu.Unlock()

	status, err := c.Provider.HealthCheck(ctx)
	if err != nil {
		return status, err
	}

	c.mu.Lock()
	c.cached = status
	c.cachedAt = nowFunc()
	c.hasValue = true
	c.mu.Unlock()
	return status, nil
}
