// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kestrel Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelai/kestrel/pkg/config"
)

// NewRateLimiterFromConfig creates a RateLimiter from configuration. If
// rate limiting is disabled, returns a nil RateLimiter and a nil error —
// callers treat a nil limiter as "always allow".
//
// Example config:
//
//	rate_limiting:
//	  enabled: true
//	  backend: redis
//	  scope: user
//	  limits:
//	    - type: token
//	      window: day
//	      limit: 100000
func NewRateLimiterFromConfig(cfg *config.RateLimitConfig, redisClient *redis.Client) (RateLimiter, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}

	var store Store
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis client is required for rate_limiting.backend=redis")
		}
		store = NewRedisStore(redisClient)
	case "memory", "":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}

	return NewRateLimiterFromConfigWithStore(cfg, store)
}

// NewRateLimiterFromConfigWithStore creates a RateLimiter with a caller-
// supplied store. Useful for testing or sharing one store across limiters.
func NewRateLimiterFromConfigWithStore(cfg *config.RateLimitConfig, store Store) (RateLimiter, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	limits := make([]LimitRule, len(cfg.Limits))
	for i, l := range cfg.Limits {
		limits[i] = LimitRule{
			Type:   ParseLimitType(l.Type),
			Window: ParseTimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	limiterCfg := &Config{
		Enabled: cfg.IsEnabled(),
		Limits:  limits,
	}

	return NewRateLimiter(limiterCfg, store)
}

// ScopeFromConfig returns the rate limiting scope from configuration.
func ScopeFromConfig(cfg *config.RateLimitConfig) Scope {
	if cfg == nil || cfg.Scope == "" {
		return ScopeSession
	}
	return ParseScope(cfg.Scope)
}
