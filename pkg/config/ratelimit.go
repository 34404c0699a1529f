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

package config

import "fmt"

// RateLimitConfig is the on-disk shape of a pkg/ratelimit.Config. It is
// decoded separately from the limiter's own runtime Config so the rest of
// the YAML document stays free of ratelimit-internal types.
type RateLimitConfig struct {
	// Enabled is a pointer so "absent" (nil, defaults to enabled) is
	// distinguishable from an explicit `enabled: false`.
	Enabled *bool             `yaml:"enabled"`
	Scope   string            `yaml:"scope"`
	Backend string            `yaml:"backend"`
	Limits  []RateLimitRule   `yaml:"limits"`
}

// RateLimitRule is one window/limit pair.
type RateLimitRule struct {
	Type   string `yaml:"type"`
	Window string `yaml:"window"`
	Limit  int64  `yaml:"limit"`
}

// IsEnabled reports whether rate limiting is active, defaulting to true
// when the field was omitted from the document.
func (c *RateLimitConfig) IsEnabled() bool {
	if c == nil {
		return false
	}
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c *RateLimitConfig) setDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Scope == "" {
		c.Scope = "session"
	}
}

var validLimitTypes = map[string]bool{"token": true, "count": true}
var validWindows = map[string]bool{"minute": true, "hour": true, "day": true, "week": true, "month": true}

// Validate checks the limit rules when rate limiting is enabled. A disabled
// config is always valid regardless of its (possibly empty) rule set.
func (c *RateLimitConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if len(c.Limits) == 0 {
		return fmt.Errorf("rate_limiting.limits must have at least one rule when enabled")
	}
	for i, l := range c.Limits {
		if !validLimitTypes[l.Type] {
			return fmt.Errorf("rate_limiting.limits[%d]: invalid type %q", i, l.Type)
		}
		if !validWindows[l.Window] {
			return fmt.Errorf("rate_limiting.limits[%d]: invalid window %q", i, l.Window)
		}
		if l.Limit <= 0 {
			return fmt.Errorf("rate_limiting.limits[%d]: limit must be positive", i)
		}
	}
	return nil
}
