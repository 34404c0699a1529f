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

package auth

import (
	"fmt"
	"time"

	"github.com/kestrelai/kestrel/pkg/config"
)

// NewValidatorFromConfig creates a TokenValidator from configuration.
// Returns (nil, nil) if authentication is not enabled — callers must treat
// a nil validator as "accept every request unauthenticated", which is only
// appropriate for local development.
func NewValidatorFromConfig(cfg *config.AuthConfig) (TokenValidator, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	refresh, err := time.ParseDuration(cfg.JWKSCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth.jwks_cache_ttl: %w", err)
	}

	validator, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		RefreshInterval: refresh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}

	return validator, nil
}
