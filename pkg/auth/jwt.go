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

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator validates a bearer token and extracts its claims. Both
// the HTTP middleware and the WS handshake use this interface rather than
// *JWTValidator directly, so tests can substitute a stub.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// JWTValidatorConfig configures NewJWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// JWTValidator validates JWTs against a JWKS endpoint, auto-refreshing the
// key set on the configured interval to ride out provider key rotation
// without a restart.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWTValidator creates a validator that fetches and caches the JWKS at
// cfg.JWKSURL, refreshing no more often than cfg.RefreshInterval.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	ctx := context.Background()

	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// ValidateToken verifies tokenString's signature against the cached JWKS
// and checks expiration, issuer, and audience, returning the decoded
// Claims on success.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	raw := make(map[string]any)
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		if key, ok := pair.Key.(string); ok {
			raw[key] = pair.Value
		}
	}

	return &Claims{
		Subject: token.Subject(),
		Raw:     raw,
	}, nil
}

// Close releases the JWKS cache. The cache's background refresh goroutine
// stops when its context is canceled; JWTValidator owns no cancel func of
// its own since it was created with context.Background(), so Close is a
// documented no-op kept for interface symmetry with callers that defer it.
func (v *JWTValidator) Close() {}

var _ TokenValidator = (*JWTValidator)(nil)
