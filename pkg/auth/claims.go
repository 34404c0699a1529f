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

// Package auth validates bearer tokens against a JWKS endpoint and carries
// the resulting claims through both binaries' request contexts. The same
// Claims value backs the connection manager's identity (spec §4.6) and the
// access resolver's claim matchers (spec §4.11), so it keeps both a
// flattened view of the common fields and the full decoded claim set for
// dot-notation path lookups.
package auth

import "context"

type contextKey string

const claimsContextKey contextKey = "kestrel_auth_claims"

// Claims is the validated identity extracted from a bearer token.
type Claims struct {
	// Subject is the token's `sub` claim — the caller's stable identity.
	Subject string `json:"sub"`

	// Raw holds every claim the token carried, including ones already
	// surfaced as named fields above. Claim matchers (spec §4.11) walk
	// this map with dot-notation paths like "org.roles" rather than a
	// fixed set of fields, so nothing here is dropped during extraction.
	Raw map[string]any `json:"-"`
}

// Get resolves a dot-notation path against Raw, e.g. "org.tier" looks up
// Raw["org"].(map[string]any)["tier"]. Returns (nil, false) if any segment
// is absent or not a nested object.
func (c *Claims) Get(path string) (any, bool) {
	if c == nil || c.Raw == nil {
		return nil, false
	}
	return lookupPath(c.Raw, path)
}

func lookupPath(m map[string]any, path string) (any, bool) {
	segments := splitPath(path)
	var cur any = m
	for _, seg := range segments {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}
	segments = append(segments, path[start:])
	return segments
}

// FromContext extracts the Claims stashed by HTTPMiddleware or the
// connection manager's WS handshake. Returns nil for unauthenticated
// contexts.
func FromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
