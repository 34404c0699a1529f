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
	"net/http"
	"strings"
)

// HTTPMiddleware extracts a bearer token from the Authorization header,
// validates it, and stashes the resulting Claims on the request context.
func HTTPMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"unauthorized: `+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrUnauthorized
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", ErrInvalidToken
	}
	return token, nil
}

// TokenFromWebSocketRequest extracts the bearer token from a WS upgrade
// request. Browsers cannot set arbitrary headers on a WebSocket handshake,
// so the connection manager (spec §4.6) also accepts the token as an
// `access_token` query parameter, falling back to the Authorization header
// for non-browser clients.
func TokenFromWebSocketRequest(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return bearerToken(r)
}

// RequireClaim creates middleware that 403s unless claims.Get(path) equals
// one of the allowed values. Authentication must already have populated
// the request context via HTTPMiddleware.
func RequireClaim(path string, allowed ...string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		allowedSet[v] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := FromContext(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			val, ok := claims.Get(path)
			if !ok {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			str, ok := val.(string)
			if !ok || !allowedSet[str] {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
