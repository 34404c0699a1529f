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

// Package tokenexchange implements the RFC 8693 OAuth2 Token Exchange
// client (spec §4.8): it converts a user's bearer token into one scoped to
// a specific upstream audience, with a TTL-bounded cache (Redis in
// production) and a
// singleflight-coalesced refresh path so concurrent calls for the same
// (subject, audience, scopes) don't hammer the token endpoint.
package tokenexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

const grantType = "urn:ietf:params:oauth:grant-type:token-exchange"
const subjectTokenType = "access_token"

// Config configures an Exchanger.
type Config struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	// HardCapTTL bounds the cached token lifetime regardless of expires_in,
	// so a misbehaving upstream can't pin a token in cache indefinitely.
	HardCapTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.HardCapTTL <= 0 {
		c.HardCapTTL = 15 * time.Minute
	}
	return c
}

// Cache is the key-value store backing the exchanger's token cache.
// Implemented by tokenexchange.RedisCache in production.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Exchanger performs RFC 8693 token exchange.
type Exchanger struct {
	cfg    Config
	http   *httpclient.Client
	cache  Cache
	single singleflight.Group
}

// New constructs an Exchanger. httpClient defaults to a fresh
// httpclient.Client with SmartRetry-eligible status handling when nil.
func New(cfg Config, httpClient *httpclient.Client, cache Cache) *Exchanger {
	if httpClient == nil {
		httpClient = httpclient.New()
	}
	return &Exchanger{cfg: cfg.withDefaults(), http: httpClient, cache: cache}
}

// Result is an exchanged token and the time its cached entry expires.
type Result struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Exchange returns an upstream-scoped access token for subjectToken,
// audience, and scopes, serving from cache when a live entry exists and
// coalescing concurrent misses for the same key via singleflight.
func (e *Exchanger) Exchange(ctx context.Context, subjectToken, subject, audience string, scopes []string) (Result, error) {
	key := cacheKey(subject, audience, scopes)

	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			return decodeCached(cached)
		}
	}

	v, err, _ := e.single.Do(key, func() (any, error) {
		return e.exchangeLive(ctx, subjectToken, audience, scopes, key)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Exchanger) exchangeLive(ctx context.Context, subjectToken, audience string, scopes []string, cacheKey string) (Result, error) {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("subject_token", subjectToken)
	form.Set("subject_token_type", subjectTokenType)
	if audience != "" {
		form.Set("audience", audience)
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	form.Set("client_id", e.cfg.ClientID)
	form.Set("client_secret", e.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, kerrors.Wrap(kerrors.KindTokenExchange, "build token exchange request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.http.Do(req)
	if err != nil && resp == nil {
		return Result{}, kerrors.Wrap(kerrors.KindTokenExchange, "token exchange request failed", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, kerrors.Wrap(kerrors.KindTokenExchange, "decode token exchange response", err)
	}
	if resp.StatusCode >= 400 {
		kind := kerrors.KindTokenExchange
		if resp.StatusCode >= 500 {
			kind = kerrors.KindServerError
		}
		return Result{}, kerrors.New(kind, fmt.Sprintf("token exchange failed with status %d", resp.StatusCode))
	}
	if body.AccessToken == "" {
		return Result{}, kerrors.New(kerrors.KindTokenExchange, "token exchange response missing access_token")
	}

	ttl := time.Duration(body.ExpiresIn)*time.Second - 30*time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if ttl > e.cfg.HardCapTTL {
		ttl = e.cfg.HardCapTTL
	}

	result := Result{AccessToken: body.AccessToken, ExpiresAt: time.Now().Add(ttl)}
	if e.cache != nil {
		if err := e.cache.Set(ctx, cacheKey, encodeCached(result), ttl); err != nil {
			// cache is best-effort: a write failure degrades to re-exchanging
			// on every call, not a hard failure of this request.
			_ = err
		}
	}
	return result, nil
}

func cacheKey(subject, audience string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return fmt.Sprintf("tokenexchange:%s:%s:%s", subject, audience, strings.Join(sorted, ","))
}

func encodeCached(r Result) string {
	return r.AccessToken + "|" + strconv.FormatInt(r.ExpiresAt.Unix(), 10)
}

func decodeCached(s string) (Result, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 {
		return Result{}, kerrors.New(kerrors.KindTokenExchange, "malformed cached token entry")
	}
	unixSeconds, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Result{}, kerrors.New(kerrors.KindTokenExchange, "malformed cached token expiry")
	}
	return Result{AccessToken: parts[0], ExpiresAt: time.Unix(unixSeconds, 0)}, nil
}
