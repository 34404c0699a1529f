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

package tokenexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

func newTestExchanger(t *testing.T, handler http.HandlerFunc) (*Exchanger, *memoryCache) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cache := newMemoryCache()
	ex := New(Config{TokenEndpoint: server.URL, ClientID: "cid", ClientSecret: "secret"}, httpclient.New(httpclient.WithMaxRetries(0)), cache)
	return ex, cache
}

func TestExchanger_ExchangeSendsRFC8693Fields(t *testing.T) {
	var gotForm url.Values
	ex, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.Form
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "upstream-token", "expires_in": 300})
	})

	result, err := ex.Exchange(context.Background(), "user-jwt", "user-1", "https://api.example.com", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "upstream-token", result.AccessToken)

	assert.Equal(t, grantType, gotForm.Get("grant_type"))
	assert.Equal(t, "user-jwt", gotForm.Get("subject_token"))
	assert.Equal(t, subjectTokenType, gotForm.Get("subject_token_type"))
	assert.Equal(t, "https://api.example.com", gotForm.Get("audience"))
	assert.Equal(t, "read", gotForm.Get("scope"))
}

func TestExchanger_CachesAndAvoidsSecondCall(t *testing.T) {
	var calls int32
	ex, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 300})
	})

	ctx := context.Background()
	_, err := ex.Exchange(ctx, "jwt", "user-1", "aud", nil)
	require.NoError(t, err)
	_, err = ex.Exchange(ctx, "jwt", "user-1", "aud", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExchanger_4xxIsNotRetryable(t *testing.T) {
	ex, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_target"})
	})

	_, err := ex.Exchange(context.Background(), "jwt", "user-1", "aud", nil)
	require.Error(t, err)
	assert.Equal(t, kerrors.KindTokenExchange, kerrors.KindOf(err))
	assert.False(t, kerrors.IsRetryable(err))
}

func TestExchanger_5xxIsRetryable(t *testing.T) {
	ex, _ := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "upstream_down"})
	})

	_, err := ex.Exchange(context.Background(), "jwt", "user-1", "aud", nil)
	require.Error(t, err)
	assert.True(t, kerrors.IsRetryable(err))
}
