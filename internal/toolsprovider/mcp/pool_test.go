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

package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Get_DialsOnceThenReusesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name: widgets\ntransport: streamable_http\nurl: http://upstream.example\n"))
	}))
	defer srv.Close()

	dials := 0
	pool := NewPool()
	pool.dial = func(m manifest) (session, error) {
		dials++
		assert.Equal(t, "widgets", m.Name)
		return &fakeSession{callResult: textResult("{}")}, nil
	}

	sess1, err := pool.Get(context.Background(), "client", "1.0", "src1", srv.URL, domain.AuthConfig{})
	require.NoError(t, err)
	sess2, err := pool.Get(context.Background(), "client", "1.0", "src1", srv.URL, domain.AuthConfig{})
	require.NoError(t, err)

	assert.Same(t, sess1, sess2)
	assert.Equal(t, 1, dials)
}

func TestPool_Invalidate_ForcesRedial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name: widgets\ntransport: streamable_http\nurl: http://upstream.example\n"))
	}))
	defer srv.Close()

	dials := 0
	pool := NewPool()
	pool.dial = func(m manifest) (session, error) {
		dials++
		return &fakeSession{callResult: textResult("{}")}, nil
	}

	_, err := pool.Get(context.Background(), "client", "1.0", "src1", srv.URL, domain.AuthConfig{})
	require.NoError(t, err)
	pool.Invalidate("src1")
	_, err = pool.Get(context.Background(), "client", "1.0", "src1", srv.URL, domain.AuthConfig{})
	require.NoError(t, err)

	assert.Equal(t, 2, dials)
}

func TestPool_Get_UnsupportedTransportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name: widgets\ntransport: carrier-pigeon\n"))
	}))
	defer srv.Close()

	pool := NewPool()
	_, err := pool.Get(context.Background(), "client", "1.0", "src1", srv.URL, domain.AuthConfig{})
	assert.Error(t, err)
}
