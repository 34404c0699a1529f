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

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/access"
	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/pkg/auth"
)

func TestRouter_HealthzIsUnauthenticated(t *testing.T) {
	router := NewRouter(Config{
		Validator: stubValidator{},
		Catalog:   NewCatalog(access.New(access.Config{}, fakePolicies{}, nil), catalog.New(fakeTools{}, fakeGroups{})),
		Notifier:  catalog.NewNotifier(),
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AgentToolsRejectsMissingBearer(t *testing.T) {
	router := NewRouter(Config{
		Validator: stubValidator{claims: &auth.Claims{Subject: "u1"}},
		Catalog:   NewCatalog(access.New(access.Config{}, fakePolicies{}, nil), catalog.New(fakeTools{}, fakeGroups{})),
		Notifier:  catalog.NewNotifier(),
	})

	req := httptest.NewRequest(http.MethodGet, "/agent/tools", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_AgentToolsSucceedsWithBearer(t *testing.T) {
	claims := &auth.Claims{Subject: "u1"}
	router := NewRouter(Config{
		Validator: stubValidator{claims: claims},
		Catalog:   NewCatalog(access.New(access.Config{}, fakePolicies{}, nil), catalog.New(fakeTools{}, fakeGroups{})),
		Notifier:  catalog.NewNotifier(),
	})

	req := httptest.NewRequest(http.MethodGet, "/agent/tools", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
