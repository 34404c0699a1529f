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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

func testAdminHandlers() (*AdminHandlers, *eventstore.Repository[domain.ToolGroup]) {
	store := eventstore.NewMemoryStore()
	sources := eventstore.NewRepository(store, nil, "upstream_source", domain.NewUpstreamSource, domain.FoldUpstreamSource)
	groups := eventstore.NewRepository(store, nil, "tool_group", domain.NewToolGroup, domain.FoldToolGroup)
	policies := eventstore.NewRepository(store, nil, "access_policy", domain.NewAccessPolicy, domain.FoldAccessPolicy)
	return NewAdminHandlers(sources, groups, policies), groups
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminHandlers_CreateGroupThenActivate(t *testing.T) {
	handlers, groups := testAdminHandlers()

	body := strings.NewReader(`{"name":"billing","selectors":[{"name_pattern":"get_*"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/groups", body)
	rec := httptest.NewRecorder()
	handlers.CreateGroup(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	loaded, err := groups.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "billing", loaded.State.Name)
	assert.False(t, loaded.State.IsActive)

	req = httptest.NewRequest(http.MethodPost, "/internal/groups/"+id+"/activate", nil)
	req = withURLParam(req, "id", id)
	rec = httptest.NewRecorder()
	handlers.MutateGroup("activate")(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	loaded, err = groups.Load(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, loaded.State.IsActive)
}

func TestAdminHandlers_MutateGroup_UnknownActionRejected(t *testing.T) {
	handlers, _ := testAdminHandlers()

	body := strings.NewReader(`{"name":"billing"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/groups", body)
	rec := httptest.NewRecorder()
	handlers.CreateGroup(rec, req)
	var created map[string]string
	json.Unmarshal(rec.Body.Bytes(), &created)
	id := created["id"]

	req = httptest.NewRequest(http.MethodPost, "/internal/groups/"+id+"/bogus", nil)
	req = withURLParam(req, "id", id)
	rec = httptest.NewRecorder()
	handlers.MutateGroup("bogus")(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandlers_RegisterSource(t *testing.T) {
	handlers, _ := testAdminHandlers()

	body := strings.NewReader(`{"name":"billing-api","descriptor_url":"https://api.example.com/openapi.json","source_type":"openapi"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/sources", body)
	rec := httptest.NewRecorder()
	handlers.RegisterSource(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}
