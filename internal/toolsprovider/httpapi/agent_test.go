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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/toolsprovider/access"
	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/internal/toolsprovider/circuitbreaker"
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/internal/toolsprovider/executor"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/observability"
)

type stubValidator struct{ claims *auth.Claims }

func (s stubValidator) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	return s.claims, nil
}

type fakeTools map[string]catalog.ToolRecord

func (f fakeTools) ListTools(ctx context.Context) (map[string]catalog.ToolRecord, error) {
	return map[string]catalog.ToolRecord(f), nil
}

type fakeGroups map[string]catalog.GroupRecord

func (f fakeGroups) GetGroup(ctx context.Context, id string) (catalog.GroupRecord, bool, error) {
	g, ok := f[id]
	return g, ok, nil
}

type fakePolicies []access.PolicyView

func (f fakePolicies) ActivePolicies(ctx context.Context) ([]access.PolicyView, int64, error) {
	return []access.PolicyView(f), 1, nil
}

func widgetSchema() map[string]any {
	return map[string]any{"type": "object"}
}

func testHandlers(t *testing.T, upstream *httptest.Server, groupID, toolID string) (*AgentHandlers, *auth.Claims) {
	t.Helper()

	tools := fakeTools{
		toolID: {
			ToolID: toolID, SourceID: "src1", SourceEnabled: true,
			ToolName: "get_widget", Description: "fetch a widget",
			InputSchema: widgetSchema(),
			Profile: domain.ExecutionProfile{
				Mode: domain.ModeSyncHTTP, Method: http.MethodGet,
				URLTemplate: upstream.URL + "/widgets",
			},
			IsEnabled: true, Status: domain.ToolStatusActive,
		},
	}
	groups := fakeGroups{
		groupID: {GroupID: groupID, IsActive: true, ExplicitToolIDs: []string{toolID}},
	}
	claims := &auth.Claims{Subject: "user-1", Raw: map[string]any{"role": "viewer"}}
	policies := fakePolicies{
		{ID: "p1", AllowedGroupIDs: []string{groupID}, Priority: 1, ClaimMatchers: []domain.ClaimMatcher{
			{JSONPath: "role", Operator: domain.OpExists},
		}},
	}

	accessResolver := access.New(access.Config{}, policies, nil)
	catalogResolver := catalog.New(tools, groups)
	cat := NewCatalog(accessResolver, catalogResolver)

	exec := executor.New(executor.NewValidator(), nil,
		circuitbreaker.NewManager(circuitbreaker.Options{}, nil),
		httpclient.New(httpclient.WithMaxRetries(0)),
		observability.NoopMetrics{})

	notifier := catalog.NewNotifier()
	return NewAgentHandlers(cat, exec, notifier, 0), claims
}

func TestAgentHandlers_ListTools_ReturnsResolvedManifest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	handlers, claims := testHandlers(t, upstream, "g1", "src1:get_widget")

	req := httptest.NewRequest(http.MethodGet, "/agent/tools", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()

	handlers.ListTools(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var manifests []ToolManifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifests))
	require.Len(t, manifests, 1)
	assert.Equal(t, "get_widget", manifests[0].Name)
	assert.Equal(t, "src1:get_widget", manifests[0].ToolID)
}

func TestAgentHandlers_Call_ExecutesAndReturnsCompleted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	handlers, claims := testHandlers(t, upstream, "g1", "src1:get_widget")

	body := strings.NewReader(`{"tool_id":"src1:get_widget","arguments":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/agent/tools/call", body)
	req.Header.Set("Authorization", "Bearer agent-token")
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()

	handlers.Call(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp callToolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "src1:get_widget", resp.ToolID)
}

func TestAgentHandlers_Call_ForbiddenWhenToolNotInCatalog(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	handlers, claims := testHandlers(t, upstream, "g1", "src1:get_widget")

	body := strings.NewReader(`{"tool_id":"does-not-exist","arguments":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/agent/tools/call", body)
	req.Header.Set("Authorization", "Bearer agent-token")
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()

	handlers.Call(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
