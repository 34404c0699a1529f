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

package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

func TestClient_ListTools_PropagatesBearerTokenAndDecodesManifests(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]ToolManifest{{ToolID: "t1", Name: "get_widget"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	tools, err := c.ListTools(context.Background(), "tok123")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", gotAuth)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_widget", tools[0].Name)
}

func TestClient_ListTools_UnauthorizedMapsToAuthKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ListTools(context.Background(), "bad-token")
	assert.Error(t, err)
	assert.Equal(t, kerrors.KindAuth, kerrors.KindOf(err))
}

func TestClient_CallTool_SendsToolIDAndArguments(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(CallResult{ToolID: "t1", Status: "completed", Result: map[string]any{"ok": true}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.CallTool(context.Background(), "tok", "t1", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, "t1", gotBody["tool_id"])
}

func TestClient_Subscribe_DeliversToolListUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()
		fmt.Fprintf(w, "event: tool_list\ndata: {\"type\":\"updated\",\"tools\":[{\"tool_id\":\"t1\",\"name\":\"x\"}]}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	updates := make(chan ToolListUpdate, 4)
	go func() {
		_ = c.Subscribe(ctx, "tok", func(u ToolListUpdate) { updates <- u })
	}()

	select {
	case u := <-updates:
		assert.Equal(t, "updated", u.Type)
		require.Len(t, u.Tools, 1)
		assert.Equal(t, "t1", u.Tools[0].ToolID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool_list update")
	}
}

func TestCache_SetAndGetRoundTrip(t *testing.T) {
	c := NewCache()
	tools, updated := c.Get()
	assert.Nil(t, tools)
	assert.True(t, updated.IsZero())

	c.Set([]ToolManifest{{ToolID: "t1"}})
	tools, updated = c.Get()
	require.Len(t, tools, 1)
	assert.False(t, updated.IsZero())
}
