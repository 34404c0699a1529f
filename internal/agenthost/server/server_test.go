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

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/agenthost/connmanager"
	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/internal/agenthost/toolclient"
	"github.com/kestrelai/kestrel/internal/agenthost/wire"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

type stubValidator struct{ claims *auth.Claims }

func (s stubValidator) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	return s.claims, nil
}

func newTestConfig() Config {
	repo := eventstore.NewRepository(eventstore.NewMemoryStore(), nil, "Conversation", conversation.NewConversation, conversation.FoldConversation)
	toolsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))

	return Config{
		Validator:             stubValidator{claims: &auth.Claims{Subject: "user1"}},
		Conversations:         repo,
		Tools:                 toolclient.New(toolsServer.URL),
		Providers:             llm.NewFactory(),
		DefaultProviderConfig: llm.Config{ProviderType: "openai", Model: "gpt-4"},
		Manager:               connmanager.NewManager(),
	}
}

func TestRouter_HealthzIsUnauthenticated(t *testing.T) {
	router := NewRouter(newTestConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_WSRejectsMissingBearer(t *testing.T) {
	router := NewRouter(newTestConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_WSUpgradeSendsConnectionEstablished(t *testing.T) {
	router := NewRouter(newTestConfig())
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=faketoken&conversation_id=c1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wire.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, wire.TypeConnectionEstablished, msg.Type)
}
