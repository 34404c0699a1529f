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

// Package server wires the Agent Host's HTTP surface (spec §6): a
// WebSocket endpoint that hands each connection to its own
// orchestrator.Orchestrator, plus the ambient health/metrics endpoints
// every Kestrel binary exposes.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/connmanager"
	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/internal/agenthost/orchestrator"
	"github.com/kestrelai/kestrel/internal/agenthost/toolclient"
	"github.com/kestrelai/kestrel/internal/agenthost/wire"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/observability"
)

// Config configures NewRouter.
type Config struct {
	Validator     auth.TokenValidator
	Conversations *eventstore.Repository[conversation.Conversation]
	Templates     orchestrator.TemplateLookup
	Tools         *toolclient.Client
	Providers     *llm.Factory
	Metrics       *observability.Metrics
	Logger        *slog.Logger

	DefaultProviderConfig llm.Config
	ServerCapabilities    []string
	AvailableModels       []string
	AllowModelSelection   bool

	Manager *connmanager.Manager
}

// NewRouter builds the Agent Host's full HTTP surface: unauthenticated
// health/metrics, and a bearer-authenticated WebSocket upgrade per spec
// §6/§4.6.
func NewRouter(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", healthzHandler)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	h := &wsHandler{cfg: cfg, cancels: make(map[string]context.CancelFunc)}
	cfg.Manager.OnDisconnect(h.onDisconnect)
	r.Group(func(r chi.Router) {
		r.Get("/ws", h.handle)
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler tracks one cancel func per live connection so the single
// OnDisconnect dispatcher registered in NewRouter can stop that
// connection's orchestrator and background subscriptions, however the
// disconnect was triggered (client close, heartbeat timeout, idle
// reaper) — without registering a new callback per connection, which
// would never be cleaned up.
type wsHandler struct {
	cfg Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (h *wsHandler) onDisconnect(c *connmanager.Connection, _ wire.CloseReason) {
	h.mu.Lock()
	cancel, ok := h.cancels[c.ID]
	delete(h.cancels, c.ID)
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

// handle authenticates the handshake (spec §4.6 accepts the bearer token
// either as an Authorization header or an access_token query parameter,
// since browsers cannot set arbitrary headers on a WS upgrade), upgrades
// the connection, registers it with the connection manager, and hands it
// to a fresh orchestrator.
func (h *wsHandler) handle(w http.ResponseWriter, r *http.Request) {
	token, err := auth.TokenFromWebSocketRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	claims, err := h.cfg.Validator.ValidateToken(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Error("websocket upgrade failed", "error", err)
		}
		return
	}

	connID := uuid.NewString()
	h.cfg.Manager.Connect(connID, claims.Subject, conversationID, conn)

	orch := orchestrator.New(orchestrator.Config{
		Conversations:         h.cfg.Conversations,
		Templates:             h.cfg.Templates,
		Tools:                 h.cfg.Tools,
		Providers:             h.cfg.Providers,
		ServerCapabilities:    h.cfg.ServerCapabilities,
		AvailableModels:       h.cfg.AvailableModels,
		AllowModelSelection:   h.cfg.AllowModelSelection,
		DefaultProviderConfig: h.cfg.DefaultProviderConfig,
	}, h.cfg.Manager, connID, claims.Subject, conversationID, token)

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancels[connID] = cancel
	h.mu.Unlock()

	if err := ensureConversation(ctx, h.cfg.Conversations, conversationID, claims.Subject); err != nil {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Error("failed to initialize conversation", "conversation_id", conversationID, "error", err)
		}
		h.cfg.Manager.Disconnect(connID, wire.ReasonServerShutdown, websocket.CloseInternalServerErr)
		return
	}

	if err := orch.Connect(ctx); err != nil {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Error("orchestrator connect failed", "connection_id", connID, "error", err)
		}
		h.cfg.Manager.Disconnect(connID, wire.ReasonServerShutdown, websocket.CloseInternalServerErr)
		return
	}

	go readLoop(ctx, h.cfg.Manager, conn, connID, orch)
}

// ensureConversation creates the aggregate stream on first connect; a
// pre-existing conversation is left untouched (spec §4.3: Create may
// only run once per stream).
func ensureConversation(ctx context.Context, repo *eventstore.Repository[conversation.Conversation], conversationID, userID string) error {
	loaded, err := repo.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if loaded.Version > 0 {
		return nil
	}
	events, err := loaded.State.Create(userID, "")
	if err != nil {
		return err
	}
	_, err = repo.Save(ctx, conversationID, loaded.Version, events)
	return err
}

// readLoop pumps inbound client frames to the orchestrator until the
// connection closes (spec §6's inbound message types). It reads directly
// off the raw *websocket.Conn — connmanager's Socket abstraction only
// narrows the write side, since reads are never fanned out to more than
// one goroutine per connection the way writes are.
func readLoop(ctx context.Context, mgr *connmanager.Manager, conn *websocket.Conn, connID string, orch *orchestrator.Orchestrator) {
	defer mgr.Disconnect(connID, wire.ReasonUserLogout, websocket.CloseNormalClosure)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		mgr.Touch(connID)

		switch frame.Type {
		case wire.TypeClientMessage:
			_ = orch.HandleClientMessage(ctx, frame.Payload.Content)
		case wire.TypeClientWidgetResp:
			_ = orch.HandleWidgetResponse(ctx, frame.Payload.ItemID, frame.Payload.Value)
		case wire.TypeClientFlowStart:
			_ = orch.HandleFlowControl(ctx, "start")
		case wire.TypeClientFlowPause:
			_ = orch.HandleFlowControl(ctx, "pause")
		case wire.TypeClientFlowCancel:
			_ = orch.HandleFlowControl(ctx, "cancel")
		case wire.TypeClientModelChange:
			_ = orch.HandleModelChange(ctx, frame.Payload.ModelID)
		case wire.TypeClientPong:
			mgr.HandlePong(connID)
		}
	}
}

// inboundFrame is a superset decode target for every client→server
// payload shape (spec §6); unused fields are simply left zero for a
// given message type.
type inboundFrame struct {
	Type    string `json:"type"`
	Payload struct {
		Content  string `json:"content"`
		WidgetID string `json:"widgetId"`
		ItemID   string `json:"itemId"`
		Value    any    `json:"value"`
		ModelID  string `json:"modelId"`
	} `json:"payload"`
}
