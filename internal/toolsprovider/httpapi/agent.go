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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/internal/toolsprovider/executor"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// AgentHandlers serves the three agent-facing endpoints (spec §6).
type AgentHandlers struct {
	catalog  *Catalog
	executor *executor.Executor
	notifier *catalog.Notifier

	// heartbeatInterval paces GET /agent/sse's heartbeat events, keeping
	// the connection alive through intermediate proxies the way the
	// connection manager's own WS heartbeat does (spec §4.6).
	heartbeatInterval time.Duration
}

// NewAgentHandlers constructs AgentHandlers.
func NewAgentHandlers(catalog *Catalog, exec *executor.Executor, notifier *catalog.Notifier, heartbeatInterval time.Duration) *AgentHandlers {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &AgentHandlers{catalog: catalog, executor: exec, notifier: notifier, heartbeatInterval: heartbeatInterval}
}

// ListTools implements GET /agent/tools.
func (h *AgentHandlers) ListTools(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	tools, err := h.catalog.ResolveTools(r.Context(), claims, false)
	if err != nil {
		writeError(w, err)
		return
	}

	manifests := make([]ToolManifest, 0, len(tools))
	for id, tool := range tools {
		manifests = append(manifests, toManifest(id, tool))
	}
	writeJSON(w, http.StatusOK, manifests)
}

// Stream implements GET /agent/sse: a connected event, a heartbeat every
// heartbeatInterval, and a tool_list/groups_updated push whenever
// catalog.Notifier observes an invalidation (spec §4.12).
func (h *AgentHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, kerrors.New(kerrors.KindUnknown, "streaming unsupported"))
		return
	}
	claims := auth.FromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subscriberID := uuid.NewString()
	notifications := h.notifier.Subscribe(subscriberID)
	defer h.notifier.Unsubscribe(subscriberID)

	writeSSE(w, "connected", map[string]any{"subject": claims.Subject})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeSSE(w, "heartbeat", map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		case note, ok := <-notifications:
			if !ok {
				return
			}
			tools, err := h.catalog.ResolveTools(r.Context(), claims, true)
			if err != nil {
				writeSSE(w, "error", map[string]any{"error": string(kerrors.KindOf(err))})
				flusher.Flush()
				continue
			}
			manifests := make([]ToolManifest, 0, len(tools))
			for id, tool := range tools {
				manifests = append(manifests, toManifest(id, tool))
			}
			writeSSE(w, "tool_list", map[string]any{"type": string(note.Type), "tools": manifests})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// callToolRequest is the POST /agent/tools/call body (spec §6). Callers may
// address a tool by either field; ToolID takes precedence when both are
// set.
type callToolRequest struct {
	ToolID    string         `json:"tool_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResponse struct {
	ToolID          string `json:"tool_id"`
	Status          string `json:"status"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	UpstreamStatus  int    `json:"upstream_status,omitempty"`
}

// Call implements POST /agent/tools/call.
func (h *AgentHandlers) Call(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())

	var req callToolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tools, err := h.catalog.ResolveTools(r.Context(), claims, false)
	if err != nil {
		writeError(w, err)
		return
	}

	toolID, tool, ok := lookupTool(tools, req.ToolID, req.Name)
	if !ok {
		writeError(w, kerrors.New(kerrors.KindForbidden, "tool not in caller's resolved catalog"))
		return
	}

	agentToken, err := bearerFromRequest(r)
	if err != nil {
		writeError(w, kerrors.Wrap(kerrors.KindAuth, "missing bearer token", err))
		return
	}

	result := h.executor.Execute(r.Context(), executor.Request{
		ToolID:         toolID,
		ToolName:       tool.ToolName,
		InputSchema:    tool.InputSchema,
		Profile:        tool.Profile,
		Arguments:      req.Arguments,
		AgentToken:     agentToken,
		Subject:        claims.Subject,
		SourceID:       tool.SourceID,
		ValidateSchema: true,
	})

	resp := callToolResponse{
		ToolID:          toolID,
		Status:          callStatus(result.Status),
		Result:          result.Result,
		ExecutionTimeMs: result.ExecutionTimeMs,
		UpstreamStatus:  result.UpstreamStatus,
	}
	status := http.StatusOK
	if result.Error != nil {
		resp.Error = result.Error.Message
		status = kerrors.New(result.Error.Kind, result.Error.Message).HTTPStatus()
	}
	writeJSON(w, status, resp)
}

// callStatus maps executor.Status onto the wire vocabulary spec §6 names
// ("completed" / "failed"), which differs from the executor's internal
// "ok" / "error" discriminator.
func callStatus(s executor.Status) string {
	if s == executor.StatusOK {
		return "completed"
	}
	return "failed"
}

func lookupTool(tools map[string]catalog.ToolRecord, toolID, name string) (string, catalog.ToolRecord, bool) {
	if toolID != "" {
		tool, ok := tools[toolID]
		return toolID, tool, ok
	}
	for id, tool := range tools {
		if tool.ToolName == name {
			return id, tool, true
		}
	}
	return "", catalog.ToolRecord{}, false
}

func bearerFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return "", kerrors.New(kerrors.KindAuth, "no bearer token on request")
	}
	return token, nil
}
