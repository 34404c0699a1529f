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

// Package wire defines the Agent Host's framed-JSON message protocol
// (spec §6): every message carries a type, a payload, and optional
// conversation/message identity and timestamp, exchanged over either a
// WebSocket connection or an SSE stream.
package wire

// Inbound message types (client → server).
const (
	TypeClientMessage     = "client.message"
	TypeClientWidgetResp  = "client.widget.response"
	TypeClientFlowStart   = "client.flow.start"
	TypeClientFlowPause   = "client.flow.pause"
	TypeClientFlowCancel  = "client.flow.cancel"
	TypeClientModelChange = "client.model.change"
	TypeClientPong        = "system.pong"
)

// Outbound message types (server → client).
const (
	TypeConnectionEstablished = "system.connection.established"
	TypePing                  = "system.ping"
	TypeConnectionClose       = "system.connection.close"
	TypeError                 = "system.error"
	TypeChatInputEnabled      = "control.chatInput.enabled"
	TypeContentChunk          = "data.content.chunk"
	TypeContentComplete       = "data.content.complete"
	TypeAssistantThinking     = "event.assistant_thinking"
	TypeToolExecuting         = "event.tool_executing"
	TypeToolResult            = "event.tool_result"
	TypeMessageComplete       = "event.message_complete"
	TypeItemContext           = "control.item_context"
	TypeWidgetShow            = "data.widget.show"
	TypeExpirationWarning     = "control.item_expiration_warning"
)

// CloseReason is the closed set external "reason" strings are mapped to
// (spec §4.6, §6); unknown reasons fall back to ReasonIdleTimeout.
type CloseReason string

const (
	ReasonUserLogout           CloseReason = "user_logout"
	ReasonSessionExpired       CloseReason = "session_expired"
	ReasonServerShutdown       CloseReason = "server_shutdown"
	ReasonConversationComplete CloseReason = "conversation_complete"
	ReasonIdleTimeout          CloseReason = "idle_timeout"
	ReasonHeartbeatTimeout     CloseReason = "heartbeat_timeout"
)

// NormalizeCloseReason maps an external reason string onto the closed set,
// falling back to ReasonIdleTimeout for anything unrecognized (spec §4.6).
func NormalizeCloseReason(reason string) CloseReason {
	switch CloseReason(reason) {
	case ReasonUserLogout, ReasonSessionExpired, ReasonServerShutdown, ReasonConversationComplete, ReasonIdleTimeout, ReasonHeartbeatTimeout:
		return CloseReason(reason)
	default:
		return ReasonIdleTimeout
	}
}

// ErrorCategory discriminates a system.error's origin.
type ErrorCategory string

const (
	ErrorCategoryClient ErrorCategory = "client"
	ErrorCategoryServer ErrorCategory = "server"
)

// Message is the outer envelope every wire frame shares (spec §6).
type Message struct {
	Type           string `json:"type"`
	Payload        any    `json:"payload"`
	ConversationID string `json:"conversationId,omitempty"`
	ID             string `json:"id,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// Payload shapes, one per outbound message type named in spec §6.

type ConnectionEstablishedPayload struct {
	ConnectionID        string   `json:"connectionId"`
	ConversationID      string   `json:"conversationId"`
	UserID              string   `json:"userId"`
	ServerCapabilities  []string `json:"serverCapabilities"`
	CurrentModel        string   `json:"currentModel"`
	AvailableModels     []string `json:"availableModels"`
	AllowModelSelection bool     `json:"allowModelSelection"`
	ToolCount           int      `json:"toolCount"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ConnectionClosePayload struct {
	Reason CloseReason `json:"reason"`
	Code   int         `json:"code"`
}

type ErrorPayload struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	IsRetryable bool          `json:"isRetryable"`
}

type ChatInputEnabledPayload struct {
	Enabled bool `json:"enabled"`
}

type ContentChunkPayload struct {
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Final     bool   `json:"final"`
}

type ContentCompletePayload struct {
	MessageID   string `json:"messageId"`
	Role        string `json:"role"`
	FullContent string `json:"fullContent"`
}

type ToolExecutingPayload struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
}

type ToolResultPayload struct {
	CallID          string `json:"call_id"`
	ToolName        string `json:"tool_name"`
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

type MessageCompletePayload struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

type ItemContextPayload struct {
	ItemIndex       int    `json:"itemIndex"`
	Total           int    `json:"total"`
	Title           string `json:"title"`
	EnableChatInput bool   `json:"enableChatInput"`
}

type WidgetShowPayload struct {
	ItemID     string         `json:"itemId"`
	WidgetType string         `json:"widget_type"`
	Props      map[string]any `json:"props"`
}

type ExpirationWarningPayload struct {
	ItemID           string `json:"itemId"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

// Payload shapes for inbound (client→server) messages.

type ClientMessagePayload struct {
	Content string `json:"content"`
}

type ClientWidgetResponsePayload struct {
	WidgetID string `json:"widgetId"`
	ItemID   string `json:"itemId"`
	Value    any    `json:"value"`
}

type ClientModelChangePayload struct {
	ModelID string `json:"modelId"`
}
