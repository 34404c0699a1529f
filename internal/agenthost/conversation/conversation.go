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

// Package conversation is the Agent Host's event-sourced Conversation
// aggregate (spec §3, §4.3): an append-only message log plus status,
// folded the same way internal/toolsprovider/domain's aggregates are.
package conversation

import (
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// Role is a message's sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageStatus tracks a message's delivery outcome.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
)

// Status is the conversation's own lifecycle state.
type Status string

const (
	ConversationActive  Status = "active"
	ConversationDeleted Status = "deleted"
)

// ToolCall is one LLM-requested invocation attached to an assistant
// message.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// ToolResult is the outcome of executing one ToolCall, also attached to
// the assistant message that requested it.
type ToolResult struct {
	CallID          string
	Success         bool
	Result          any
	Error           string
	ExecutionTimeMs int64
}

// Message is one entry in Conversation.Messages (spec §3).
type Message struct {
	ID          string
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Status      MessageStatus
}

// Conversation is the aggregate root (spec §3).
type Conversation struct {
	ID           string
	UserID       string
	SystemPrompt string
	Messages     []Message
	Status       Status
	TemplateItem int

	exists bool
}

// NewConversation returns the zero aggregate state a fresh stream folds
// from.
func NewConversation() Conversation {
	return Conversation{}
}

const (
	EventConversationCreated  = "ConversationCreated"
	EventMessageAdded         = "MessageAdded"
	EventToolCallAdded        = "ToolCallAdded"
	EventToolResultAdded      = "ToolResultAdded"
	EventMessageStatusUpdated = "MessageStatusUpdated"
	EventMessagesCleared      = "MessagesCleared"
	EventConversationDeleted  = "ConversationDeleted"
	EventTemplateItemAdvanced = "TemplateItemAdvanced"
)

type ConversationCreated struct {
	UserID       string
	SystemPrompt string
}
type MessageAdded struct {
	ID      string
	Role    Role
	Content string
	Status  MessageStatus
}
type ToolCallAdded struct {
	MessageID string
	CallID    string
	Name      string
	Arguments map[string]any
}
type ToolResultAdded struct {
	MessageID       string
	CallID          string
	Success         bool
	Result          any
	Error           string
	ExecutionTimeMs int64
}
type MessageStatusUpdated struct {
	MessageID string
	Status    MessageStatus
}
type MessagesCleared struct {
	KeepSystem bool
}
type ConversationDeleted struct{}
type TemplateItemAdvanced struct{ Item int }

// Create starts a new conversation. Guard: a stream may only be created
// once (spec §4.3).
func (c Conversation) Create(userID, systemPrompt string) ([]eventstore.EventData, error) {
	if c.exists {
		return nil, kerrors.New(kerrors.KindValidation, "conversation already created")
	}
	return []eventstore.EventData{{Type: EventConversationCreated, Payload: ConversationCreated{UserID: userID, SystemPrompt: systemPrompt}}}, nil
}

// AddUserMessage appends a user turn. Guard: conversation must be active.
func (c Conversation) AddUserMessage(id, text string) ([]eventstore.EventData, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	return []eventstore.EventData{{Type: EventMessageAdded, Payload: MessageAdded{ID: id, Role: RoleUser, Content: text, Status: StatusCompleted}}}, nil
}

// AddAssistantMessage appends an assistant turn with the given initial
// status (pending while streaming, completed/failed once settled).
func (c Conversation) AddAssistantMessage(id, text string, status MessageStatus) ([]eventstore.EventData, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	return []eventstore.EventData{{Type: EventMessageAdded, Payload: MessageAdded{ID: id, Role: RoleAssistant, Content: text, Status: status}}}, nil
}

// AddToolCall attaches a tool invocation request to msgID. Guard: msgID
// must exist and be an assistant message (spec §4.3).
func (c Conversation) AddToolCall(msgID, name, callID string, arguments map[string]any) ([]eventstore.EventData, error) {
	msg, ok := c.message(msgID)
	if !ok {
		return nil, kerrors.New(kerrors.KindNotFound, "message not found: "+msgID)
	}
	if msg.Role != RoleAssistant {
		return nil, kerrors.New(kerrors.KindValidation, "tool calls may only attach to assistant messages")
	}
	for _, tc := range msg.ToolCalls {
		if tc.CallID == callID {
			return nil, kerrors.New(kerrors.KindValidation, "call_id already used in this message: "+callID)
		}
	}
	return []eventstore.EventData{{Type: EventToolCallAdded, Payload: ToolCallAdded{MessageID: msgID, CallID: callID, Name: name, Arguments: arguments}}}, nil
}

// AddToolResult records the outcome of a previously attached tool call.
// Guard: a matching call_id must exist on msgID and have no prior result
// (spec §3 invariant 5).
func (c Conversation) AddToolResult(msgID, callID string, success bool, result any, errMsg string, executionTimeMs int64) ([]eventstore.EventData, error) {
	msg, ok := c.message(msgID)
	if !ok {
		return nil, kerrors.New(kerrors.KindNotFound, "message not found: "+msgID)
	}
	found := false
	for _, tc := range msg.ToolCalls {
		if tc.CallID == callID {
			found = true
			break
		}
	}
	if !found {
		return nil, kerrors.New(kerrors.KindValidation, "no matching tool call for call_id: "+callID)
	}
	for _, tr := range msg.ToolResults {
		if tr.CallID == callID {
			return nil, kerrors.New(kerrors.KindValidation, "tool call already has a result: "+callID)
		}
	}
	return []eventstore.EventData{{Type: EventToolResultAdded, Payload: ToolResultAdded{
		MessageID: msgID, CallID: callID, Success: success, Result: result, Error: errMsg, ExecutionTimeMs: executionTimeMs,
	}}}, nil
}

// UpdateMessageStatus transitions msgID's status. Guard: the transition
// must be monotone, pending→{completed,failed} (spec §4.3).
func (c Conversation) UpdateMessageStatus(msgID string, status MessageStatus) ([]eventstore.EventData, error) {
	msg, ok := c.message(msgID)
	if !ok {
		return nil, kerrors.New(kerrors.KindNotFound, "message not found: "+msgID)
	}
	if msg.Status != StatusPending {
		return nil, kerrors.New(kerrors.KindValidation, "message status is no longer pending")
	}
	if status != StatusCompleted && status != StatusFailed {
		return nil, kerrors.New(kerrors.KindValidation, "invalid status transition target: "+string(status))
	}
	return []eventstore.EventData{{Type: EventMessageStatusUpdated, Payload: MessageStatusUpdated{MessageID: msgID, Status: status}}}, nil
}

// ClearMessages truncates history, optionally retaining index-0 if it is a
// system message (spec §3 invariant 4). A second call is a no-op when
// nothing remains to clear.
func (c Conversation) ClearMessages(keepSystem bool) ([]eventstore.EventData, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	remaining := 0
	if keepSystem && len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem {
		remaining = 1
	}
	if len(c.Messages) <= remaining {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventMessagesCleared, Payload: MessagesCleared{KeepSystem: keepSystem}}}, nil
}

// Delete soft-deletes the conversation (spec §9 Open Question: resolved as
// soft delete): the event stream is kept and Status becomes deleted.
func (c Conversation) Delete() ([]eventstore.EventData, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	return []eventstore.EventData{{Type: EventConversationDeleted, Payload: ConversationDeleted{}}}, nil
}

// AdvanceTemplateItem records proactive-flow progress (spec §4.5.1) as a
// conversation-scoped fact, independent of message history.
func (c Conversation) AdvanceTemplateItem(item int) ([]eventstore.EventData, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	return []eventstore.EventData{{Type: EventTemplateItemAdvanced, Payload: TemplateItemAdvanced{Item: item}}}, nil
}

// GetContextMessages returns the most recent ≤ max messages, preserving
// role-ordering (spec §4.3), for assembling an LLM prompt.
func (c Conversation) GetContextMessages(max int) []Message {
	if max <= 0 || max >= len(c.Messages) {
		return append([]Message(nil), c.Messages...)
	}
	return append([]Message(nil), c.Messages[len(c.Messages)-max:]...)
}

func (c Conversation) requireActive() error {
	if !c.exists {
		return kerrors.New(kerrors.KindNotFound, "conversation not created")
	}
	if c.Status != ConversationActive {
		return kerrors.New(kerrors.KindValidation, "conversation is not active")
	}
	return nil
}

func (c Conversation) message(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func (c Conversation) messageIndex(id string) int {
	for i, m := range c.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// FoldConversation applies one event to state.
func FoldConversation(state Conversation, e eventstore.Event) (Conversation, error) {
	switch e.Type {
	case EventConversationCreated:
		var p ConversationCreated
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.exists = true
		state.UserID = p.UserID
		state.SystemPrompt = p.SystemPrompt
		state.Status = ConversationActive
	case EventMessageAdded:
		var p MessageAdded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.Messages = append(state.Messages, Message{ID: p.ID, Role: p.Role, Content: p.Content, Status: p.Status})
	case EventToolCallAdded:
		var p ToolCallAdded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		if idx := state.messageIndex(p.MessageID); idx >= 0 {
			state.Messages[idx].ToolCalls = append(state.Messages[idx].ToolCalls, ToolCall{CallID: p.CallID, Name: p.Name, Arguments: p.Arguments})
		}
	case EventToolResultAdded:
		var p ToolResultAdded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		if idx := state.messageIndex(p.MessageID); idx >= 0 {
			state.Messages[idx].ToolResults = append(state.Messages[idx].ToolResults, ToolResult{
				CallID: p.CallID, Success: p.Success, Result: p.Result, Error: p.Error, ExecutionTimeMs: p.ExecutionTimeMs,
			})
		}
	case EventMessageStatusUpdated:
		var p MessageStatusUpdated
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		if idx := state.messageIndex(p.MessageID); idx >= 0 {
			state.Messages[idx].Status = p.Status
		}
	case EventMessagesCleared:
		var p MessagesCleared
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		if p.KeepSystem && len(state.Messages) > 0 && state.Messages[0].Role == RoleSystem {
			state.Messages = state.Messages[:1]
		} else {
			state.Messages = nil
		}
	case EventConversationDeleted:
		state.Status = ConversationDeleted
	case EventTemplateItemAdvanced:
		var p TemplateItemAdvanced
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.TemplateItem = p.Item
	}
	return state, nil
}
