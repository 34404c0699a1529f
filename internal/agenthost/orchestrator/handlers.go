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

package orchestrator

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelai/kestrel/internal/agenthost/agentloop"
	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/internal/agenthost/wire"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// HandleClientMessage is the spec §4.5 user-message handler: reject as
// busy while an agent run is already in flight, otherwise persist the
// turn, run the agent loop, translating every agentloop.AgentEvent into
// wire frames as it streams, and persist the settled result.
func (o *Orchestrator) HandleClientMessage(ctx context.Context, content string) error {
	if o.State() == StateRunningAgent {
		o.send(wire.Message{Type: wire.TypeError, Payload: wire.ErrorPayload{
			Category: wire.ErrorCategoryClient, Code: "busy", Message: "an agent run is already in progress", IsRetryable: true,
		}})
		return nil
	}

	loaded, err := o.cfg.Conversations.Load(ctx, o.conversationID)
	if err != nil {
		return err
	}
	conv := loaded.State

	userMsgID := uuid.NewString()
	events, err := conv.AddUserMessage(userMsgID, content)
	if err != nil {
		return err
	}
	if _, err := o.cfg.Conversations.Save(ctx, o.conversationID, loaded.Version, events); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.runCancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.runCancel = nil
		o.mu.Unlock()
	}()

	o.setState(StateRunningAgent)
	defer o.setState(StateActive)

	history := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		history = append(history, toLLMMessage(m))
	}

	rc := agentloop.RunContext{
		SystemMessage:       conv.SystemPrompt,
		ConversationHistory: history,
		UserMessage:         content,
		Tools:               o.toolDefinitions(),
		ToolExecutor:        o.toolExecutor(),
		Model:               o.cfg.DefaultProviderConfig.Model,
		MaxIterations:       10,
	}

	assistantMsgID := uuid.NewString()
	return o.runAgentAndTranslate(runCtx, rc, assistantMsgID)
}

// runAgentAndTranslate drains the agent loop's event channel, forwarding
// each event onto the wire (spec §4.4, §6) and persisting the settled
// assistant turn once it completes.
func (o *Orchestrator) runAgentAndTranslate(ctx context.Context, rc agentloop.RunContext, assistantMsgID string) error {
	var content strings.Builder
	toolCallsSeen := false

	events := agentloop.Run(ctx, o.provider, rc)
	for ev := range events {
		switch ev.Type {
		case agentloop.EventLLMResponseChunk:
			content.WriteString(ev.ContentDelta)
			o.send(wire.Message{Type: wire.TypeContentChunk, Payload: wire.ContentChunkPayload{Content: ev.ContentDelta, MessageID: assistantMsgID}})
		case agentloop.EventToolCallsDetected:
			toolCallsSeen = true
		case agentloop.EventToolExecStarted:
			o.send(wire.Message{Type: wire.TypeToolExecuting, Payload: wire.ToolExecutingPayload{CallID: ev.CallID, ToolName: ev.ToolName}})
		case agentloop.EventToolExecCompleted:
			o.send(wire.Message{Type: wire.TypeToolResult, Payload: wire.ToolResultPayload{
				CallID: ev.CallID, ToolName: ev.ToolName, Success: ev.Success, Result: ev.Result, ExecutionTimeMs: ev.ExecutionTimeMs,
			}})
		case agentloop.EventToolExecFailed:
			msg := ""
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			o.send(wire.Message{Type: wire.TypeToolResult, Payload: wire.ToolResultPayload{CallID: ev.CallID, ToolName: ev.ToolName, Success: false, Error: msg}})
		case agentloop.EventRunCompleted:
			o.send(wire.Message{Type: wire.TypeContentComplete, Payload: wire.ContentCompletePayload{MessageID: assistantMsgID, Role: "assistant", FullContent: content.String()}})
			_ = o.persistAssistantTurn(ctx, assistantMsgID, content.String(), conversation.StatusCompleted, toolCallsSeen)
			o.send(wire.Message{Type: wire.TypeMessageComplete, Payload: wire.MessageCompletePayload{MessageID: assistantMsgID, Role: "assistant", Content: content.String()}})
		case agentloop.EventRunFailed:
			_ = o.persistAssistantTurn(ctx, assistantMsgID, content.String(), conversation.StatusFailed, toolCallsSeen)
			msg := "agent run failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			o.send(wire.Message{Type: wire.TypeError, Payload: wire.ErrorPayload{Category: wire.ErrorCategoryServer, Code: "run_failed", Message: msg}})
		}
	}
	return nil
}

func (o *Orchestrator) persistAssistantTurn(ctx context.Context, msgID, content string, status conversation.MessageStatus, hadToolCalls bool) error {
	loaded, err := o.cfg.Conversations.Load(ctx, o.conversationID)
	if err != nil {
		return err
	}
	events, err := loaded.State.AddAssistantMessage(msgID, content, status)
	if err != nil {
		return err
	}
	_, err = o.cfg.Conversations.Save(ctx, o.conversationID, loaded.Version, events)
	return err
}

// HandleWidgetResponse records a proactive-flow answer then advances to
// the next item (spec §4.5.1 step 4).
func (o *Orchestrator) HandleWidgetResponse(ctx context.Context, itemID string, value any) error {
	if o.State() != StateWaitingForWidget {
		return kerrors.New(kerrors.KindValidation, "no widget is awaiting a response")
	}
	return o.advanceProactiveFlow(ctx, itemID, value)
}

// HandleFlowControl implements client.flow.{start,pause,cancel} (spec
// §4.5). Cancel aborts any in-flight agent run.
func (o *Orchestrator) HandleFlowControl(ctx context.Context, action string) error {
	switch action {
	case "start":
		if o.template != nil && o.State() == StateActive {
			o.setState(StatePresenting)
			o.runProactiveFlow(ctx)
		}
	case "pause":
		// Pause is a no-op on the server: there is no distinct paused
		// state, and a running item timer is not suspended.
	case "cancel":
		o.mu.Lock()
		cancel := o.runCancel
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		return kerrors.New(kerrors.KindValidation, "unknown flow action: "+action)
	}
	return nil
}

// HandleModelChange implements spec §4.5's model-change rule: a
// qualified "provider:model" re-resolves a new provider via the
// factory; an unqualified model id overrides the current provider's
// active model.
func (o *Orchestrator) HandleModelChange(ctx context.Context, modelID string) error {
	if providerType, model, ok := strings.Cut(modelID, ":"); ok {
		cfg := o.cfg.DefaultProviderConfig
		cfg.ProviderType = providerType
		cfg.Model = model
		provider, err := o.cfg.Providers.Build(ctx, cfg)
		if err != nil {
			return err
		}
		o.mu.Lock()
		o.provider = provider
		o.providerType = providerType
		o.mu.Unlock()
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provider.SetModelOverride(modelID)
	return nil
}

func toLLMMessage(m conversation.Message) llm.Message {
	out := llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.CallID, ToolName: tc.Name, Arguments: tc.Arguments})
	}
	return out
}
