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

// Package agentloop implements the ReAct driver (spec §4.4): one turn of
// "ask the LLM, run whatever tools it asked for, ask again" emitted as a
// lazy, cancellable AgentEvent sequence.
package agentloop

import (
	"context"

	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// EventType is the closed set of AgentEvent kinds spec §4.4 names.
type EventType string

const (
	EventRunStarted          EventType = "RUN_STARTED"
	EventIterationStarted    EventType = "ITERATION_STARTED"
	EventLLMRequestStarted   EventType = "LLM_REQUEST_STARTED"
	EventLLMResponseChunk    EventType = "LLM_RESPONSE_CHUNK"
	EventLLMResponseComplete EventType = "LLM_RESPONSE_COMPLETED"
	EventToolCallsDetected   EventType = "TOOL_CALLS_DETECTED"
	EventToolExecStarted     EventType = "TOOL_EXECUTION_STARTED"
	EventToolExecCompleted   EventType = "TOOL_EXECUTION_COMPLETED"
	EventToolExecFailed      EventType = "TOOL_EXECUTION_FAILED"
	EventRunCompleted        EventType = "RUN_COMPLETED"
	EventRunFailed           EventType = "RUN_FAILED"
)

// ToolCall is one tool invocation the LLM asked for in a turn.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// AgentEvent is one item in the lazy sequence the loop produces.
type AgentEvent struct {
	Type EventType

	Iteration int // ITERATION_STARTED

	ContentDelta string     // LLM_RESPONSE_CHUNK
	Content      string     // LLM_RESPONSE_COMPLETED
	ToolCalls    []ToolCall // LLM_RESPONSE_COMPLETED, TOOL_CALLS_DETECTED

	CallID          string // TOOL_EXECUTION_*
	ToolName        string // TOOL_EXECUTION_*
	Success         bool   // TOOL_EXECUTION_COMPLETED
	Result          any    // TOOL_EXECUTION_COMPLETED
	ExecutionTimeMs int64  // TOOL_EXECUTION_COMPLETED

	Err error // TOOL_EXECUTION_FAILED, RUN_FAILED
}

// ToolExecutionRequest is what the loop hands to the host-supplied
// executor function for each tool call the LLM asked for.
type ToolExecutionRequest struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// ToolExecutionResult is what the host-supplied executor must return.
type ToolExecutionResult struct {
	Success         bool
	Result          any
	Error           string
	ExecutionTimeMs int64
}

// ToolExecutor invokes one tool call on the host's behalf (spec §4.4 step
// 5b). It is supplied by the caller, not the loop, since only the
// orchestrator knows how to reach the Tools Provider for this
// connection's user.
type ToolExecutor func(ctx context.Context, req ToolExecutionRequest) (ToolExecutionResult, error)

// RunContext is the input to one turn of the loop (spec §4.4).
type RunContext struct {
	SystemMessage      string
	ConversationHistory []llm.Message
	UserMessage        string
	Tools              []llm.ToolDefinition
	ToolExecutor       ToolExecutor
	Model              string

	MaxIterations        int // default 10
	MaxToolCallsPerTurn  int // 0 means unbounded
}

const defaultMaxIterations = 10

// Run starts one turn of the agent loop against provider and returns a
// channel of AgentEvents. The channel is closed after a terminal event
// (RUN_COMPLETED or RUN_FAILED) or when ctx is cancelled. The caller must
// drain the channel to let the producer goroutine exit.
func Run(ctx context.Context, provider llm.Provider, rc RunContext) <-chan AgentEvent {
	events := make(chan AgentEvent, 16)
	go func() {
		defer close(events)
		runLoop(ctx, provider, rc, events)
	}()
	return events
}

func emit(ctx context.Context, events chan<- AgentEvent, e AgentEvent) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func runLoop(ctx context.Context, provider llm.Provider, rc RunContext, events chan<- AgentEvent) {
	if ctx.Err() != nil {
		return
	}

	maxIterations := rc.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	messages := buildPrompt(rc)

	if !emit(ctx, events, AgentEvent{Type: EventRunStarted}) {
		return
	}

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			return
		}
		if iteration >= maxIterations {
			emit(ctx, events, AgentEvent{Type: EventRunFailed, Err: kerrors.New(kerrors.KindIterationCap, "max_iterations exceeded")})
			return
		}

		if !emit(ctx, events, AgentEvent{Type: EventIterationStarted, Iteration: iteration}) {
			return
		}
		if !emit(ctx, events, AgentEvent{Type: EventLLMRequestStarted}) {
			return
		}

		content, toolCalls, err := streamTurn(ctx, provider, rc.Model, messages, rc.Tools, events)
		if err != nil {
			emit(ctx, events, AgentEvent{Type: EventRunFailed, Err: err})
			return
		}
		if ctx.Err() != nil {
			return
		}

		if !emit(ctx, events, AgentEvent{Type: EventLLMResponseComplete, Content: content, ToolCalls: toolCalls}) {
			return
		}

		if len(toolCalls) == 0 {
			emit(ctx, events, AgentEvent{Type: EventRunCompleted})
			return
		}

		if rc.MaxToolCallsPerTurn > 0 && len(toolCalls) > rc.MaxToolCallsPerTurn {
			emit(ctx, events, AgentEvent{Type: EventRunFailed, Err: kerrors.New(kerrors.KindIterationCap, "max_tool_calls_per_turn exceeded")})
			return
		}

		if !emit(ctx, events, AgentEvent{Type: EventToolCallsDetected, ToolCalls: toolCalls}) {
			return
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: content}
		for _, tc := range toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, llm.ToolCall{ID: tc.CallID, ToolName: tc.Name, Arguments: tc.Arguments})
		}
		messages = append(messages, assistantMsg)

		// Tool calls run sequentially, in the order the LLM emitted them,
		// so subsequent history reflects call order exactly (spec §4.4
		// step 5).
		for _, tc := range toolCalls {
			if ctx.Err() != nil {
				return
			}
			if !emit(ctx, events, AgentEvent{Type: EventToolExecStarted, CallID: tc.CallID, ToolName: tc.Name}) {
				return
			}

			result, err := rc.ToolExecutor(ctx, ToolExecutionRequest{CallID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments})
			if err != nil {
				if !emit(ctx, events, AgentEvent{Type: EventToolExecFailed, CallID: tc.CallID, ToolName: tc.Name, Err: err}) {
					return
				}
				messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.CallID, Content: err.Error()})
				continue
			}

			if !emit(ctx, events, AgentEvent{
				Type: EventToolExecCompleted, CallID: tc.CallID, ToolName: tc.Name,
				Success: result.Success, Result: result.Result, ExecutionTimeMs: result.ExecutionTimeMs,
			}) {
				return
			}

			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: tc.CallID, Content: toolResultContent(result)})
		}
	}
}

func buildPrompt(rc RunContext) []llm.Message {
	messages := make([]llm.Message, 0, len(rc.ConversationHistory)+2)
	if rc.SystemMessage != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: rc.SystemMessage})
	}
	messages = append(messages, rc.ConversationHistory...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: rc.UserMessage})
	return messages
}

// streamTurn opens chat_stream, forwards each chunk as LLM_RESPONSE_CHUNK,
// and accumulates content and tool-call deltas (spec §4.4 steps 2-3).
func streamTurn(ctx context.Context, provider llm.Provider, model string, messages []llm.Message, tools []llm.ToolDefinition, events chan<- AgentEvent) (string, []ToolCall, error) {
	var content string
	acc := newToolCallAccumulator()

	err := provider.ChatStream(ctx, llm.ChatRequest{Model: model, Messages: messages, Tools: tools}, func(chunk llm.StreamChunk) bool {
		if chunk.ContentDelta != "" {
			content += chunk.ContentDelta
			if !emit(ctx, events, AgentEvent{Type: EventLLMResponseChunk, ContentDelta: chunk.ContentDelta}) {
				return false
			}
		}
		acc.apply(chunk.ToolCallsDelta)
		return true
	})
	if err != nil {
		return "", nil, err
	}
	return content, acc.finish(), nil
}

func toolResultContent(result ToolExecutionResult) string {
	if !result.Success {
		return result.Error
	}
	if s, ok := result.Result.(string); ok {
		return s
	}
	return toJSONOrEmpty(result.Result)
}
