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

package agentloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/agenthost/llm"
)

// scriptedProvider replays a fixed sequence of ChatStream turns, one per
// call, so tests can drive the loop through several iterations
// deterministically.
type scriptedProvider struct {
	turns []func(yield func(llm.StreamChunk) bool)
	calls int
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.Response, error) {
	return llm.Response{}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.ChatRequest, yield func(llm.StreamChunk) bool) error {
	turn := p.turns[p.calls]
	p.calls++
	turn(yield)
	return nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (llm.HealthStatus, error) {
	return llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) SetModelOverride(string) {}

func textOnlyTurn(content string) func(func(llm.StreamChunk) bool) {
	return func(yield func(llm.StreamChunk) bool) {
		yield(llm.StreamChunk{ContentDelta: content})
		yield(llm.StreamChunk{Done: true, FinishReason: llm.FinishStop})
	}
}

func drain(t *testing.T, events <-chan AgentEvent) []AgentEvent {
	t.Helper()
	var got []AgentEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("timed out draining agent events")
		}
	}
}

func TestRun_NoToolCallsCompletesAfterOneIteration(t *testing.T) {
	provider := &scriptedProvider{turns: []func(func(llm.StreamChunk) bool){textOnlyTurn("hello there")}}
	rc := RunContext{UserMessage: "hi", ToolExecutor: failingExecutor(t)}

	events := drain(t, Run(context.Background(), provider, rc))

	require.NotEmpty(t, events)
	assert.Equal(t, EventRunStarted, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, EventRunCompleted, last.Type)

	var sawComplete bool
	for _, e := range events {
		if e.Type == EventLLMResponseComplete {
			sawComplete = true
			assert.Equal(t, "hello there", e.Content)
		}
	}
	assert.True(t, sawComplete)
}

func TestRun_ToolCallThenFinalAnswerRunsSequentially(t *testing.T) {
	toolCallTurn := func(yield func(llm.StreamChunk) bool) {
		idx0 := 0
		idx1 := 1
		yield(llm.StreamChunk{ToolCallsDelta: []llm.ToolCallDelta{{Index: idx0, ID: "call1", ToolNameDelta: "add", ArgumentsDelta: `{"a":1}`}}})
		yield(llm.StreamChunk{ToolCallsDelta: []llm.ToolCallDelta{{Index: idx1, ID: "call2", ToolNameDelta: "mul", ArgumentsDelta: `{"b":2}`}}})
		yield(llm.StreamChunk{Done: true, FinishReason: llm.FinishToolCalls})
	}

	provider := &scriptedProvider{turns: []func(func(llm.StreamChunk) bool){toolCallTurn, textOnlyTurn("done")}}

	var executedOrder []string
	executor := func(ctx context.Context, req ToolExecutionRequest) (ToolExecutionResult, error) {
		executedOrder = append(executedOrder, req.CallID)
		return ToolExecutionResult{Success: true, Result: "ok", ExecutionTimeMs: 1}, nil
	}

	rc := RunContext{UserMessage: "compute", ToolExecutor: executor}
	events := drain(t, Run(context.Background(), provider, rc))

	assert.Equal(t, []string{"call1", "call2"}, executedOrder)

	var detected []ToolCall
	for _, e := range events {
		if e.Type == EventToolCallsDetected {
			detected = e.ToolCalls
		}
	}
	require.Len(t, detected, 2)
	assert.Equal(t, "call1", detected[0].CallID)
	assert.Equal(t, "call2", detected[1].CallID)

	last := events[len(events)-1]
	assert.Equal(t, EventRunCompleted, last.Type)
}

func TestRun_ExceedingMaxIterationsFailsWithIterationCap(t *testing.T) {
	loopingTurn := func(yield func(llm.StreamChunk) bool) {
		yield(llm.StreamChunk{ToolCallsDelta: []llm.ToolCallDelta{{Index: 0, ID: "c", ToolNameDelta: "noop", ArgumentsDelta: `{}`}}})
		yield(llm.StreamChunk{Done: true, FinishReason: llm.FinishToolCalls})
	}
	turns := make([]func(func(llm.StreamChunk) bool), 5)
	for i := range turns {
		turns[i] = loopingTurn
	}
	provider := &scriptedProvider{turns: turns}

	executor := func(ctx context.Context, req ToolExecutionRequest) (ToolExecutionResult, error) {
		return ToolExecutionResult{Success: true}, nil
	}

	rc := RunContext{UserMessage: "loop", ToolExecutor: executor, MaxIterations: 2}
	events := drain(t, Run(context.Background(), provider, rc))

	last := events[len(events)-1]
	require.Equal(t, EventRunFailed, last.Type)
	require.Error(t, last.Err)
}

func TestRun_ExceedingMaxToolCallsPerTurnFails(t *testing.T) {
	turn := func(yield func(llm.StreamChunk) bool) {
		yield(llm.StreamChunk{ToolCallsDelta: []llm.ToolCallDelta{
			{Index: 0, ID: "c1", ToolNameDelta: "a", ArgumentsDelta: `{}`},
			{Index: 1, ID: "c2", ToolNameDelta: "b", ArgumentsDelta: `{}`},
		}})
		yield(llm.StreamChunk{Done: true, FinishReason: llm.FinishToolCalls})
	}
	provider := &scriptedProvider{turns: []func(func(llm.StreamChunk) bool){turn}}

	rc := RunContext{UserMessage: "x", ToolExecutor: failingExecutor(t), MaxToolCallsPerTurn: 1}
	events := drain(t, Run(context.Background(), provider, rc))

	last := events[len(events)-1]
	assert.Equal(t, EventRunFailed, last.Type)
}

func TestRun_CancellationStopsBeforeFurtherEvents(t *testing.T) {
	provider := &scriptedProvider{turns: []func(func(llm.StreamChunk) bool){textOnlyTurn("x")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := Run(ctx, provider, RunContext{UserMessage: "hi", ToolExecutor: failingExecutor(t)})
	_, ok := <-events
	assert.False(t, ok, "a pre-cancelled context must yield a closed, empty event stream")
}

func failingExecutor(t *testing.T) ToolExecutor {
	return func(ctx context.Context, req ToolExecutionRequest) (ToolExecutionResult, error) {
		t.Fatal("tool executor must not be called when the LLM emitted no tool calls")
		return ToolExecutionResult{}, nil
	}
}
