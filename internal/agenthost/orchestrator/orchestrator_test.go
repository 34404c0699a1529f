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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/internal/agenthost/agentloop"
	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/internal/agenthost/toolclient"
	"github.com/kestrelai/kestrel/internal/agenthost/wire"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

// fakeSender records every frame sent to a connection, standing in for
// connmanager.Manager in tests.
type fakeSender struct {
	mu   sync.Mutex
	sent []wire.Message
}

func (f *fakeSender) SendToConnection(_ string, msg wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Message(nil), f.sent...)
}

func (f *fakeSender) types() []string {
	var out []string
	for _, m := range f.messages() {
		out = append(out, m.Type)
	}
	return out
}

// scriptedProvider is a no-op llm.Provider whose ChatStream immediately
// yields one content chunk and completes, used to drive orchestrator
// tests without a real model.
type scriptedProvider struct {
	content string
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.Response, error) {
	return llm.Response{Content: p.content, FinishReason: llm.FinishStop}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.ChatRequest, yield func(llm.StreamChunk) bool) error {
	yield(llm.StreamChunk{ContentDelta: p.content})
	yield(llm.StreamChunk{Done: true, FinishReason: llm.FinishStop})
	return nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (llm.HealthStatus, error) {
	return llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) SetModelOverride(model string) {}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeSender) {
	t.Helper()
	repo := eventstore.NewRepository(eventstore.NewMemoryStore(), nil, "Conversation", conversation.NewConversation, conversation.FoldConversation)

	loaded, err := repo.Load(context.Background(), "conv1")
	require.NoError(t, err)
	events, err := loaded.State.Create("user1", "you are a helpful assistant")
	require.NoError(t, err)
	_, err = repo.Save(context.Background(), "conv1", loaded.Version, events)
	require.NoError(t, err)

	factory := llm.NewFactory()
	sender := &fakeSender{}
	cfg := Config{
		Conversations:         repo,
		Providers:             factory,
		DefaultProviderConfig: llm.Config{ProviderType: "openai", Model: "gpt-4"},
	}
	o := New(cfg, sender, "conn1", "user1", "conv1", "token")
	o.provider = &scriptedProvider{content: "hello there"}
	o.setState(StateActive)
	return o, sender
}

func TestHandleClientMessage_StreamsAndPersistsAssistantTurn(t *testing.T) {
	o, sender := newTestOrchestrator(t)

	err := o.HandleClientMessage(context.Background(), "hi")
	require.NoError(t, err)

	types := sender.types()
	assert.Contains(t, types, wire.TypeContentChunk)
	assert.Contains(t, types, wire.TypeContentComplete)
	assert.Contains(t, types, wire.TypeMessageComplete)
	assert.Equal(t, StateActive, o.State())

	loaded, err := o.cfg.Conversations.Load(context.Background(), "conv1")
	require.NoError(t, err)
	require.Len(t, loaded.State.Messages, 2)
	assert.Equal(t, conversation.RoleUser, loaded.State.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, loaded.State.Messages[1].Role)
	assert.Equal(t, "hello there", loaded.State.Messages[1].Content)
	assert.Equal(t, conversation.StatusCompleted, loaded.State.Messages[1].Status)
}

func TestHandleClientMessage_RejectsAsBusyWhileAgentRunning(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	o.setState(StateRunningAgent)

	err := o.HandleClientMessage(context.Background(), "hi")
	require.NoError(t, err)

	types := sender.types()
	require.Len(t, types, 1)
	assert.Equal(t, wire.TypeError, types[0])
	payload, ok := sender.messages()[0].Payload.(wire.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, "busy", payload.Code)
}

func TestHandleModelChange_QualifiedProviderReresolves(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	err := o.HandleModelChange(context.Background(), "ollama:llama3")
	require.NoError(t, err)
	assert.Equal(t, "ollama", o.providerType)
}

func TestHandleModelChange_UnqualifiedOverridesCurrentProvider(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	sp := &scriptedProvider{content: "x"}
	o.provider = sp

	err := o.HandleModelChange(context.Background(), "gpt-4o")
	require.NoError(t, err)
}

func TestHandleFlowControl_CancelAbortsInFlightRun(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	o.runCancel = cancel

	err := o.HandleFlowControl(context.Background(), "cancel")
	require.NoError(t, err)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled")
	}
}

func TestHandleFlowControl_UnknownActionErrors(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	err := o.HandleFlowControl(context.Background(), "nonsense")
	assert.Error(t, err)
}

func TestHandleWidgetResponse_RequiresWaitingForWidgetState(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	err := o.HandleWidgetResponse(context.Background(), "w1", "42")
	assert.Error(t, err)
}

func TestRunProactiveFlow_StreamsItemsAndShowsWidgetThenWaits(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	o.template = &Template{
		ID:               "t1",
		AgentStartsFirst: true,
		Items: []TemplateItem{
			{Title: "Q1", TextContent: "what is 2+2?", Widget: &Widget{ID: "w1", Type: "multiple_choice", Correct: "4"}},
		},
	}
	o.setState(StatePresenting)

	o.runProactiveFlow(context.Background())

	types := sender.types()
	assert.Contains(t, types, wire.TypeItemContext)
	assert.Contains(t, types, wire.TypeWidgetShow)
	assert.Equal(t, StateWaitingForWidget, o.State())
}

func TestAdvanceProactiveFlow_RecordsAnswerAndMovesPastLastItem(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	o.template = &Template{
		ID: "t1",
		Items: []TemplateItem{
			{Title: "Q1", TextContent: "2+2?", Widget: &Widget{ID: "w1", Type: "text", Correct: "4"}, FeedbackCorrect: "nice work", FeedbackIncorrect: "not quite"},
		},
	}
	o.setState(StateWaitingForWidget)

	err := o.advanceProactiveFlow(context.Background(), "w1", "4")
	require.NoError(t, err)

	assert.Equal(t, StateActive, o.State())
	types := sender.types()
	assert.Contains(t, types, wire.TypeMessageComplete)
	assert.Contains(t, types, wire.TypeChatInputEnabled)

	loaded, err := o.cfg.Conversations.Load(context.Background(), "conv1")
	require.NoError(t, err)
	found := false
	for _, m := range loaded.State.Messages {
		if m.Content == "nice work" {
			found = true
		}
	}
	assert.True(t, found, "expected correct-answer feedback to be persisted")
}

func TestToolExecutor_UnknownToolNameFailsWithoutCallingProvider(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.tools = []toolclient.ToolManifest{{ToolID: "srv1:lookup", Name: "lookup"}}

	exec := o.toolExecutor()
	result, err := exec(context.Background(), agentloop.ToolExecutionRequest{CallID: "c1", Name: "does-not-exist"})
	require.NoError(t, err)
	assert.False(t, result.Success)
}
