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

// Package orchestrator implements the Agent Host's per-connection state
// machine (spec §4.5): it bridges the wire protocol to the agent loop and
// the conversation aggregate, and drives the proactive-flow template
// engine (spec §4.5.1).
package orchestrator

import (
	"context"
	"sync"

	"github.com/kestrelai/kestrel/internal/agenthost/agentloop"
	"github.com/kestrelai/kestrel/internal/agenthost/conversation"
	"github.com/kestrelai/kestrel/internal/agenthost/llm"
	"github.com/kestrelai/kestrel/internal/agenthost/toolclient"
	"github.com/kestrelai/kestrel/internal/agenthost/wire"
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// Sender delivers a wire.Message to one connection. connmanager.Manager
// satisfies this directly via SendToConnection.
type Sender interface {
	SendToConnection(connID string, msg wire.Message) error
}

// Config bundles an Orchestrator's collaborators.
type Config struct {
	Conversations *eventstore.Repository[conversation.Conversation]
	Templates     TemplateLookup
	Tools         *toolclient.Client
	Providers     *llm.Factory

	ServerCapabilities []string
	AvailableModels    []string
	AllowModelSelection bool

	DefaultProviderConfig llm.Config
}

// Orchestrator drives one connection's lifecycle end to end.
type Orchestrator struct {
	cfg Config

	connID         string
	userID         string
	conversationID string
	bearerToken    string

	sender Sender

	mu    sync.Mutex
	state State

	provider     llm.Provider
	providerType string

	tools    []toolclient.ToolManifest
	template *Template
	itemIdx  int

	runCancel context.CancelFunc
}

// New constructs an Orchestrator for one connection. sender is the
// connection manager (or a fake, in tests) used to deliver wire frames.
func New(cfg Config, sender Sender, connID, userID, conversationID, bearerToken string) *Orchestrator {
	return &Orchestrator{cfg: cfg, sender: sender, connID: connID, userID: userID, conversationID: conversationID, bearerToken: bearerToken, state: StateConnecting}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) send(msg wire.Message) {
	msg.ConversationID = o.conversationID
	_ = o.sender.SendToConnection(o.connID, msg)
}

// Connect runs the initial transitions spec §4.5 describes: load the
// conversation, load the access-filtered tool list (and subscribe to
// live updates), load any bound template, announce
// system.connection.established, then either start the proactive flow
// or go ACTIVE with chat enabled.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.setState(StateAuthenticated)

	provider, err := o.cfg.Providers.Build(ctx, o.cfg.DefaultProviderConfig)
	if err != nil {
		return kerrors.Wrap(kerrors.KindServerError, "building default llm provider", err)
	}
	o.provider = provider
	o.providerType = o.cfg.DefaultProviderConfig.ProviderType

	tools, err := o.cfg.Tools.ListTools(ctx, o.bearerToken)
	if err != nil {
		return err
	}
	o.tools = tools

	go func() {
		_ = o.cfg.Tools.Subscribe(ctx, o.bearerToken, func(u toolclient.ToolListUpdate) {
			o.mu.Lock()
			o.tools = u.Tools
			o.mu.Unlock()
		})
	}()

	if o.cfg.Templates != nil {
		tmpl, ok, err := o.cfg.Templates.GetTemplateForConversation(ctx, o.conversationID)
		if err != nil {
			return err
		}
		if ok {
			o.template = tmpl
		}
	}

	o.send(wire.Message{
		Type: wire.TypeConnectionEstablished,
		Payload: wire.ConnectionEstablishedPayload{
			ConnectionID:        o.connID,
			ConversationID:      o.conversationID,
			UserID:              o.userID,
			ServerCapabilities:  o.cfg.ServerCapabilities,
			CurrentModel:        o.cfg.DefaultProviderConfig.Model,
			AvailableModels:     o.cfg.AvailableModels,
			AllowModelSelection: o.cfg.AllowModelSelection,
			ToolCount:           len(o.tools),
		},
	})

	if o.template != nil && o.template.AgentStartsFirst {
		o.setState(StatePresenting)
		o.runProactiveFlow(ctx)
		return nil
	}

	o.setState(StateActive)
	o.send(wire.Message{Type: wire.TypeChatInputEnabled, Payload: wire.ChatInputEnabledPayload{Enabled: true}})
	return nil
}

func (o *Orchestrator) toolDefinitions() []llm.ToolDefinition {
	o.mu.Lock()
	defer o.mu.Unlock()
	defs := make([]llm.ToolDefinition, 0, len(o.tools))
	for _, t := range o.tools {
		defs = append(defs, llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return defs
}

func (o *Orchestrator) toolByName(name string) (toolclient.ToolManifest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.tools {
		if t.Name == name {
			return t, true
		}
	}
	return toolclient.ToolManifest{}, false
}

// toolExecutor adapts the Tools Provider client into an
// agentloop.ToolExecutor, resolving the LLM's tool name to a tool_id via
// the connection's cached catalog (spec §4.4 step 5b).
func (o *Orchestrator) toolExecutor() agentloop.ToolExecutor {
	return func(ctx context.Context, req agentloop.ToolExecutionRequest) (agentloop.ToolExecutionResult, error) {
		tool, ok := o.toolByName(req.Name)
		if !ok {
			return agentloop.ToolExecutionResult{Success: false, Error: "tool not found in resolved catalog"}, nil
		}
		result, err := o.cfg.Tools.CallTool(ctx, o.bearerToken, tool.ToolID, req.Arguments)
		if err != nil {
			return agentloop.ToolExecutionResult{}, err
		}
		return agentloop.ToolExecutionResult{
			Success:         result.Status == "completed",
			Result:          result.Result,
			Error:           result.Error,
			ExecutionTimeMs: result.ExecutionTimeMs,
		}, nil
	}
}
