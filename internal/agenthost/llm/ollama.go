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

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// OllamaConfig configures an OllamaProvider against a local or remote
// Ollama daemon's /api/chat endpoint.
type OllamaConfig struct {
	BaseURL string // e.g. "http://localhost:11434"
	Model   string
}

// OllamaProvider adapts Ollama's native (non-OpenAI-shaped) chat API to
// Provider. It is the Ollama-style half of spec §4.1's two required
// adapter kinds: newline-delimited JSON objects over the response body
// rather than OpenAI's "data: " SSE framing.
type OllamaProvider struct {
	baseURL string
	http    *httpclient.Client
	raw     *http.Client

	mu       sync.RWMutex
	model    string
	override string
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpclient.New(httpclient.WithRetryStrategy(httpclient.DefaultStrategy)),
		raw:     http.DefaultClient,
		model:   cfg.Model,
	}
}

func (p *OllamaProvider) activeModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.override != "" {
		return p.override
	}
	return p.model
}

func (p *OllamaProvider) SetModelOverride(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = model
}

type ollamaMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaFunctionSpec `json:"function"`
}

type ollamaFunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Tools    []ollamaTool     `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

type ollamaChatResponse struct {
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	DoneReason string       `json:"done_reason"`
}

func (p *OllamaProvider) buildRequest(req ChatRequest, stream bool) ollamaChatRequest {
	out := ollamaChatRequest{Model: p.activeModel(), Stream: stream}
	if req.Model != "" {
		out.Model = req.Model
	}
	for _, m := range req.Messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: tc.ToolName, Arguments: tc.Arguments},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return Response{}, kerrors.Wrap(kerrors.KindServerError, "encoding ollama request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, kerrors.Wrap(kerrors.KindServerError, "building ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return Response{}, kerrors.Wrap(kerrors.KindConnectionError, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, kerrors.New(kerrors.KindUpstreamTimeout, fmt.Sprintf("ollama returned status %d", resp.StatusCode))
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Response{}, kerrors.Wrap(kerrors.KindServerError, "decoding ollama response", err)
	}

	out := Response{Content: decoded.Message.Content, FinishReason: FinishStop}
	for _, tc := range decoded.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ToolName: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	return out, nil
}

func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest, yield func(StreamChunk) bool) error {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return kerrors.Wrap(kerrors.KindServerError, "encoding ollama request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return kerrors.Wrap(kerrors.KindServerError, "building ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.raw.Do(httpReq)
	if err != nil {
		return kerrors.Wrap(kerrors.KindConnectionError, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return kerrors.New(kerrors.KindUpstreamTimeout, fmt.Sprintf("ollama returned status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var decoded ollamaChatResponse
		if err := json.Unmarshal(line, &decoded); err != nil {
			return kerrors.Wrap(kerrors.KindServerError, "decoding ollama stream chunk", err)
		}
		chunk := StreamChunk{ContentDelta: decoded.Message.Content}
		for i, tc := range decoded.Message.ToolCalls {
			args, _ := json.Marshal(tc.Function.Arguments)
			chunk.ToolCallsDelta = append(chunk.ToolCallsDelta, ToolCallDelta{
				Index:          i,
				ToolNameDelta:  tc.Function.Name,
				ArgumentsDelta: string(args),
			})
		}
		if decoded.Done {
			chunk.Done = true
			chunk.FinishReason = FinishStop
			if len(chunk.ToolCallsDelta) > 0 {
				chunk.FinishReason = FinishToolCalls
			}
		}
		if !yield(chunk) {
			return nil
		}
	}
	return scanner.Err()
}

func (p *OllamaProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return HealthStatus{}, kerrors.Wrap(kerrors.KindServerError, "building ollama health request", err)
	}
	resp, err := p.raw.Do(httpReq)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	return HealthStatus{Healthy: true}, nil
}
