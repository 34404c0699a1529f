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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// OpenAIConfig configures an OpenAIProvider. BaseURL lets the same adapter
// serve any OpenAI-compatible endpoint (Azure OpenAI, vLLM, an OAuth2
// gateway deployment fronting the real API); leave it empty for
// api.openai.com. HTTPClient, when set, replaces the SDK's transport — a
// gateway deployment passes the *http.Client an oauth2.Config produces
// (see gateway.go) so bearer-token exchange happens transparently.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIProvider adapts the go-openai client to Provider. It is the
// OpenAI-style half of spec §4.1's two required adapter kinds.
type OpenAIProvider struct {
	client *openai.Client

	mu       sync.RWMutex
	model    string
	override string
}

// NewOpenAIProvider builds an OpenAIProvider. httpClient may be nil to use
// the SDK's default transport.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oaiCfg.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(oaiCfg),
		model:  cfg.Model,
	}
}

func (p *OpenAIProvider) activeModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.override != "" {
		return p.override
	}
	return p.model
}

func (p *OpenAIProvider) SetModelOverride(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = model
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	oaiReq := p.buildRequest(req, false)
	resp, err := p.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return Response{}, translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, kerrors.New(kerrors.KindServerError, "provider returned no choices")
	}
	choice := resp.Choices[0]

	out := Response{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	out.Usage = &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return out, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, yield func(StreamChunk) bool) error {
	oaiReq := p.buildRequest(req, true)
	stream, err := p.client.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return translateOpenAIError(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			yield(StreamChunk{Done: true})
			return nil
		}
		if err != nil {
			return translateOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		chunk := StreamChunk{ContentDelta: choice.Delta.Content}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			chunk.ToolCallsDelta = append(chunk.ToolCallsDelta, ToolCallDelta{
				Index:          idx,
				ID:             tc.ID,
				ToolNameDelta:  tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != "" {
			chunk.Done = true
			chunk.FinishReason = mapFinishReason(choice.FinishReason)
		}
		if !yield(chunk) {
			return nil
		}
		if chunk.Done {
			return nil
		}
	}
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	_, err := p.client.ListModels(ctx)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}, nil
	}
	return HealthStatus{Healthy: true}, nil
}

func (p *OpenAIProvider) buildRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	oaiReq := openai.ChatCompletionRequest{
		Model:    p.activeModel(),
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	if req.Model != "" {
		oaiReq.Model = req.Model
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.ToolName,
					Arguments: string(args),
				},
			})
		}
		oaiReq.Messages = append(oaiReq.Messages, msg)
	}
	for _, t := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return oaiReq
}

func decodeArguments(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

func mapFinishReason(r openai.FinishReason) FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonToolCalls:
		return FinishToolCalls
	case openai.FinishReasonLength:
		return FinishLength
	default:
		return FinishStop
	}
}

func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return kerrors.Wrap(kerrors.KindAuth, "provider rejected credentials", err)
		case 404:
			return kerrors.Wrap(kerrors.KindModelNotFound, "provider model not found", err)
		case 429:
			return kerrors.Wrap(kerrors.KindRateLimited, "provider rate limited the request", err)
		case 0:
			return kerrors.Wrap(kerrors.KindConnectionError, "provider unreachable", err)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return kerrors.Wrap(kerrors.KindUpstreamTimeout, "provider returned a server error", err)
			}
		}
	}
	return kerrors.Wrap(kerrors.KindServerError, "provider call failed", err)
}
