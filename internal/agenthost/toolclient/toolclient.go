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

// Package toolclient is the Agent Host's client for the Tools Provider
// (spec §4.2): list the caller's resolved tool catalog, subscribe to its
// SSE stream for live catalog updates, and invoke a tool — all three
// requests propagating the end user's own bearer token, since the Tools
// Provider authorizes per-caller rather than per-service.
package toolclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kestrelai/kestrel/pkg/httpclient"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// ToolManifest mirrors httpapi.ToolManifest, the wire shape GET
// /agent/tools returns per tool (spec §6).
type ToolManifest struct {
	ToolID      string         `json:"tool_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	SourceID    string         `json:"source_id"`
	SourcePath  string         `json:"source_path"`
	Tags        []string       `json:"tags"`
}

// CallResult mirrors httpapi.callToolResponse.
type CallResult struct {
	ToolID          string `json:"tool_id"`
	Status          string `json:"status"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	UpstreamStatus  int    `json:"upstream_status,omitempty"`
}

// ToolListUpdate is one tool_list event observed on the SSE stream.
type ToolListUpdate struct {
	Type  string
	Tools []ToolManifest
}

// Client is the Agent Host's handle on one Tools Provider deployment.
type Client struct {
	baseURL string
	http    *httpclient.Client
	sse     *http.Client
}

// New builds a Client. baseURL is the Tools Provider's root, e.g.
// "https://tools.internal:8443".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.New(httpclient.WithRetryStrategy(httpclient.DefaultStrategy)),
		sse:     http.DefaultClient,
	}
}

// ListTools calls GET /agent/tools with the caller's bearer token.
func (c *Client) ListTools(ctx context.Context, bearerToken string) ([]ToolManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agent/tools", nil)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindServerError, "building list-tools request", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, kerrors.Wrap(kerrors.KindConnectionError, "tools provider unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, "list tools")
	}

	var manifests []ToolManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifests); err != nil {
		return nil, kerrors.Wrap(kerrors.KindServerError, "decoding tool list", err)
	}
	return manifests, nil
}

// CallTool calls POST /agent/tools/call with the caller's bearer token.
func (c *Client) CallTool(ctx context.Context, bearerToken, toolID string, arguments map[string]any) (CallResult, error) {
	body, err := json.Marshal(map[string]any{"tool_id": toolID, "arguments": arguments})
	if err != nil {
		return CallResult{}, kerrors.Wrap(kerrors.KindServerError, "encoding tool call", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/tools/call", bytes.NewReader(body))
	if err != nil {
		return CallResult{}, kerrors.Wrap(kerrors.KindServerError, "building tool call request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return CallResult{}, kerrors.Wrap(kerrors.KindConnectionError, "tools provider unreachable", err)
	}
	defer resp.Body.Close()

	var result CallResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CallResult{}, kerrors.Wrap(kerrors.KindServerError, "decoding tool call response", err)
	}
	if resp.StatusCode >= 400 && result.Error == "" {
		return result, statusError(resp.StatusCode, "call tool")
	}
	return result, nil
}

func statusError(status int, op string) error {
	switch status {
	case http.StatusUnauthorized:
		return kerrors.New(kerrors.KindAuth, op+": unauthorized")
	case http.StatusForbidden:
		return kerrors.New(kerrors.KindForbidden, op+": forbidden")
	case http.StatusTooManyRequests:
		return kerrors.New(kerrors.KindRateLimited, op+": rate limited")
	default:
		return kerrors.New(kerrors.KindServerError, fmt.Sprintf("%s: unexpected status %d", op, status))
	}
}

// Subscribe opens GET /agent/sse and delivers tool_list updates to
// onUpdate until ctx is cancelled, and returns only then. When a stream
// ends cleanly it reconnects at once; after a failed attempt it waits with
// exponential backoff (1s, doubling up to 30s) before reconnecting.
func (c *Client) Subscribe(ctx context.Context, bearerToken string, onUpdate func(ToolListUpdate)) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := c.runStream(ctx, bearerToken, onUpdate)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) runStream(ctx context.Context, bearerToken string, onUpdate func(ToolListUpdate)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agent/sse", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.sse.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse subscribe: unexpected status %d", resp.StatusCode)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "tool_list" {
				var payload struct {
					Type  string         `json:"type"`
					Tools []ToolManifest `json:"tools"`
				}
				if err := json.Unmarshal([]byte(data), &payload); err == nil {
					onUpdate(ToolListUpdate{Type: payload.Type, Tools: payload.Tools})
				}
			}
		case line == "":
			event = ""
		}
	}
	return scanner.Err()
}

// Cache keeps the most recent tool list and its age, letting the agent
// loop and orchestrator share one freshness view without each polling
// ListTools directly.
type Cache struct {
	mu       sync.RWMutex
	tools    []ToolManifest
	updated  time.Time
}

func NewCache() *Cache { return &Cache{} }

func (c *Cache) Set(tools []ToolManifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.updated = time.Now()
}

func (c *Cache) Get() ([]ToolManifest, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools, c.updated
}
