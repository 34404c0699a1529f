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

package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// SourceLookup resolves an UpstreamSource by ID; implemented by
// projector.ReadModel so Caller doesn't need to know MongoDB exists, the
// same separation catalog.ToolLister and access.PolicyLister already use.
type SourceLookup interface {
	GetSource(ctx context.Context, sourceID string) (domain.UpstreamSource, bool, error)
}

// Caller is the executor.MCPCaller implementation: it resolves sourceID to
// a descriptor URL through SourceLookup, dials (or reuses) a Pool session,
// and runs one tools/call round trip.
type Caller struct {
	sources SourceLookup
	pool    *Pool
	name    string
	version string
}

// NewCaller builds a Caller identifying itself to upstream MCP servers as
// name/version during the initialize handshake, mirroring
// sourceadapter.NewMCPAdapter's client identity.
func NewCaller(sources SourceLookup, pool *Pool, name, version string) *Caller {
	return &Caller{sources: sources, pool: pool, name: name, version: version}
}

// Call implements executor.MCPCaller.
func (c *Caller) Call(ctx context.Context, sourceID, toolName string, arguments map[string]any) (any, error) {
	source, ok, err := c.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindUnknown, "look up MCP source", err)
	}
	if !ok {
		return nil, kerrors.New(kerrors.KindNotFound, "MCP source not found: "+sourceID)
	}
	if !source.IsEnabled {
		return nil, kerrors.New(kerrors.KindForbidden, "MCP source is disabled: "+sourceID)
	}

	sess, err := c.pool.Get(ctx, c.name, c.version, sourceID, source.DescriptorURL, source.Auth)
	if err != nil {
		return nil, err
	}

	result, err := sess.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: toolName, Arguments: arguments},
	})
	if err != nil {
		c.pool.Invalidate(sourceID)
		return nil, kerrors.Wrap(kerrors.KindUnavailable, "MCP tools/call", err)
	}
	if result.IsError {
		return nil, kerrors.New(kerrors.KindServerError, "MCP tool reported an error: "+contentText(result))
	}

	return parseResult(result), nil
}

// parseResult mirrors executor.parseBody's JSON-with-text-fallback
// convention: most MCP tools return one text block containing a JSON
// document, so that's tried first; anything else is joined as plain text.
func parseResult(result *mcp.CallToolResult) any {
	text := contentText(result)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}

func contentText(result *mcp.CallToolResult) string {
	var parts []string
	for _, block := range result.Content {
		if tc, ok := mcp.AsTextContent(block); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
