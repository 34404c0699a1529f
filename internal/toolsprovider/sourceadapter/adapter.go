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

package sourceadapter

import (
	"context"
	"io"
	"net/http"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// ToolDefinition is one normalized tool extracted from a source descriptor,
// ready to drive domain.SourceTool.Discover/UpdateDefinition.
type ToolDefinition struct {
	OperationID string
	ToolName    string
	Description string
	InputSchema map[string]any
	Profile     domain.ExecutionProfile
	Tags        []string
}

// IngestionResult is the outcome of fetch_and_normalize (spec §4.7).
type IngestionResult struct {
	Tools         []ToolDefinition
	InventoryHash string
	Warnings      []string
	SourceVersion string
	OK            bool
	Error         string
}

// Adapter normalizes one kind of upstream descriptor into ToolDefinitions.
type Adapter interface {
	FetchAndNormalize(ctx context.Context, descriptorURL string, auth *domain.AuthConfig) (IngestionResult, error)
}

// ForSourceType returns the Adapter for t, or nil if t is unrecognized.
func ForSourceType(t domain.SourceType, openapi *OpenAPIAdapter, mcpAdapter *MCPAdapter) Adapter {
	switch t {
	case domain.SourceTypeOpenAPI:
		return openapi
	case domain.SourceTypeMCP:
		return mcpAdapter
	default:
		return nil
	}
}

// fetchRaw does a plain unauthenticated GET, used by the MCP variant to
// read a manifest file; the OpenAPI variant uses OpenAPIAdapter.fetch
// instead since it needs auth headers and httpclient's retry policy.
func fetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindValidation, "build manifest request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindUnavailable, "fetch MCP manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, kerrors.New(kerrors.KindUnavailable, "manifest fetch returned a non-2xx status")
	}
	return io.ReadAll(resp.Body)
}
