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

package httpapi

import (
	"context"

	"github.com/kestrelai/kestrel/internal/toolsprovider/access"
	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// ToolManifest is the wire shape GET /agent/tools returns per tool (spec
// §6: "ToolManifest = {tool_id, name, description, input_schema, source_id,
// source_path, tags[], version?}").
type ToolManifest struct {
	ToolID      string         `json:"tool_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	SourceID    string         `json:"source_id"`
	SourcePath  string         `json:"source_path"`
	Tags        []string       `json:"tags"`
}

// Catalog resolves the set of tools a caller's claims grant access to,
// bridging access.Resolver's group-id resolution to catalog.Resolver's
// per-group tool-set resolution (spec §4.11 followed by §4.12).
type Catalog struct {
	access  *access.Resolver
	catalog *catalog.Resolver
}

// NewCatalog constructs a Catalog.
func NewCatalog(accessResolver *access.Resolver, catalogResolver *catalog.Resolver) *Catalog {
	return &Catalog{access: accessResolver, catalog: catalogResolver}
}

// ResolveTools returns every tool claims may call, deduplicated across the
// groups its policies grant. skipAccessCache forces re-evaluation of
// access.Resolver's group cache (used after an admin mutation so a
// follow-up call observes it immediately).
func (c *Catalog) ResolveTools(ctx context.Context, claims *auth.Claims, skipAccessCache bool) (map[string]catalog.ToolRecord, error) {
	groupIDs, err := c.access.Resolve(ctx, claims, skipAccessCache)
	if err != nil {
		return nil, err
	}

	tools := make(map[string]catalog.ToolRecord)
	for groupID := range groupIDs {
		resolved, err := c.catalog.Resolve(ctx, groupID)
		if err != nil {
			if kerrors.KindOf(err) == kerrors.KindNotFound {
				continue // group deactivated/deleted after the policy granted it
			}
			return nil, err
		}
		for id, tool := range resolved {
			tools[id] = tool
		}
	}
	return tools, nil
}

func toManifest(id string, t catalog.ToolRecord) ToolManifest {
	return ToolManifest{
		ToolID:      id,
		Name:        t.ToolName,
		Description: t.Description,
		InputSchema: map[string]any(t.InputSchema),
		SourceID:    t.SourceID,
		SourcePath:  t.URLPath,
		Tags:        t.Tags,
	}
}
