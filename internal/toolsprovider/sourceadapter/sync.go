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
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

// Syncer runs fetch_and_normalize against one UpstreamSource and reconciles
// the result into SourceTool aggregates: newly-seen operations are
// discovered and ones still present are updated. Operations no longer
// present in the upstream inventory are neither deprecated nor deleted;
// their SourceTool streams are left unchanged.
type Syncer struct {
	sources  *eventstore.Repository[domain.UpstreamSource]
	tools    *eventstore.Repository[domain.SourceTool]
	openapi  *OpenAPIAdapter
	mcp      *MCPAdapter
}

// NewSyncer wires a Syncer against the domain repositories and both adapter
// variants.
func NewSyncer(sources *eventstore.Repository[domain.UpstreamSource], tools *eventstore.Repository[domain.SourceTool], openapi *OpenAPIAdapter, mcpAdapter *MCPAdapter) *Syncer {
	return &Syncer{sources: sources, tools: tools, openapi: openapi, mcp: mcpAdapter}
}

// SyncSource fetches sourceID's descriptor, reconciles the discovered tools
// against existing SourceTool streams, and records the sync outcome on the
// UpstreamSource aggregate.
func (s *Syncer) SyncSource(ctx context.Context, sourceID string) error {
	loaded, err := s.sources.Load(ctx, sourceID)
	if err != nil {
		return err
	}
	source := loaded.State

	adapter := ForSourceType(source.SourceType, s.openapi, s.mcp)
	if adapter == nil {
		return fmt.Errorf("sourceadapter: no adapter for source type %q", source.SourceType)
	}

	result, err := adapter.FetchAndNormalize(ctx, source.DescriptorURL, &source.Auth)
	if err != nil || !result.OK {
		failMsg := result.Error
		if failMsg == "" && err != nil {
			failMsg = err.Error()
		}
		events, ferr := source.RecordSyncFailure(failMsg)
		if ferr != nil {
			return ferr
		}
		if _, serr := s.sources.Save(ctx, sourceID, loaded.Version, events); serr != nil {
			return serr
		}
		return err
	}

	for _, w := range result.Warnings {
		slog.Default().WarnContext(ctx, "source sync warning", "source_id", sourceID, "warning", w)
	}

	seen := make(map[string]struct{}, len(result.Tools))
	for _, def := range result.Tools {
		seen[def.OperationID] = struct{}{}
		if err := s.reconcileTool(ctx, sourceID, def); err != nil {
			return err
		}
	}

	events, err := source.RecordSyncSuccess(result.InventoryHash, len(result.Tools))
	if err != nil {
		return err
	}
	_, err = s.sources.Save(ctx, sourceID, loaded.Version, events)
	return err
}

func (s *Syncer) reconcileTool(ctx context.Context, sourceID string, def ToolDefinition) error {
	streamKey := domain.StreamKey(sourceID, def.OperationID)
	loaded, err := s.tools.Load(ctx, streamKey)
	if err != nil {
		return err
	}
	tool := loaded.State

	schema := domain.InputSchema(def.InputSchema)
	if loaded.Version == 0 {
		events, err := tool.Discover(sourceID, def.OperationID, def.ToolName, def.Description, schema, def.Profile, def.Tags, "")
		if err != nil {
			return err
		}
		_, err = s.tools.Save(ctx, streamKey, loaded.Version, events)
		return err
	}

	events, err := tool.UpdateDefinition(def.ToolName, def.Description, schema, def.Profile, def.Tags, "")
	if err != nil {
		return err
	}
	_, err = s.tools.Save(ctx, streamKey, loaded.Version, events)
	return err
}

// Scheduler periodically re-syncs a fixed list of sources on a cron
// schedule (spec §4.7: "periodically re-synced").
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler builds a Scheduler that invokes syncer.SyncSource for each
// of sourceIDs on the given cron spec (e.g. "@every 5m").
func NewScheduler(spec string, syncer *Syncer, sourceIDs func() []string) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		for _, id := range sourceIDs() {
			if err := syncer.SyncSource(ctx, id); err != nil {
				slog.Default().ErrorContext(ctx, "scheduled source sync failed", "source_id", id, "error", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start begins the cron scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
