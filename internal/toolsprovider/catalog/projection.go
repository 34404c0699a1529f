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

package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// ToolRecord is the read-model projection of one SourceTool, enriched with
// its owning source's enabled flag (selector matching and eligibility both
// need it, and the write-model aggregate alone can't see it).
type ToolRecord struct {
	ToolID        string
	SourceID      string
	SourceEnabled bool
	ToolName      string
	Description   string
	InputSchema   domain.InputSchema
	Profile       domain.ExecutionProfile
	Tags          []string
	LabelIDs      []string
	IsEnabled     bool
	Status        domain.ToolStatus
	URLPath       string
	Method        string
}

// eligible reports whether the tool may ever appear in a resolved group,
// regardless of how it was admitted (selector or explicit id).
func (t ToolRecord) eligible() bool {
	return t.SourceEnabled && t.IsEnabled && t.Status == domain.ToolStatusActive
}

func (t ToolRecord) selectable() domain.SelectableTool {
	return domain.SelectableTool{
		SourceName: t.SourceID,
		ToolName:   t.ToolName,
		URLPath:    t.URLPath,
		Method:     t.Method,
		Tags:       t.Tags,
		LabelIDs:   t.LabelIDs,
	}
}

// GroupRecord is the read-model projection of one ToolGroup.
type GroupRecord struct {
	GroupID         string
	Selectors       []domain.ToolSelector
	ExplicitToolIDs []string
	ExcludedToolIDs []string
	IsActive        bool
}

// ToolLister supplies every known tool, keyed by tool id, for resolution.
type ToolLister interface {
	ListTools(ctx context.Context) (map[string]ToolRecord, error)
}

// GroupLister supplies one group's definition by id.
type GroupLister interface {
	GetGroup(ctx context.Context, groupID string) (GroupRecord, bool, error)
}

type cacheEntry struct {
	epoch  int64
	result map[string]ToolRecord
}

// Resolver computes and caches per-group resolved tool sets. The cache is
// invalidated wholesale by bumping epoch — simpler than tracking which
// groups a given tool/source change could affect, and resolution itself is
// cheap (a handful of selector matches over an in-memory tool list).
type Resolver struct {
	tools  ToolLister
	groups GroupLister

	epoch int64 // atomic

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Resolver.
func New(tools ToolLister, groups GroupLister) *Resolver {
	return &Resolver{tools: tools, groups: groups, cache: make(map[string]cacheEntry)}
}

// Invalidate bumps the cache epoch, so the next Resolve for any group
// recomputes rather than serving a stale cached set.
func (r *Resolver) Invalidate() {
	atomic.AddInt64(&r.epoch, 1)
}

// Resolve returns groupID's resolved tool set: (selector matches ∪
// explicit) − excluded, filtered to eligible tools (spec §4.12).
func (r *Resolver) Resolve(ctx context.Context, groupID string) (map[string]ToolRecord, error) {
	epoch := atomic.LoadInt64(&r.epoch)

	if cached, ok := r.cached(groupID, epoch); ok {
		return cached, nil
	}

	group, ok, err := r.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !ok || !group.IsActive {
		return nil, kerrors.New(kerrors.KindNotFound, "tool group not found or inactive")
	}

	tools, err := r.tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]ToolRecord)
	for id, tool := range tools {
		if !tool.eligible() {
			continue
		}
		if matchesAnySelector(group.Selectors, tool) {
			result[id] = tool
		}
	}
	for _, id := range group.ExplicitToolIDs {
		if tool, ok := tools[id]; ok && tool.eligible() {
			result[id] = tool
		}
	}
	for _, id := range group.ExcludedToolIDs {
		delete(result, id)
	}

	r.store(groupID, epoch, result)
	return result, nil
}

func matchesAnySelector(selectors []domain.ToolSelector, tool ToolRecord) bool {
	selectable := tool.selectable()
	for _, s := range selectors {
		if s.Matches(selectable) {
			return true
		}
	}
	return false
}

func (r *Resolver) cached(groupID string, epoch int64) (map[string]ToolRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[groupID]
	if !ok || entry.epoch != epoch {
		return nil, false
	}
	return entry.result, true
}

func (r *Resolver) store(groupID string, epoch int64, result map[string]ToolRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[groupID] = cacheEntry{epoch: epoch, result: result}
}
