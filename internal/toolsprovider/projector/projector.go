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

package projector

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

type aggregateKind int

const (
	kindUnknown aggregateKind = iota
	kindSource
	kindTool
	kindGroup
	kindPolicy
)

var eventKinds = map[string]aggregateKind{
	domain.EventSourceRegistered: kindSource,
	domain.EventSourceSynced:     kindSource,
	domain.EventSourceSyncFailed: kindSource,
	domain.EventSourceEnabled:    kindSource,
	domain.EventSourceDisabled:   kindSource,

	domain.EventToolDiscovered:        kindTool,
	domain.EventToolDefinitionChanged: kindTool,
	domain.EventToolDeprecated:        kindTool,
	domain.EventToolRestored:          kindTool,
	domain.EventToolEnabled:           kindTool,
	domain.EventToolDisabled:          kindTool,
	domain.EventToolLabelAdded:        kindTool,
	domain.EventToolLabelRemoved:      kindTool,

	domain.EventGroupCreated:         kindGroup,
	domain.EventGroupSelectorAdded:   kindGroup,
	domain.EventGroupSelectorRemoved: kindGroup,
	domain.EventGroupToolIncluded:    kindGroup,
	domain.EventGroupToolExcluded:    kindGroup,
	domain.EventGroupActivated:       kindGroup,
	domain.EventGroupDeactivated:     kindGroup,

	domain.EventPolicyDefined:     kindPolicy,
	domain.EventPolicyMatchersSet: kindPolicy,
	domain.EventPolicyGroupsSet:   kindPolicy,
	domain.EventPolicyPrioritySet: kindPolicy,
	domain.EventPolicyActivated:   kindPolicy,
	domain.EventPolicyDeactivated: kindPolicy,
}

// Projector applies one event at a time by reloading the affected
// aggregate in full and replacing its read-model document, which makes
// re-processing the same event idempotent without per-event-type delta
// logic (spec §4.13).
type Projector struct {
	store    *Store
	sources  *eventstore.Repository[domain.UpstreamSource]
	tools    *eventstore.Repository[domain.SourceTool]
	groups   *eventstore.Repository[domain.ToolGroup]
	policies *eventstore.Repository[domain.AccessPolicy]
}

// New constructs a Projector over the given write-model repositories.
func New(store *Store, sources *eventstore.Repository[domain.UpstreamSource], tools *eventstore.Repository[domain.SourceTool], groups *eventstore.Repository[domain.ToolGroup], policies *eventstore.Repository[domain.AccessPolicy]) *Projector {
	return &Projector{store: store, sources: sources, tools: tools, groups: groups, policies: policies}
}

// Project reloads and re-upserts the aggregate event belongs to. Events
// whose type carries no read-model projection (none currently, reserved
// for future event types) are silently ignored rather than treated as an
// error, per spec §4.13's "unknown event types are skipped, not fatal".
func (p *Projector) Project(ctx context.Context, event eventstore.Event) error {
	switch eventKinds[event.Type] {
	case kindSource:
		return p.projectSource(ctx, event.StreamID)
	case kindTool:
		return p.projectTool(ctx, event.StreamID)
	case kindGroup:
		return p.projectGroup(ctx, event.StreamID)
	case kindPolicy:
		return p.projectPolicy(ctx, event.StreamID)
	default:
		return nil
	}
}

func (p *Projector) projectSource(ctx context.Context, streamID string) error {
	loaded, err := p.sources.Load(ctx, streamID)
	if err != nil {
		return err
	}
	doc := sourceDocFromState(streamID, loaded.State)
	return upsert(ctx, p.store.sourcesCollection(), streamID, doc)
}

func (p *Projector) projectTool(ctx context.Context, streamID string) error {
	loaded, err := p.tools.Load(ctx, streamID)
	if err != nil {
		return err
	}
	doc := toolDocFromState(streamID, loaded.State)
	return upsert(ctx, p.store.toolsCollection(), streamID, doc)
}

func (p *Projector) projectGroup(ctx context.Context, streamID string) error {
	loaded, err := p.groups.Load(ctx, streamID)
	if err != nil {
		return err
	}
	doc := groupDocFromState(streamID, loaded.State)
	return upsert(ctx, p.store.groupsCollection(), streamID, doc)
}

func (p *Projector) projectPolicy(ctx context.Context, streamID string) error {
	loaded, err := p.policies.Load(ctx, streamID)
	if err != nil {
		return err
	}
	doc := policyDocFromState(streamID, loaded.State)
	if err := upsert(ctx, p.store.policiesCollection(), streamID, doc); err != nil {
		return err
	}
	_, err = p.store.BumpPolicyEpoch(ctx)
	return err
}

func upsert(ctx context.Context, collection *mongo.Collection, id string, doc any) error {
	_, err := collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}
