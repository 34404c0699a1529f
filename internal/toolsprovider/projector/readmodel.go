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

	"github.com/kestrelai/kestrel/internal/toolsprovider/access"
	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
)

// ReadModel answers the catalog resolver's and access resolver's queries
// against the projected MongoDB documents, implementing
// catalog.ToolLister, catalog.GroupLister, and access.PolicyLister without
// either package needing to know MongoDB exists.
type ReadModel struct {
	store *Store
}

// NewReadModel wraps store.
func NewReadModel(store *Store) *ReadModel {
	return &ReadModel{store: store}
}

var _ catalog.ToolLister = (*ReadModel)(nil)
var _ catalog.GroupLister = (*ReadModel)(nil)
var _ access.PolicyLister = (*ReadModel)(nil)

func (r *ReadModel) sourceEnabled(ctx context.Context, sourceID string) bool {
	var doc sourceDoc
	err := r.store.sourcesCollection().FindOne(ctx, bson.M{"_id": sourceID}).Decode(&doc)
	if err != nil {
		return false
	}
	return doc.IsEnabled
}

// GetSource implements mcp.SourceLookup, letting the MCP call pool resolve
// a source's descriptor URL and auth config without depending on MongoDB
// itself.
func (r *ReadModel) GetSource(ctx context.Context, sourceID string) (domain.UpstreamSource, bool, error) {
	var doc sourceDoc
	err := r.store.sourcesCollection().FindOne(ctx, bson.M{"_id": sourceID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.UpstreamSource{}, false, nil
	}
	if err != nil {
		return domain.UpstreamSource{}, false, err
	}
	return domain.UpstreamSource{
		ID: doc.ID, Name: doc.Name, DescriptorURL: doc.DescriptorURL,
		SourceType: doc.SourceType, Auth: doc.Auth, IsEnabled: doc.IsEnabled, Health: doc.Health,
	}, true, nil
}

// ListSourceIDs returns every known upstream source id, for
// sourceadapter.Scheduler's periodic re-sync pass.
func (r *ReadModel) ListSourceIDs(ctx context.Context) ([]string, error) {
	cursor, err := r.store.sourcesCollection().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []sourceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// ListTools implements catalog.ToolLister.
func (r *ReadModel) ListTools(ctx context.Context) (map[string]catalog.ToolRecord, error) {
	cursor, err := r.store.toolsCollection().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []toolDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	sourcesEnabled := make(map[string]bool)
	out := make(map[string]catalog.ToolRecord, len(docs))
	for _, d := range docs {
		enabled, cached := sourcesEnabled[d.SourceID]
		if !cached {
			enabled = r.sourceEnabled(ctx, d.SourceID)
			sourcesEnabled[d.SourceID] = enabled
		}
		out[d.ID] = catalog.ToolRecord{
			ToolID: d.ID, SourceID: d.SourceID, SourceEnabled: enabled,
			ToolName: d.ToolName, Description: d.Description, InputSchema: d.InputSchema,
			Profile: d.Profile, Tags: d.Tags, LabelIDs: d.LabelIDs,
			IsEnabled: d.IsEnabled, Status: d.Status,
			Method: d.Profile.Method,
		}
	}
	return out, nil
}

// GetGroup implements catalog.GroupLister.
func (r *ReadModel) GetGroup(ctx context.Context, groupID string) (catalog.GroupRecord, bool, error) {
	var doc groupDoc
	err := r.store.groupsCollection().FindOne(ctx, bson.M{"_id": groupID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return catalog.GroupRecord{}, false, nil
	}
	if err != nil {
		return catalog.GroupRecord{}, false, err
	}
	return catalog.GroupRecord{
		GroupID: doc.ID, Selectors: doc.Selectors,
		ExplicitToolIDs: doc.ExplicitToolIDs, ExcludedToolIDs: doc.ExcludedToolIDs,
		IsActive: doc.IsActive,
	}, true, nil
}

// ActivePolicies implements access.PolicyLister.
func (r *ReadModel) ActivePolicies(ctx context.Context) ([]access.PolicyView, int64, error) {
	epoch, err := r.store.PolicyEpoch(ctx)
	if err != nil {
		return nil, 0, err
	}

	cursor, err := r.store.policiesCollection().Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var docs []policyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	views := make([]access.PolicyView, 0, len(docs))
	for _, d := range docs {
		views = append(views, access.PolicyView{
			ID: d.ID, ClaimMatchers: d.ClaimMatchers,
			AllowedGroupIDs: d.AllowedGroupIDs, Priority: d.Priority,
		})
	}
	return views, epoch, nil
}
