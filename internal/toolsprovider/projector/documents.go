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
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
)

// toolDoc is the read-model document for one SourceTool, keyed by its
// "{source_id}:{operation_id}" stream id.
type toolDoc struct {
	ID          string                   `bson:"_id"`
	SourceID    string                   `bson:"source_id"`
	OperationID string                   `bson:"operation_id"`
	ToolName    string                   `bson:"tool_name"`
	Description string                   `bson:"description"`
	InputSchema domain.InputSchema       `bson:"input_schema"`
	Profile     domain.ExecutionProfile  `bson:"profile"`
	Tags        []string                 `bson:"tags"`
	LabelIDs    []string                 `bson:"label_ids"`
	IsEnabled   bool                     `bson:"is_enabled"`
	Status      domain.ToolStatus        `bson:"status"`
}

func toolDocFromState(streamID string, t domain.SourceTool) toolDoc {
	return toolDoc{
		ID: streamID, SourceID: t.SourceID, OperationID: t.OperationID,
		ToolName: t.ToolName, Description: t.Description, InputSchema: t.InputSchema,
		Profile: t.Profile, Tags: t.Tags, LabelIDs: t.LabelIDs,
		IsEnabled: t.IsEnabled, Status: t.Status,
	}
}

// sourceDoc is the read-model document for one UpstreamSource.
type sourceDoc struct {
	ID            string              `bson:"_id"`
	Name          string              `bson:"name"`
	DescriptorURL string              `bson:"descriptor_url"`
	SourceType    domain.SourceType   `bson:"source_type"`
	Auth          domain.AuthConfig   `bson:"auth"`
	IsEnabled     bool                `bson:"is_enabled"`
	Health        domain.SourceHealth `bson:"health"`
}

func sourceDocFromState(streamID string, s domain.UpstreamSource) sourceDoc {
	return sourceDoc{
		ID: streamID, Name: s.Name, DescriptorURL: s.DescriptorURL, SourceType: s.SourceType,
		Auth: s.Auth, IsEnabled: s.IsEnabled, Health: s.Health,
	}
}

// groupDoc is the read-model document for one ToolGroup.
type groupDoc struct {
	ID              string                `bson:"_id"`
	Selectors       []domain.ToolSelector `bson:"selectors"`
	ExplicitToolIDs []string              `bson:"explicit_tool_ids"`
	ExcludedToolIDs []string              `bson:"excluded_tool_ids"`
	IsActive        bool                  `bson:"is_active"`
}

func groupDocFromState(streamID string, g domain.ToolGroup) groupDoc {
	return groupDoc{
		ID: streamID, Selectors: g.Selectors, ExplicitToolIDs: g.ExplicitToolIDs,
		ExcludedToolIDs: g.ExcludedToolIDs, IsActive: g.IsActive,
	}
}

// policyDoc is the read-model document for one AccessPolicy.
type policyDoc struct {
	ID              string                `bson:"_id"`
	ClaimMatchers   []domain.ClaimMatcher `bson:"claim_matchers"`
	AllowedGroupIDs []string              `bson:"allowed_group_ids"`
	Priority        int                   `bson:"priority"`
	IsActive        bool                  `bson:"is_active"`
}

func policyDocFromState(streamID string, p domain.AccessPolicy) policyDoc {
	return policyDoc{
		ID: streamID, ClaimMatchers: p.ClaimMatchers, AllowedGroupIDs: p.AllowedGroupIDs,
		Priority: p.Priority, IsActive: p.IsActive,
	}
}
