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

package domain

import (
	"fmt"

	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// ToolStatus tracks whether a tool discovered in a past sync is still
// present in the upstream's current inventory.
type ToolStatus string

const (
	ToolStatusActive     ToolStatus = "active"
	ToolStatusDeprecated ToolStatus = "deprecated"
)

// ExecutionMode selects how the executor invokes a tool (§4.10 step 4).
type ExecutionMode string

const (
	ModeSyncHTTP   ExecutionMode = "sync_http"
	ModeAsyncPoll  ExecutionMode = "async_poll"
)

// PollConfig configures the async_poll execution mode's retry loop.
type PollConfig struct {
	MaxPollAttempts      int      `json:"max_poll_attempts"`
	PollIntervalSeconds  float64  `json:"poll_interval_seconds"`
	BackoffMultiplier    float64  `json:"backoff_multiplier"`
	MaxIntervalSeconds   float64  `json:"max_interval_seconds"`
	StatusURLTemplate    string   `json:"status_url_template"`
	StatusFieldPath      string   `json:"status_field_path"`
	CompletedValues      []string `json:"completed_values"`
	FailedValues         []string `json:"failed_values"`
	ResultFieldPath      string   `json:"result_field_path"`
}

// ExecutionProfile is the immutable recipe for invoking one tool's upstream
// operation. A new SourceTool definition replaces the whole profile in one
// ToolDefinitionChanged event rather than mutating it field-by-field.
type ExecutionProfile struct {
	Mode             ExecutionMode     `json:"mode"`
	Method           string            `json:"method"`
	URLTemplate      string            `json:"url_template"`
	HeadersTemplate  map[string]string `json:"headers_template,omitempty"`
	BodyTemplate     string            `json:"body_template,omitempty"`
	ContentType      string            `json:"content_type,omitempty"`
	RequiredAudience string            `json:"required_audience,omitempty"`
	RequiredScopes   []string          `json:"required_scopes,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	Poll             *PollConfig       `json:"poll_config,omitempty"`
	// ResponseMapping extracts named output fields from a successful
	// response by dot-notation path (§4.10 step 4); nil passes the parsed
	// body through unchanged.
	ResponseMapping map[string]string `json:"response_mapping,omitempty"`
}

// InputSchema is a JSON Schema document (Draft-7), kept untyped since tool
// schemas are arbitrary and only ever consumed through a JSON Schema
// validator (§4.10 step 1), never field-accessed directly.
type InputSchema map[string]any

// SourceTool is the aggregate for one operation discovered on an
// UpstreamSource. Its stream id is "{source_id}:{operation_id}".
type SourceTool struct {
	SourceID       string
	OperationID    string
	ToolName       string
	Description    string
	InputSchema    InputSchema
	Profile        ExecutionProfile
	Tags           []string
	LabelIDs       []string
	IsEnabled      bool
	Status         ToolStatus
	DefinitionHash string

	exists bool
}

// NewSourceTool returns the zero aggregate state.
func NewSourceTool() SourceTool {
	return SourceTool{}
}

// StreamKey builds the "{source_id}:{operation_id}" identity spec §3 names.
func StreamKey(sourceID, operationID string) string {
	return fmt.Sprintf("%s:%s", sourceID, operationID)
}

const (
	EventToolDiscovered        = "SourceToolDiscovered"
	EventToolDefinitionChanged = "SourceToolDefinitionChanged"
	EventToolDeprecated        = "SourceToolDeprecated"
	EventToolRestored          = "SourceToolRestored"
	EventToolEnabled           = "SourceToolEnabled"
	EventToolDisabled          = "SourceToolDisabled"
	EventToolLabelAdded        = "SourceToolLabelAdded"
	EventToolLabelRemoved      = "SourceToolLabelRemoved"
)

type ToolDiscovered struct {
	SourceID       string
	OperationID    string
	ToolName       string
	Description    string
	InputSchema    InputSchema
	Profile        ExecutionProfile
	Tags           []string
	DefinitionHash string
}

type ToolDefinitionChanged struct {
	ToolName       string
	Description    string
	InputSchema    InputSchema
	Profile        ExecutionProfile
	Tags           []string
	DefinitionHash string
}

type ToolDeprecated struct{}
type ToolRestored struct{}
type ToolEnabled struct{}
type ToolDisabled struct{}
type ToolLabelAdded struct{ LabelID string }
type ToolLabelRemoved struct{ LabelID string }

// Discover records a newly-seen operation. Guard: a tool stream may only be
// discovered once; subsequent syncs use UpdateDefinition.
func (t SourceTool) Discover(sourceID, operationID, toolName, description string, schema InputSchema, profile ExecutionProfile, tags []string, definitionHash string) ([]eventstore.EventData, error) {
	if t.exists {
		return nil, kerrors.New(kerrors.KindValidation, "tool already discovered")
	}
	return []eventstore.EventData{{Type: EventToolDiscovered, Payload: ToolDiscovered{
		SourceID: sourceID, OperationID: operationID, ToolName: toolName, Description: description,
		InputSchema: schema, Profile: profile, Tags: tags, DefinitionHash: definitionHash,
	}}}, nil
}

// UpdateDefinition re-emits the tool's definition when a re-sync finds it
// changed (schema, profile, tags, description). A no-op when the hash is
// unchanged from the last recorded definition.
func (t SourceTool) UpdateDefinition(toolName, description string, schema InputSchema, profile ExecutionProfile, tags []string, definitionHash string) ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	if definitionHash == t.DefinitionHash {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventToolDefinitionChanged, Payload: ToolDefinitionChanged{
		ToolName: toolName, Description: description, InputSchema: schema, Profile: profile,
		Tags: tags, DefinitionHash: definitionHash,
	}}}, nil
}

// Deprecate marks the tool absent from the latest inventory. Per invariant
// 3, deprecating forces IsEnabled=false.
func (t SourceTool) Deprecate() ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	if t.Status == ToolStatusDeprecated {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventToolDeprecated, Payload: ToolDeprecated{}}}, nil
}

// Restore reverses Deprecate, re-enabling the tool.
func (t SourceTool) Restore() ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	if t.Status == ToolStatusActive {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventToolRestored, Payload: ToolRestored{}}}, nil
}

// Enable is a no-op if already enabled.
func (t SourceTool) Enable() ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	if t.IsEnabled {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventToolEnabled, Payload: ToolEnabled{}}}, nil
}

// Disable is a no-op if already disabled.
func (t SourceTool) Disable() ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	if !t.IsEnabled {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventToolDisabled, Payload: ToolDisabled{}}}, nil
}

// AddLabel is a no-op if the label is already present.
func (t SourceTool) AddLabel(labelID string) ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	for _, id := range t.LabelIDs {
		if id == labelID {
			return nil, nil
		}
	}
	return []eventstore.EventData{{Type: EventToolLabelAdded, Payload: ToolLabelAdded{LabelID: labelID}}}, nil
}

// RemoveLabel is a no-op if the label is absent.
func (t SourceTool) RemoveLabel(labelID string) ([]eventstore.EventData, error) {
	if !t.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "tool not discovered")
	}
	found := false
	for _, id := range t.LabelIDs {
		if id == labelID {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventToolLabelRemoved, Payload: ToolLabelRemoved{LabelID: labelID}}}, nil
}

// FoldSourceTool applies one event to state.
func FoldSourceTool(state SourceTool, e eventstore.Event) (SourceTool, error) {
	switch e.Type {
	case EventToolDiscovered:
		var p ToolDiscovered
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.exists = true
		state.SourceID = p.SourceID
		state.OperationID = p.OperationID
		state.ToolName = p.ToolName
		state.Description = p.Description
		state.InputSchema = p.InputSchema
		state.Profile = p.Profile
		state.Tags = p.Tags
		state.DefinitionHash = p.DefinitionHash
		state.IsEnabled = true
		state.Status = ToolStatusActive
	case EventToolDefinitionChanged:
		var p ToolDefinitionChanged
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.ToolName = p.ToolName
		state.Description = p.Description
		state.InputSchema = p.InputSchema
		state.Profile = p.Profile
		state.Tags = p.Tags
		state.DefinitionHash = p.DefinitionHash
	case EventToolDeprecated:
		state.Status = ToolStatusDeprecated
		state.IsEnabled = false
	case EventToolRestored:
		state.Status = ToolStatusActive
		state.IsEnabled = true
	case EventToolEnabled:
		state.IsEnabled = true
	case EventToolDisabled:
		state.IsEnabled = false
	case EventToolLabelAdded:
		var p ToolLabelAdded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.LabelIDs = append(state.LabelIDs, p.LabelID)
	case EventToolLabelRemoved:
		var p ToolLabelRemoved
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		filtered := state.LabelIDs[:0]
		for _, id := range state.LabelIDs {
			if id != p.LabelID {
				filtered = append(filtered, id)
			}
		}
		state.LabelIDs = filtered
	}
	return state, nil
}
