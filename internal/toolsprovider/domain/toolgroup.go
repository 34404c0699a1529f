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
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// ToolGroup is a named bundle of tools whose membership is computed from
// selectors ∪ explicit − excluded (spec §3, invariant 2).
type ToolGroup struct {
	ID               string
	Name             string
	Selectors        []ToolSelector
	ExplicitToolIDs  []string
	ExcludedToolIDs  []string
	IsActive         bool

	exists bool
}

// NewToolGroup returns the zero aggregate state.
func NewToolGroup() ToolGroup {
	return ToolGroup{}
}

const (
	EventGroupCreated         = "ToolGroupCreated"
	EventGroupSelectorAdded   = "ToolGroupSelectorAdded"
	EventGroupSelectorRemoved = "ToolGroupSelectorRemoved"
	EventGroupToolIncluded    = "ToolGroupToolIncluded"
	EventGroupToolExcluded    = "ToolGroupToolExcluded"
	EventGroupActivated       = "ToolGroupActivated"
	EventGroupDeactivated     = "ToolGroupDeactivated"
)

type GroupCreated struct {
	Name      string
	Selectors []ToolSelector
}
type GroupSelectorAdded struct{ Selector ToolSelector }
type GroupSelectorRemoved struct{ Index int }
type GroupToolIncluded struct{ ToolID string }
type GroupToolExcluded struct{ ToolID string }
type GroupActivated struct{}
type GroupDeactivated struct{}

// Create defines a new group. Guard: a stream may only be created once.
func (g ToolGroup) Create(name string, selectors []ToolSelector) ([]eventstore.EventData, error) {
	if g.exists {
		return nil, kerrors.New(kerrors.KindValidation, "group already created")
	}
	if name == "" {
		return nil, kerrors.New(kerrors.KindValidation, "group name is required")
	}
	return []eventstore.EventData{{Type: EventGroupCreated, Payload: GroupCreated{Name: name, Selectors: selectors}}}, nil
}

// AddSelector appends a membership selector.
func (g ToolGroup) AddSelector(selector ToolSelector) ([]eventstore.EventData, error) {
	if !g.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "group not created")
	}
	return []eventstore.EventData{{Type: EventGroupSelectorAdded, Payload: GroupSelectorAdded{Selector: selector}}}, nil
}

// RemoveSelector drops the selector at index. Guard: index must be in range.
func (g ToolGroup) RemoveSelector(index int) ([]eventstore.EventData, error) {
	if !g.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "group not created")
	}
	if index < 0 || index >= len(g.Selectors) {
		return nil, kerrors.New(kerrors.KindValidation, "selector index out of range")
	}
	return []eventstore.EventData{{Type: EventGroupSelectorRemoved, Payload: GroupSelectorRemoved{Index: index}}}, nil
}

// IncludeTool adds toolID to explicit_tool_ids; no-op if already present or
// already excluded (exclusion wins — a caller must ExcludeTool's inverse
// first, there is no "un-exclude" via IncludeTool alone).
func (g ToolGroup) IncludeTool(toolID string) ([]eventstore.EventData, error) {
	if !g.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "group not created")
	}
	if containsFold(g.ExplicitToolIDs, toolID) || containsFold(g.ExcludedToolIDs, toolID) {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventGroupToolIncluded, Payload: GroupToolIncluded{ToolID: toolID}}}, nil
}

// ExcludeTool adds toolID to excluded_tool_ids; no-op if already present.
func (g ToolGroup) ExcludeTool(toolID string) ([]eventstore.EventData, error) {
	if !g.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "group not created")
	}
	if containsFold(g.ExcludedToolIDs, toolID) {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventGroupToolExcluded, Payload: GroupToolExcluded{ToolID: toolID}}}, nil
}

// Activate is a no-op if already active.
func (g ToolGroup) Activate() ([]eventstore.EventData, error) {
	if !g.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "group not created")
	}
	if g.IsActive {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventGroupActivated, Payload: GroupActivated{}}}, nil
}

// Deactivate is a no-op if already inactive.
func (g ToolGroup) Deactivate() ([]eventstore.EventData, error) {
	if !g.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "group not created")
	}
	if !g.IsActive {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventGroupDeactivated, Payload: GroupDeactivated{}}}, nil
}

// FoldToolGroup applies one event to state.
func FoldToolGroup(state ToolGroup, e eventstore.Event) (ToolGroup, error) {
	switch e.Type {
	case EventGroupCreated:
		var p GroupCreated
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.exists = true
		state.Name = p.Name
		state.Selectors = p.Selectors
		state.IsActive = true
	case EventGroupSelectorAdded:
		var p GroupSelectorAdded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.Selectors = append(state.Selectors, p.Selector)
	case EventGroupSelectorRemoved:
		var p GroupSelectorRemoved
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		if p.Index >= 0 && p.Index < len(state.Selectors) {
			state.Selectors = append(state.Selectors[:p.Index], state.Selectors[p.Index+1:]...)
		}
	case EventGroupToolIncluded:
		var p GroupToolIncluded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.ExplicitToolIDs = append(state.ExplicitToolIDs, p.ToolID)
	case EventGroupToolExcluded:
		var p GroupToolExcluded
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.ExcludedToolIDs = append(state.ExcludedToolIDs, p.ToolID)
	case EventGroupActivated:
		state.IsActive = true
	case EventGroupDeactivated:
		state.IsActive = false
	}
	return state, nil
}
