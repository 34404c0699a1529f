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

// ClaimMatcherOperator is one of the fixed comparison semantics spec §4.11
// defines; there is no extension point for custom operators.
type ClaimMatcherOperator string

const (
	OpEquals     ClaimMatcherOperator = "equals"
	OpNotEquals  ClaimMatcherOperator = "not_equals"
	OpContains   ClaimMatcherOperator = "contains"
	OpNotContains ClaimMatcherOperator = "not_contains"
	OpMatches    ClaimMatcherOperator = "matches"
	OpIn         ClaimMatcherOperator = "in"
	OpNotIn      ClaimMatcherOperator = "not_in"
	OpExists     ClaimMatcherOperator = "exists"
)

// ClaimMatcher evaluates one JWT claim path against a value (spec §3, §4.11).
type ClaimMatcher struct {
	JSONPath string               `json:"json_path"`
	Operator ClaimMatcherOperator `json:"operator"`
	Value    string               `json:"value"`
}

// AccessPolicy grants a set of tool groups to any caller whose claims
// satisfy every matcher (AND); the access resolver OR-combines across
// policies (§4.11).
type AccessPolicy struct {
	ID              string
	Name            string
	ClaimMatchers   []ClaimMatcher
	AllowedGroupIDs []string
	Priority        int
	IsActive        bool

	exists bool
}

// NewAccessPolicy returns the zero aggregate state.
func NewAccessPolicy() AccessPolicy {
	return AccessPolicy{}
}

const (
	EventPolicyDefined       = "AccessPolicyDefined"
	EventPolicyMatchersSet   = "AccessPolicyMatchersSet"
	EventPolicyGroupsSet     = "AccessPolicyGroupsSet"
	EventPolicyPrioritySet   = "AccessPolicyPrioritySet"
	EventPolicyActivated     = "AccessPolicyActivated"
	EventPolicyDeactivated   = "AccessPolicyDeactivated"
)

type PolicyDefined struct {
	Name            string
	ClaimMatchers   []ClaimMatcher
	AllowedGroupIDs []string
	Priority        int
}
type PolicyMatchersSet struct{ ClaimMatchers []ClaimMatcher }
type PolicyGroupsSet struct{ AllowedGroupIDs []string }
type PolicyPrioritySet struct{ Priority int }
type PolicyActivated struct{}
type PolicyDeactivated struct{}

// Define creates a new policy. Guard: a stream may only be defined once.
func (p AccessPolicy) Define(name string, matchers []ClaimMatcher, allowedGroupIDs []string, priority int) ([]eventstore.EventData, error) {
	if p.exists {
		return nil, kerrors.New(kerrors.KindValidation, "policy already defined")
	}
	if name == "" {
		return nil, kerrors.New(kerrors.KindValidation, "policy name is required")
	}
	for _, m := range matchers {
		if !validOperator(m.Operator) {
			return nil, kerrors.New(kerrors.KindValidation, "unknown claim matcher operator: "+string(m.Operator))
		}
	}
	return []eventstore.EventData{{Type: EventPolicyDefined, Payload: PolicyDefined{
		Name: name, ClaimMatchers: matchers, AllowedGroupIDs: allowedGroupIDs, Priority: priority,
	}}}, nil
}

// SetMatchers replaces the policy's claim matchers wholesale.
func (p AccessPolicy) SetMatchers(matchers []ClaimMatcher) ([]eventstore.EventData, error) {
	if !p.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "policy not defined")
	}
	for _, m := range matchers {
		if !validOperator(m.Operator) {
			return nil, kerrors.New(kerrors.KindValidation, "unknown claim matcher operator: "+string(m.Operator))
		}
	}
	return []eventstore.EventData{{Type: EventPolicyMatchersSet, Payload: PolicyMatchersSet{ClaimMatchers: matchers}}}, nil
}

// SetGroups replaces the policy's allowed group ids wholesale.
func (p AccessPolicy) SetGroups(allowedGroupIDs []string) ([]eventstore.EventData, error) {
	if !p.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "policy not defined")
	}
	return []eventstore.EventData{{Type: EventPolicyGroupsSet, Payload: PolicyGroupsSet{AllowedGroupIDs: allowedGroupIDs}}}, nil
}

// SetPriority changes evaluation order among policies (§4.11 step 2:
// "descending priority").
func (p AccessPolicy) SetPriority(priority int) ([]eventstore.EventData, error) {
	if !p.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "policy not defined")
	}
	return []eventstore.EventData{{Type: EventPolicyPrioritySet, Payload: PolicyPrioritySet{Priority: priority}}}, nil
}

// Activate is a no-op if already active.
func (p AccessPolicy) Activate() ([]eventstore.EventData, error) {
	if !p.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "policy not defined")
	}
	if p.IsActive {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventPolicyActivated, Payload: PolicyActivated{}}}, nil
}

// Deactivate is a no-op if already inactive.
func (p AccessPolicy) Deactivate() ([]eventstore.EventData, error) {
	if !p.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "policy not defined")
	}
	if !p.IsActive {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventPolicyDeactivated, Payload: PolicyDeactivated{}}}, nil
}

func validOperator(op ClaimMatcherOperator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpMatches, OpIn, OpNotIn, OpExists:
		return true
	default:
		return false
	}
}

// FoldAccessPolicy applies one event to state.
func FoldAccessPolicy(state AccessPolicy, e eventstore.Event) (AccessPolicy, error) {
	switch e.Type {
	case EventPolicyDefined:
		var p PolicyDefined
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.exists = true
		state.Name = p.Name
		state.ClaimMatchers = p.ClaimMatchers
		state.AllowedGroupIDs = p.AllowedGroupIDs
		state.Priority = p.Priority
		state.IsActive = true
	case EventPolicyMatchersSet:
		var p PolicyMatchersSet
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.ClaimMatchers = p.ClaimMatchers
	case EventPolicyGroupsSet:
		var p PolicyGroupsSet
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.AllowedGroupIDs = p.AllowedGroupIDs
	case EventPolicyPrioritySet:
		var p PolicyPrioritySet
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.Priority = p.Priority
	case EventPolicyActivated:
		state.IsActive = true
	case EventPolicyDeactivated:
		state.IsActive = false
	}
	return state, nil
}
