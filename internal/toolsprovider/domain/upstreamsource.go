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

// SourceType is the upstream descriptor format UpstreamSource.Sync expects.
type SourceType string

const (
	SourceTypeOpenAPI SourceType = "openapi"
	SourceTypeMCP     SourceType = "mcp"
)

// SourceHealth is recomputed from ConsecutiveFailures each time a sync
// result is recorded; it is never set directly by a command.
type SourceHealth string

const (
	HealthHealthy   SourceHealth = "healthy"
	HealthDegraded  SourceHealth = "degraded"
	HealthUnhealthy SourceHealth = "unhealthy"
	HealthUnknown   SourceHealth = "unknown"
)

// unhealthyAfter is the ConsecutiveFailures count at which a source's
// Health downgrades from degraded to unhealthy (any failure at all moves it
// from healthy to degraded). Distinct from the circuit breaker's
// failure_threshold (§4.9, default 5): health is an operator-facing signal
// over many sync cycles, the breaker is a per-call fast-fail.
const unhealthyAfter = 3

// AuthConfig describes how the source adapter authenticates to fetch the
// upstream descriptor (OpenAPI document or MCP manifest) — separate from
// the per-tool ExecutionProfile.RequiredAudience used at call time.
type AuthConfig struct {
	Type         string   `json:"type"` // "none" | "oauth2_client_credentials" | "api_key"
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	APIKeyHeader string   `json:"api_key_header,omitempty"`
	APIKeyValue  string   `json:"api_key_value,omitempty"`
}

// UpstreamSource is the aggregate root for one registered external API or
// MCP server.
type UpstreamSource struct {
	ID                  string
	Name                string
	DescriptorURL       string
	SourceType          SourceType
	Auth                AuthConfig
	DefaultAudience     string
	Health              SourceHealth
	InventoryHash       string
	InventoryCount      int
	IsEnabled           bool
	ConsecutiveFailures int

	exists bool
}

// NewUpstreamSource returns the zero aggregate state a fresh stream folds
// from.
func NewUpstreamSource() UpstreamSource {
	return UpstreamSource{Health: HealthUnknown}
}

const (
	EventSourceRegistered = "UpstreamSourceRegistered"
	EventSourceSynced     = "UpstreamSourceSynced"
	EventSourceSyncFailed = "UpstreamSourceSyncFailed"
	EventSourceEnabled    = "UpstreamSourceEnabled"
	EventSourceDisabled   = "UpstreamSourceDisabled"
)

type SourceRegistered struct {
	Name            string
	DescriptorURL   string
	SourceType      SourceType
	Auth            AuthConfig
	DefaultAudience string
}

type SourceSynced struct {
	InventoryHash  string
	InventoryCount int
}

type SourceSyncFailed struct {
	Error string
}

type SourceEnabled struct{}
type SourceDisabled struct{}

// Register creates a new source. Guard: a stream may only be registered
// once.
func (s UpstreamSource) Register(name, descriptorURL string, sourceType SourceType, auth AuthConfig, defaultAudience string) ([]eventstore.EventData, error) {
	if s.exists {
		return nil, kerrors.New(kerrors.KindValidation, "source already registered")
	}
	if sourceType != SourceTypeOpenAPI && sourceType != SourceTypeMCP {
		return nil, kerrors.New(kerrors.KindValidation, "unknown source_type: "+string(sourceType))
	}
	if name == "" || descriptorURL == "" {
		return nil, kerrors.New(kerrors.KindValidation, "name and descriptor_url are required")
	}
	return []eventstore.EventData{{Type: EventSourceRegistered, Payload: SourceRegistered{
		Name: name, DescriptorURL: descriptorURL, SourceType: sourceType, Auth: auth, DefaultAudience: defaultAudience,
	}}}, nil
}

// RecordSyncSuccess records a completed re-sync; it resets the consecutive
// failure counter and recomputes Health to healthy.
func (s UpstreamSource) RecordSyncSuccess(inventoryHash string, inventoryCount int) ([]eventstore.EventData, error) {
	if !s.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "source not registered")
	}
	return []eventstore.EventData{{Type: EventSourceSynced, Payload: SourceSynced{
		InventoryHash: inventoryHash, InventoryCount: inventoryCount,
	}}}, nil
}

// RecordSyncFailure records a failed re-sync attempt; ConsecutiveFailures
// increments and Health is recomputed from the new count.
func (s UpstreamSource) RecordSyncFailure(errMsg string) ([]eventstore.EventData, error) {
	if !s.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "source not registered")
	}
	return []eventstore.EventData{{Type: EventSourceSyncFailed, Payload: SourceSyncFailed{Error: errMsg}}}, nil
}

// Enable is a no-op if the source is already enabled.
func (s UpstreamSource) Enable() ([]eventstore.EventData, error) {
	if !s.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "source not registered")
	}
	if s.IsEnabled {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventSourceEnabled, Payload: SourceEnabled{}}}, nil
}

// Disable excludes the source (and transitively every tool it owns, per
// invariant 1) from the catalog. No-op if already disabled.
func (s UpstreamSource) Disable() ([]eventstore.EventData, error) {
	if !s.exists {
		return nil, kerrors.New(kerrors.KindNotFound, "source not registered")
	}
	if !s.IsEnabled {
		return nil, nil
	}
	return []eventstore.EventData{{Type: EventSourceDisabled, Payload: SourceDisabled{}}}, nil
}

// FoldUpstreamSource applies one event to state.
func FoldUpstreamSource(state UpstreamSource, e eventstore.Event) (UpstreamSource, error) {
	switch e.Type {
	case EventSourceRegistered:
		var p SourceRegistered
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.exists = true
		state.Name = p.Name
		state.DescriptorURL = p.DescriptorURL
		state.SourceType = p.SourceType
		state.Auth = p.Auth
		state.DefaultAudience = p.DefaultAudience
		state.IsEnabled = true
		state.Health = HealthUnknown
	case EventSourceSynced:
		var p SourceSynced
		if err := e.Unmarshal(&p); err != nil {
			return state, err
		}
		state.InventoryHash = p.InventoryHash
		state.InventoryCount = p.InventoryCount
		state.ConsecutiveFailures = 0
		state.Health = recomputeHealth(0)
	case EventSourceSyncFailed:
		state.ConsecutiveFailures++
		state.Health = recomputeHealth(state.ConsecutiveFailures)
	case EventSourceEnabled:
		state.IsEnabled = true
	case EventSourceDisabled:
		state.IsEnabled = false
	}
	return state, nil
}

func recomputeHealth(consecutiveFailures int) SourceHealth {
	switch {
	case consecutiveFailures == 0:
		return HealthHealthy
	case consecutiveFailures < unhealthyAfter:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}
