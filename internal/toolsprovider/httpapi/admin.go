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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/eventstore"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// AdminHandlers implements the thin, non-agent-facing command endpoints
// for registering the aggregates the catalog and access layers read (spec
// §6: "explicitly minimal since full admin CRUD is out of scope"). Each
// handler is a direct command dispatcher: decode request, invoke the
// aggregate's command method, append the resulting events.
type AdminHandlers struct {
	sources  *eventstore.Repository[domain.UpstreamSource]
	groups   *eventstore.Repository[domain.ToolGroup]
	policies *eventstore.Repository[domain.AccessPolicy]
}

// NewAdminHandlers constructs AdminHandlers over the three write-side
// repositories.
func NewAdminHandlers(sources *eventstore.Repository[domain.UpstreamSource], groups *eventstore.Repository[domain.ToolGroup], policies *eventstore.Repository[domain.AccessPolicy]) *AdminHandlers {
	return &AdminHandlers{sources: sources, groups: groups, policies: policies}
}

type registerSourceRequest struct {
	Name            string          `json:"name"`
	DescriptorURL   string          `json:"descriptor_url"`
	SourceType      domain.SourceType `json:"source_type"`
	Auth            domain.AuthConfig `json:"auth"`
	DefaultAudience string          `json:"default_audience"`
}

// RegisterSource implements POST /internal/sources.
func (h *AdminHandlers) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := uuid.NewString()
	events, err := domain.NewUpstreamSource().Register(req.Name, req.DescriptorURL, req.SourceType, req.Auth, req.DefaultAudience)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.sources.Save(r.Context(), id, 0, events); err != nil {
		writeError(w, kerrors.Wrap(kerrors.KindUnknown, "failed to register source", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SetSourceEnabled implements POST /internal/sources/{id}/enable and
// /disable, sharing one handler parameterized by enable.
func (h *AdminHandlers) SetSourceEnabled(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		loaded, err := h.sources.Load(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		var events []eventstore.EventData
		if enable {
			events, err = loaded.State.Enable()
		} else {
			events, err = loaded.State.Disable()
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := h.sources.Save(r.Context(), id, loaded.Version, events); err != nil {
			writeError(w, kerrors.Wrap(kerrors.KindUnknown, "failed to update source", err))
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

type createGroupRequest struct {
	Name      string               `json:"name"`
	Selectors []domain.ToolSelector `json:"selectors"`
}

// CreateGroup implements POST /internal/groups.
func (h *AdminHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := uuid.NewString()
	events, err := domain.NewToolGroup().Create(req.Name, req.Selectors)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.groups.Save(r.Context(), id, 0, events); err != nil {
		writeError(w, kerrors.Wrap(kerrors.KindUnknown, "failed to create group", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type groupMutationRequest struct {
	Selector domain.ToolSelector `json:"selector,omitempty"`
	ToolID   string              `json:"tool_id,omitempty"`
}

// MutateGroup implements POST /internal/groups/{id}/{action} where action
// is one of add-selector, include-tool, exclude-tool, activate, deactivate.
func (h *AdminHandlers) MutateGroup(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req groupMutationRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
		}

		loaded, err := h.groups.Load(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		var events []eventstore.EventData
		switch action {
		case "add-selector":
			events, err = loaded.State.AddSelector(req.Selector)
		case "include-tool":
			events, err = loaded.State.IncludeTool(req.ToolID)
		case "exclude-tool":
			events, err = loaded.State.ExcludeTool(req.ToolID)
		case "activate":
			events, err = loaded.State.Activate()
		case "deactivate":
			events, err = loaded.State.Deactivate()
		default:
			writeError(w, kerrors.New(kerrors.KindValidation, "unknown group action"))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := h.groups.Save(r.Context(), id, loaded.Version, events); err != nil {
			writeError(w, kerrors.Wrap(kerrors.KindUnknown, "failed to update group", err))
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

type definePolicyRequest struct {
	Name            string                `json:"name"`
	ClaimMatchers   []domain.ClaimMatcher `json:"claim_matchers"`
	AllowedGroupIDs []string              `json:"allowed_group_ids"`
	Priority        int                   `json:"priority"`
}

// DefinePolicy implements POST /internal/policies.
func (h *AdminHandlers) DefinePolicy(w http.ResponseWriter, r *http.Request) {
	var req definePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := uuid.NewString()
	events, err := domain.NewAccessPolicy().Define(req.Name, req.ClaimMatchers, req.AllowedGroupIDs, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.policies.Save(r.Context(), id, 0, events); err != nil {
		writeError(w, kerrors.Wrap(kerrors.KindUnknown, "failed to define policy", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SetPolicyActive implements POST /internal/policies/{id}/activate and
// /deactivate.
func (h *AdminHandlers) SetPolicyActive(activate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		loaded, err := h.policies.Load(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		var events []eventstore.EventData
		if activate {
			events, err = loaded.State.Activate()
		} else {
			events, err = loaded.State.Deactivate()
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := h.policies.Save(r.Context(), id, loaded.Version, events); err != nil {
			writeError(w, kerrors.Wrap(kerrors.KindUnknown, "failed to update policy", err))
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}
