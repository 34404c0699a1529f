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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kestrelai/kestrel/internal/toolsprovider/catalog"
	"github.com/kestrelai/kestrel/internal/toolsprovider/executor"
	"github.com/kestrelai/kestrel/pkg/auth"
	"github.com/kestrelai/kestrel/pkg/observability"
)

// Config configures NewRouter.
type Config struct {
	Validator         auth.TokenValidator
	Catalog           *Catalog
	Executor          *executor.Executor
	Notifier          *catalog.Notifier
	Admin             *AdminHandlers
	Metrics           *observability.Metrics
	HeartbeatInterval time.Duration
	// AdminRoleClaimPath/AdminRole gate the internal command endpoints
	// behind a role claim, the same auth.RequireClaim mechanism the
	// agent-facing routes could use for a restricted tool group.
	AdminRoleClaimPath string
	AdminRole          string
}

// NewRouter builds the tools-provider's full HTTP surface (spec §6):
// unauthenticated health/metrics, bearer-authenticated agent endpoints,
// and bearer+role-authenticated internal command endpoints.
func NewRouter(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", healthzHandler)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	agentHandlers := NewAgentHandlers(cfg.Catalog, cfg.Executor, cfg.Notifier, cfg.HeartbeatInterval)

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPMiddleware(cfg.Validator))

		r.Get("/agent/tools", agentHandlers.ListTools)
		r.Get("/agent/sse", agentHandlers.Stream)
		r.Post("/agent/tools/call", agentHandlers.Call)

		if cfg.Admin != nil {
			r.Route("/internal", func(r chi.Router) {
				if cfg.AdminRoleClaimPath != "" {
					r.Use(auth.RequireClaim(cfg.AdminRoleClaimPath, cfg.AdminRole))
				}

				r.Post("/sources", cfg.Admin.RegisterSource)
				r.Post("/sources/{id}/enable", cfg.Admin.SetSourceEnabled(true))
				r.Post("/sources/{id}/disable", cfg.Admin.SetSourceEnabled(false))

				r.Post("/groups", cfg.Admin.CreateGroup)
				r.Post("/groups/{id}/add-selector", cfg.Admin.MutateGroup("add-selector"))
				r.Post("/groups/{id}/include-tool", cfg.Admin.MutateGroup("include-tool"))
				r.Post("/groups/{id}/exclude-tool", cfg.Admin.MutateGroup("exclude-tool"))
				r.Post("/groups/{id}/activate", cfg.Admin.MutateGroup("activate"))
				r.Post("/groups/{id}/deactivate", cfg.Admin.MutateGroup("deactivate"))

				r.Post("/policies", cfg.Admin.DefinePolicy)
				r.Post("/policies/{id}/activate", cfg.Admin.SetPolicyActive(true))
				r.Post("/policies/{id}/deactivate", cfg.Admin.SetPolicyActive(false))
			})
		}
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
