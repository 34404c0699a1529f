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

import "github.com/kestrelai/kestrel/pkg/eventstore"

// Repositories bundles one eventstore.Repository per aggregate type, built
// once at startup from a shared Store and Mediator.
type Repositories struct {
	Sources  *eventstore.Repository[UpstreamSource]
	Tools    *eventstore.Repository[SourceTool]
	Groups   *eventstore.Repository[ToolGroup]
	Policies *eventstore.Repository[AccessPolicy]
}

// NewRepositories wires the four aggregate repositories against store,
// publishing every appended event to mediator for the projector (and any
// other subscriber) to consume.
func NewRepositories(store eventstore.Store, mediator *eventstore.Mediator) *Repositories {
	return &Repositories{
		Sources:  eventstore.NewRepository(store, mediator, "UpstreamSource", NewUpstreamSource, FoldUpstreamSource),
		Tools:    eventstore.NewRepository(store, mediator, "SourceTool", NewSourceTool, FoldSourceTool),
		Groups:   eventstore.NewRepository(store, mediator, "ToolGroup", NewToolGroup, FoldToolGroup),
		Policies: eventstore.NewRepository(store, mediator, "AccessPolicy", NewAccessPolicy, FoldAccessPolicy),
	}
}
