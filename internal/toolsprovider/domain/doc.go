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

// Package domain holds the tools-provider's event-sourced write model:
// UpstreamSource, SourceTool, ToolGroup and AccessPolicy aggregates. Each
// aggregate is a plain state struct plus a set of command methods that
// return the events a command would emit (guarded by the aggregate's
// invariants) and a Fold function that replays events into state. Commands
// never mutate the receiver — eventstore.Repository folds the returned
// events back through Fold after a successful append, and tests fold
// straight from a slice of events without touching the store at all.
package domain
