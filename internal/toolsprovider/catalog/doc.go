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

// Package catalog computes each tool group's resolved tool set (spec
// §4.12): (selector matches ∪ explicit tool ids) − excluded tool ids,
// filtered to tools that are enabled, active, and whose source is enabled.
// Resolution is cached until a SourceTool or ToolGroup event invalidates
// it, and invalidation fans out as groups_updated/tools_updated
// notifications for the agent-facing SSE endpoint.
package catalog
