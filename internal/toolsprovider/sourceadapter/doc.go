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

// Package sourceadapter normalizes an upstream tool source — an OpenAPI
// descriptor or an MCP server manifest — into a flat list of ToolDefinition
// values the rest of the tools provider operates on (spec §4.7). Both
// variants implement the same Adapter interface so the source sync job
// doesn't care which kind of source it's refreshing.
package sourceadapter
