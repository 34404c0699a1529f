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

// Package mcp is the tool executor's runtime transport for tools
// discovered by sourceadapter.MCPAdapter. Discovery produces
// ExecutionProfiles whose URLTemplate looks like "mcp://<source>/<tool>"
// instead of an HTTP URL (sourceadapter/mcp.go); this package is what
// resolves that reference back into a live MCP session and a tools/call
// round-trip, the "runtime executor transport" the MCP dependency is
// listed against in SPEC_FULL.md's domain stack. A Caller is wired into
// executor.Executor as its MCPCaller, parallel to the Client used for
// sync_http/async_poll tools.
package mcp
