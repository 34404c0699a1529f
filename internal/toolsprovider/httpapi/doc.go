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

// Package httpapi exposes the tools-provider's HTTP surface (spec §6):
// the agent-facing tool catalog, the SSE change stream, tool invocation,
// and a thin set of internal command endpoints for registering sources,
// groups, and access policies. Routing and middleware follow chi, the same
// router the agent-host's own server package uses.
package httpapi
