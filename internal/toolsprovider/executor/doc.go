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

// Package executor implements execute(tool_id, definition, arguments,
// agent_token, ...) → Result (spec §4.10): validate arguments against the
// tool's JSON Schema, exchange the caller's token for one scoped to the
// upstream audience, render the request templates, and run the request
// through the circuit breaker in either sync_http or async_poll mode.
package executor
