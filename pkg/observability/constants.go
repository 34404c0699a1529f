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

package observability

// Span attribute keys shared across the agent-host and tools-provider
// traces.
const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"

	AttrConversationID = "kestrel.conversation_id"
	AttrConnectionID   = "kestrel.connection_id"
	AttrRunID          = "kestrel.run_id"
	AttrToolCallID     = "kestrel.tool_call_id"
	AttrToolName       = "tool.name"
	AttrSourceID       = "kestrel.source_id"

	AttrLLMProvider     = "llm.provider"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"

	AttrErrorType  = "error.type"
	AttrStatusCode = "http.status_code"

	AttrHTTPMethod        = "http.method"
	AttrHTTPPath          = "http.path"
	AttrHTTPStatusCode    = "http.status_code"
	AttrHTTPResponseSize  = "http.response_size_bytes"
)

// Span names. DebugExporter.shouldCapture filters on this set.
const (
	SpanAgentRun      = "agent.run"
	SpanLLMCall       = "agent.llm_call"
	SpanToolExecution = "tools.execute"
	SpanHTTPRequest   = "http.request"
)

const DefaultServiceName = "kestrel"
