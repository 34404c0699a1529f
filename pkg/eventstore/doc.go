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

// Package eventstore implements the append-only event log both services'
// write models are built on: a per-stream sequence of (event_type, payload,
// version) records with an optimistic-concurrency check on append, plus an
// in-process mediator that fans out newly appended events to subscribers
// (the read-model projector, metrics, audit logging) without blocking the
// writer on a slow subscriber.
//
// Conversation (agent-host) and UpstreamSource/SourceTool/ToolGroup/
// AccessPolicy (tools-provider) aggregates are both built on the generic
// Repository in repository.go rather than hand-rolling their own fold loop.
package eventstore
