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

// Package projector maintains the MongoDB read model catalog and access
// resolution query against, kept in sync with the write-model event
// streams (spec §4.13). Projection is idempotent: on any event, the
// affected aggregate is reloaded in full from the event store and the
// read-model document is replaced wholesale, so re-processing the same
// event (or reprocessing after a crash) converges on the same document
// rather than double-applying a delta. A LiveSubscriber keeps the read
// model current in near-real-time off the in-process mediator; a
// Reconciliator periodically re-streams from the last persisted position
// to close any gap a missed or dropped mediator event left behind, and
// can rebuild the whole read model from position zero on demand.
package projector
