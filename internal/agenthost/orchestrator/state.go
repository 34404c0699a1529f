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

package orchestrator

// State is the per-connection state machine spec §4.5 names:
//
//	CONNECTING → AUTHENTICATED → ACTIVE ⇄ {PRESENTING, WAITING_FOR_WIDGET, RUNNING_AGENT} → CLOSING → CLOSED
type State string

const (
	StateConnecting      State = "CONNECTING"
	StateAuthenticated   State = "AUTHENTICATED"
	StateActive          State = "ACTIVE"
	StatePresenting      State = "PRESENTING"
	StateWaitingForWidget State = "WAITING_FOR_WIDGET"
	StateRunningAgent    State = "RUNNING_AGENT"
	StateClosing         State = "CLOSING"
	StateClosed          State = "CLOSED"
)
