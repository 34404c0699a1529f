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

package circuitbreaker

import "sync"

// Manager hands out one Breaker per source id, creating it lazily on first
// use. pkg/registry.Registry isn't a fit here — its Register errors on a
// duplicate name, but breakers are created the first time a tool call for a
// never-before-seen source arrives, which needs atomic get-or-create.
type Manager struct {
	opts     Options
	onChange func(StateChange)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager constructs a Manager applying opts to every breaker it creates.
func NewManager(opts Options, onChange func(StateChange)) *Manager {
	return &Manager{opts: opts, onChange: onChange, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for sourceID, creating it if this is the first
// call for that source.
func (m *Manager) Get(sourceID string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[sourceID]; ok {
		return b
	}
	b := New(sourceID, m.opts, m.onChange)
	m.breakers[sourceID] = b
	return b
}

// Snapshot returns the current state of every breaker created so far, for
// an operator-facing status endpoint.
func (m *Manager) Snapshot() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.State()
	}
	return out
}
