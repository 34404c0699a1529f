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

package catalog

import "sync"

// NotificationType discriminates the two SSE event names the agent-facing
// catalog stream emits (spec §4.12).
type NotificationType string

const (
	ToolsUpdated  NotificationType = "tools_updated"
	GroupsUpdated NotificationType = "groups_updated"
)

// Notification is one invalidation event, broadcast to every SSE
// subscriber currently attached to GET /agent/sse.
type Notification struct {
	Type    NotificationType
	GroupID string // empty when the change isn't scoped to one group
}

// Notifier fans out catalog invalidations the same way
// pkg/eventstore.Mediator fans out domain events: non-blocking send, a slow
// subscriber drops events rather than stalling the publisher.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]chan Notification
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]chan Notification)}
}

// Subscribe registers id (typically a connection id) to receive
// notifications from here on.
func (n *Notifier) Subscribe(id string) <-chan Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan Notification, 32)
	n.subs[id] = ch
	return ch
}

// Unsubscribe removes id and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.subs[id]; ok {
		delete(n.subs, id)
		close(ch)
	}
}

// Publish fans out to every subscriber without blocking.
func (n *Notifier) Publish(note Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
		}
	}
}
