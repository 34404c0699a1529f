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

package eventstore

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer bounds how far a subscriber may lag the writer
// before the mediator starts dropping events for it.
const DefaultSubscriberBuffer = 256

// Mediator fans out appended events to process-local subscribers: the
// read-model projector, metrics, audit logging. A slow or stuck subscriber
// must never block the event-store writer, so Publish never blocks — a full
// subscriber channel causes that subscriber's event to be dropped and
// logged, not the append to fail.
type Mediator struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewMediator returns an empty Mediator.
func NewMediator() *Mediator {
	return &Mediator{subs: make(map[string]chan Event)}
}

// Subscribe registers name to receive every event published from here on.
// The returned channel is closed by Unsubscribe; callers range over it until
// closed, per spec's "channel/queue with close-on-done semantics" strategy.
func (m *Mediator) Subscribe(name string) <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.subs[name]; ok {
		return ch
	}
	ch := make(chan Event, DefaultSubscriberBuffer)
	m.subs[name] = ch
	return ch
}

// Unsubscribe removes name and closes its channel.
func (m *Mediator) Unsubscribe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.subs[name]; ok {
		delete(m.subs, name)
		close(ch)
	}
}

// Publish fans events out to every subscriber without blocking. Projection
// handlers consuming the returned channel must not raise on a bad event —
// they log-and-skip, per spec §4.13 — but the mediator applies the same
// discipline at the transport level: a subscriber that can't keep up loses
// events rather than stalling every other subscriber and the writer.
func (m *Mediator) Publish(ctx context.Context, events []Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
				slog.Default().WarnContext(ctx, "eventstore: dropped event for slow subscriber",
					"subscriber", name, "stream_id", e.StreamID, "event_type", e.Type)
			}
		}
	}
}

// Close unsubscribes and closes every subscriber channel.
func (m *Mediator) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ch := range m.subs {
		delete(m.subs, name)
		close(ch)
	}
}
