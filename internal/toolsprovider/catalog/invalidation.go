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

import (
	"context"

	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/pkg/eventstore"
)

// toolInvalidatingEvents are SourceTool/UpstreamSource events that change
// which tools are eligible for any group's resolved set.
var toolInvalidatingEvents = map[string]bool{
	domain.EventToolDiscovered:        true,
	domain.EventToolDefinitionChanged: true,
	domain.EventToolDeprecated:        true,
	domain.EventToolRestored:          true,
	domain.EventToolEnabled:           true,
	domain.EventToolDisabled:          true,
	domain.EventSourceEnabled:         true,
	domain.EventSourceDisabled:        true,
}

// groupInvalidatingEvents are ToolGroup events that change group membership
// rules directly.
var groupInvalidatingEvents = map[string]bool{
	domain.EventGroupCreated:         true,
	domain.EventGroupSelectorAdded:   true,
	domain.EventGroupSelectorRemoved: true,
	domain.EventGroupToolIncluded:    true,
	domain.EventGroupToolExcluded:    true,
	domain.EventGroupActivated:       true,
	domain.EventGroupDeactivated:     true,
}

// Invalidator subscribes to the event store's mediator and keeps a Resolver
// and Notifier in sync with every tool/group change, so a caller never has
// to invalidate the cache by hand.
type Invalidator struct {
	resolver       *Resolver
	notifier       *Notifier
	mediator       *eventstore.Mediator
	subscriberName string
}

// NewInvalidator wires resolver and notifier to mediator under
// subscriberName (the Mediator.Subscribe key).
func NewInvalidator(resolver *Resolver, notifier *Notifier, mediator *eventstore.Mediator, subscriberName string) *Invalidator {
	return &Invalidator{resolver: resolver, notifier: notifier, mediator: mediator, subscriberName: subscriberName}
}

// Run consumes the mediator subscription until ctx is done or the mediator
// closes the channel, invalidating the resolver cache and notifying SSE
// subscribers for every relevant event. Intended to run in its own
// goroutine for the lifetime of the process.
func (inv *Invalidator) Run(ctx context.Context) {
	events := inv.mediator.Subscribe(inv.subscriberName)
	defer inv.mediator.Unsubscribe(inv.subscriberName)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch {
			case toolInvalidatingEvents[e.Type]:
				inv.resolver.Invalidate()
				inv.notifier.Publish(Notification{Type: ToolsUpdated})
			case groupInvalidatingEvents[e.Type]:
				inv.resolver.Invalidate()
				inv.notifier.Publish(Notification{Type: GroupsUpdated, GroupID: e.StreamID})
			}
		}
	}
}
