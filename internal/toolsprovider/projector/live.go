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

package projector

import (
	"context"
	"log/slog"

	"github.com/kestrelai/kestrel/pkg/eventstore"
)

// LiveSubscriber projects events as they're appended, off the in-process
// mediator, so the read model and catalog/access caches stay current
// within milliseconds rather than waiting for the next Reconciliator pass.
type LiveSubscriber struct {
	mediator       *eventstore.Mediator
	projector      *Projector
	store          *Store
	subscriberName string
}

// NewLiveSubscriber wires projector to mediator under subscriberName.
func NewLiveSubscriber(mediator *eventstore.Mediator, projector *Projector, store *Store, subscriberName string) *LiveSubscriber {
	return &LiveSubscriber{mediator: mediator, projector: projector, store: store, subscriberName: subscriberName}
}

// Run consumes the mediator subscription until ctx is done or the mediator
// closes the channel. Intended to run in its own goroutine for the
// lifetime of the process.
func (s *LiveSubscriber) Run(ctx context.Context) {
	events := s.mediator.Subscribe(s.subscriberName)
	defer s.mediator.Unsubscribe(s.subscriberName)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := s.projector.Project(ctx, e); err != nil {
				slog.ErrorContext(ctx, "projector: live projection failed, will be caught by reconciliation",
					"stream_id", e.StreamID, "event_type", e.Type, "error", err)
				continue
			}
			if err := s.store.SavePosition(ctx, e.GlobalPosition); err != nil {
				slog.ErrorContext(ctx, "projector: failed to save position after live projection",
					"global_position", e.GlobalPosition, "error", err)
			}
		}
	}
}
