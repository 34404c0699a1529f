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

	"github.com/robfig/cron/v3"

	"github.com/kestrelai/kestrel/pkg/eventstore"
)

const defaultReconcileBatchSize = 500

// Reconciliator streams committed events forward from the last persisted
// position, closing any gap left by a missed or dropped mediator
// notification (the mediator never blocks a slow subscriber — see
// eventstore.Mediator.Publish — so a subscriber that falls behind loses
// events it must recover here).
type Reconciliator struct {
	events    eventstore.Store
	projector *Projector
	store     *Store
	batchSize int
}

// NewReconciliator constructs a Reconciliator reading from events and
// applying through projector.
func NewReconciliator(events eventstore.Store, projector *Projector, store *Store) *Reconciliator {
	return &Reconciliator{events: events, projector: projector, store: store, batchSize: defaultReconcileBatchSize}
}

// CatchUp projects every event committed since the last persisted
// position, in batches, until none remain.
func (r *Reconciliator) CatchUp(ctx context.Context) error {
	pos, err := r.store.LastPosition(ctx)
	if err != nil {
		return err
	}

	for {
		events, err := r.events.LoadAllFrom(ctx, pos, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		for _, e := range events {
			if err := r.projector.Project(ctx, e); err != nil {
				slog.ErrorContext(ctx, "projector: skipping event that failed to project",
					"stream_id", e.StreamID, "event_type", e.Type, "error", err)
			}
			pos = e.GlobalPosition
		}

		if err := r.store.SavePosition(ctx, pos); err != nil {
			return err
		}
		if len(events) < r.batchSize {
			return nil
		}
	}
}

// Rebuild rewinds the persisted position to zero and re-projects every
// event in the store from the beginning, for a full read-model rebuild.
func (r *Reconciliator) Rebuild(ctx context.Context) error {
	if err := r.store.ResetPosition(ctx); err != nil {
		return err
	}
	return r.CatchUp(ctx)
}

// Scheduler runs Reconciliator.CatchUp on a cron spec, the same
// robfig/cron/v3-driven shape sourceadapter.Scheduler uses for periodic
// re-sync.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers a CatchUp job on spec (e.g. "@every 30s").
func NewScheduler(spec string, reconciliator *Reconciliator) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		if err := reconciliator.CatchUp(ctx); err != nil {
			slog.ErrorContext(ctx, "projector: scheduled reconciliation failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start begins running the scheduled reconciliation job.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for any in-flight run to finish, then halts scheduling.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
