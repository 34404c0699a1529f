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

// Package circuitbreaker implements a per-source failure isolator with
// CLOSED/OPEN/HALF_OPEN states (spec §4.9). No third-party circuit-breaker
// library appears anywhere in the retrieval pack (documented in
// DESIGN.md) — this is a small, self-contained state machine guarded by a
// mutex, in the same spirit as the teacher's own hand-rolled rate limiter
// state tracking in pkg/ratelimit.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Options configures a Breaker. Zero values fall back to spec defaults.
type Options struct {
	FailureThreshold int           // default 5
	RecoveryTimeout  time.Duration // default 30s
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 30 * time.Second
	}
	return o
}

// StateChange is published to an optional observer whenever the breaker
// transitions, for the observability layer to turn into a span/metric.
type StateChange struct {
	SourceID string
	From     State
	To       State
	At       time.Time
}

// Breaker is one per-source (or per-URL, when no source_id is available)
// instance. Its failure counter and state must be updated atomically across
// concurrent tool executions, hence the mutex rather than plain fields.
type Breaker struct {
	sourceID string
	opts     Options
	onChange func(StateChange)

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenUse bool // true once the single HALF_OPEN probe has been handed out
}

// New constructs a Breaker in the CLOSED state.
func New(sourceID string, opts Options, onChange func(StateChange)) *Breaker {
	return &Breaker{sourceID: sourceID, opts: opts.withDefaults(), onChange: onChange, state: StateClosed}
}

// Allow reports whether a call may proceed, transitioning OPEN→HALF_OPEN
// once recovery_timeout has elapsed. Returns a *kerrors.Error(KindCircuitOpen)
// when the call must be rejected without invoking the wrapped function.
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) >= b.opts.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenUse = true
			return nil
		}
		return kerrors.New(kerrors.KindCircuitOpen, "circuit open for source "+b.sourceID)
	case StateHalfOpen:
		if b.halfOpenUse {
			return kerrors.New(kerrors.KindCircuitOpen, "circuit half-open probe already in flight for source "+b.sourceID)
		}
		b.halfOpenUse = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call. In HALF_OPEN this closes the
// breaker and resets the failure counter; in CLOSED it resets the failure
// counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.failures = 0
		b.halfOpenUse = false
		b.transition(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports a network error or 5xx response. In CLOSED it
// increments the failure counter, opening the breaker at FailureThreshold;
// in HALF_OPEN the single probe failing reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.halfOpenUse = false
		b.openedAt = time.Now()
		b.transition(StateOpen)
	}
}

// Reset forces the breaker CLOSED regardless of current state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenUse = false
	b.transition(StateClosed)
}

// State returns the current state for observability.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onChange != nil {
		change := StateChange{SourceID: b.sourceID, From: from, To: to, At: time.Now()}
		go b.onChange(change)
	}
}
