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

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := New("s1", Options{FailureThreshold: 3, RecoveryTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow(context.Background()))
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow(context.Background()))
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow(context.Background())
	require.Error(t, err)
	assert.Equal(t, kerrors.KindCircuitOpen, kerrors.KindOf(err))
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := New("s1", Options{FailureThreshold: 1, RecoveryTimeout: time.Millisecond}, nil)

	require.NoError(t, b.Allow(context.Background()))
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Allow(context.Background()))
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New("s1", Options{FailureThreshold: 1, RecoveryTimeout: time.Millisecond}, nil)

	require.NoError(t, b.Allow(context.Background()))
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Allow(context.Background()))
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ManualResetForcesClosed(t *testing.T) {
	b := New("s1", Options{FailureThreshold: 1}, nil)
	require.NoError(t, b.Allow(context.Background()))
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestManager_GetIsLazyAndStable(t *testing.T) {
	m := NewManager(Options{}, nil)
	a := m.Get("s1")
	b := m.Get("s1")
	assert.Same(t, a, b)

	c := m.Get("s2")
	assert.NotSame(t, a, c)
}
