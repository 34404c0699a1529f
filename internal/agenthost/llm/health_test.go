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

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	Provider
	calls int
}

func (p *countingProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	p.calls++
	return HealthStatus{Healthy: true, Message: "probe"}, nil
}

func (p *countingProvider) SetModelOverride(string) {}

func TestCachedProvider_ReusesResultWithinTTL(t *testing.T) {
	fake := &countingProvider{}
	cached := NewCachedProvider(fake, time.Minute)

	t0 := time.Unix(1000, 0)
	nowFunc = func() time.Time { return t0 }
	defer func() { nowFunc = time.Now }()

	_, err := cached.HealthCheck(context.Background())
	require.NoError(t, err)
	_, err = cached.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls, "second call within TTL must not re-probe")
}

func TestCachedProvider_ReprobesAfterTTLExpires(t *testing.T) {
	fake := &countingProvider{}
	cached := NewCachedProvider(fake, time.Minute)

	t0 := time.Unix(1000, 0)
	nowFunc = func() time.Time { return t0 }
	defer func() { nowFunc = time.Now }()

	_, err := cached.HealthCheck(context.Background())
	require.NoError(t, err)

	nowFunc = func() time.Time { return t0.Add(2 * time.Minute) }
	_, err = cached.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls, "call after TTL expiry must re-probe")
}

func TestNewCachedProvider_DefaultsTTLWhenNonPositive(t *testing.T) {
	cached := NewCachedProvider(&countingProvider{}, 0)
	assert.Equal(t, DefaultHealthCacheTTL, cached.ttl)
}
