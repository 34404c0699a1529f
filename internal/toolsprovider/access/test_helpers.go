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

package access

import (
	"context"
	"sync"
	"time"
)

type fakePolicyLister struct {
	policies []PolicyView
	epoch    int64
	calls    int
}

func (f *fakePolicyLister) ActivePolicies(ctx context.Context) ([]PolicyView, int64, error) {
	f.calls++
	return f.policies, f.epoch, nil
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]string)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

var _ Cache = (*memoryCache)(nil)
