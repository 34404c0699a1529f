// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kestrel Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis, so usage counters survive
// process restarts and are shared across every agent-host replica rather
// than reset per instance the way MemoryStore is.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle except for Close, which this store forwards.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(scope Scope, identifier string, limitType LimitType, window TimeWindow) string {
	return strings.Join([]string{"ratelimit", string(scope), identifier, string(limitType), string(window)}, ":")
}

// GetUsage gets current usage for a specific limit.
func (s *RedisStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)

	pipe := s.client.TxPipeline()
	getAmount := pipe.Get(ctx, key)
	getTTL := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("redis rate limit get: %w", err)
	}

	amount, err := getAmount.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, time.Now().Add(window.Duration()), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis rate limit get: %w", err)
	}

	ttl := getTTL.Val()
	if ttl <= 0 {
		return 0, time.Now().Add(window.Duration()), nil
	}
	return amount, time.Now().Add(ttl), nil
}

// IncrementUsage increments usage for a specific limit, setting the window
// TTL only the first time a key is created so a burst of increments shares
// one expiry.
func (s *RedisStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)

	newAmount, err := s.client.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis rate limit incr: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis rate limit ttl: %w", err)
	}
	if ttl < 0 {
		if err := s.client.Expire(ctx, key, window.Duration()).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis rate limit expire: %w", err)
		}
		ttl = window.Duration()
	}

	return newAmount, time.Now().Add(ttl), nil
}

// SetUsage sets usage for a specific limit, used for explicit resets and
// window rollovers.
func (s *RedisStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	key := s.key(scope, identifier, limitType, window)
	ttl := time.Until(windowEnd)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, key, strconv.FormatInt(amount, 10), ttl).Err()
}

// DeleteUsage deletes all usage records for an identifier across every
// limit type and window, scanning by key prefix since Redis has no
// composite-key secondary index.
func (s *RedisStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	pattern := strings.Join([]string{"ratelimit", string(scope), identifier, "*"}, ":")
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis rate limit delete: %w", err)
		}
	}
	return iter.Err()
}

// DeleteExpired is a no-op: Redis TTLs already evict expired windows.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return nil
}

// Close forwards to the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
