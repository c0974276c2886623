// Copyright 2024 Google LLC
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

// Package cache implements the keyed memoization backend used by
// MemoizedReportLayer: spec §4.8's
// content-addressed cache with bounded TTL, a priority hint, and
// transparent fallback to direct computation on CacheBackendFailure.
//
// MemoryBackend's sliding-TTL behavior is adapted from the teacher's
// idle-reaped entry table (internal/flowstate, itself adapted from
// flow_mutex.go); the LRU-by-priority eviction policy follows
// TheEntropyCollective-noisefs/pkg/storage/cache/memory.go's
// container/list-based MemoryCache.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pcapforensics/analyzer/internal/metrics"
	"github.com/pcapforensics/analyzer/internal/pipelineerr"
)

// Priority is a coarse eviction hint, higher survives memory pressure longer.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Backend is the minimal shape a memoization store must expose.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisBackend adapts go-redis to Backend, following
// etalazz-vsa/internal/ratelimiter/persistence/redis.go's client-wrapping
// style.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend { return &RedisBackend{client: client} }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// MemoryBackend is an in-process LRU-by-priority cache with absolute and
// sliding TTLs, the default backend when no Redis endpoint is configured.
type MemoryBackend struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type memoryRecord struct {
	key        string
	value      []byte
	priority   Priority
	expiresAt  time.Time
	slidingTTL time.Duration
	lastTouch  time.Time
}

func NewMemoryBackend(capacity int) *MemoryBackend {
	return &MemoryBackend{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	rec := el.Value.(*memoryRecord)
	now := time.Now()
	if now.After(rec.expiresAt) || now.Sub(rec.lastTouch) > rec.slidingTTL {
		b.order.Remove(el)
		delete(b.entries, key)
		return nil, false, nil
	}
	rec.lastTouch = now
	b.order.MoveToFront(el)
	return rec.value, true, nil
}

// SetWithPriority stores value with both an absolute TTL and a sliding
// window, per spec §4.8 ("10-15 min absolute, 10 min sliding").
func (b *MemoryBackend) SetWithPriority(_ context.Context, key string, value []byte, absoluteTTL, slidingTTL time.Duration, priority Priority) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if el, ok := b.entries[key]; ok {
		rec := el.Value.(*memoryRecord)
		rec.value = value
		rec.expiresAt = now.Add(absoluteTTL)
		rec.slidingTTL = slidingTTL
		rec.lastTouch = now
		rec.priority = priority
		b.order.MoveToFront(el)
		return nil
	}

	if b.capacity > 0 && len(b.entries) >= b.capacity {
		b.evictOne()
	}

	rec := &memoryRecord{key: key, value: value, priority: priority, expiresAt: now.Add(absoluteTTL), slidingTTL: slidingTTL, lastTouch: now}
	el := b.order.PushFront(rec)
	b.entries[key] = el
	return nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.SetWithPriority(ctx, key, value, ttl, ttl, PriorityNormal)
}

// evictOne drops the lowest-priority entry at the back of the LRU list,
// preferring recency among equal priorities.
func (b *MemoryBackend) evictOne() {
	var victim *list.Element
	for el := b.order.Back(); el != nil; el = el.Prev() {
		if victim == nil || el.Value.(*memoryRecord).priority < victim.Value.(*memoryRecord).priority {
			victim = el
		}
	}
	if victim != nil {
		rec := victim.Value.(*memoryRecord)
		b.order.Remove(victim)
		delete(b.entries, rec.key)
	}
}

// Decorator wraps a compute function of type T with content-addressed
// memoization. On any backend error it transparently falls back to direct
// computation, per spec §4.8's CacheBackendFailure policy.
type Decorator[T any] struct {
	backend     Backend
	absoluteTTL time.Duration
	slidingTTL  time.Duration
	priority    Priority
	metrics     *metrics.Registry
	name        string
}

func NewDecorator[T any](name string, backend Backend, absoluteTTL, slidingTTL time.Duration, priority Priority, reg *metrics.Registry) *Decorator[T] {
	return &Decorator[T]{name: name, backend: backend, absoluteTTL: absoluteTTL, slidingTTL: slidingTTL, priority: priority, metrics: reg}
}

// Get returns the cached value for key if present and unexpired, computing
// and storing it via compute otherwise. Backend failures never propagate:
// the decorator falls back to compute() directly and reports
// pipelineerr.KindCacheBackendFailure via the onDegraded callback if set.
func (d *Decorator[T]) Get(ctx context.Context, key string, onDegraded func(error), compute func() (T, error)) (T, error) {
	if raw, ok, err := d.tryBackendGet(ctx, key); err == nil && ok {
		var value T
		if jerr := json.Unmarshal(raw, &value); jerr == nil {
			d.metrics.CacheHit(d.name)
			return value, nil
		}
	} else if err != nil && onDegraded != nil {
		onDegraded(pipelineerr.New(pipelineerr.KindCacheBackendFailure, "get:"+d.name, err))
	}

	d.metrics.CacheMiss(d.name)
	value, err := compute()
	if err != nil {
		return value, err
	}

	if raw, jerr := json.Marshal(value); jerr == nil {
		if serr := d.trySetWithPriority(ctx, key, raw); serr != nil && onDegraded != nil {
			onDegraded(pipelineerr.New(pipelineerr.KindCacheBackendFailure, "set:"+d.name, serr))
		}
	}
	return value, nil
}

func (d *Decorator[T]) tryBackendGet(ctx context.Context, key string) ([]byte, bool, error) {
	if d.backend == nil {
		return nil, false, nil
	}
	return d.backend.Get(ctx, key)
}

func (d *Decorator[T]) trySetWithPriority(ctx context.Context, key string, raw []byte) error {
	if d.backend == nil {
		return nil
	}
	if mb, ok := d.backend.(*MemoryBackend); ok {
		return mb.SetWithPriority(ctx, key, raw, d.absoluteTTL, d.slidingTTL, d.priority)
	}
	return d.backend.Set(ctx, key, raw, d.absoluteTTL)
}
