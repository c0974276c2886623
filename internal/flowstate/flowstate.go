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

// Package flowstate provides a generic concurrent keyed accumulator with
// idle-entry reaping, adapted from the teacher's per-flow lock carrier
// (gchux-pcap-sidecar/pcap-cli/internal/transformer/flow_mutex.go's
// flowMutex/flowLockCarrier/startReaper). The teacher tracks TCP-flow trace
// state; here the same "haxmap-backed entries, reaped after an idle
// deadline" shape backs any long-lived, size-unbounded keyed state the
// pipeline accumulates concurrently. internal/geo's GeoIP lookup cache
// embeds a Table; internal/orchestrator's SessionCache deliberately does
// not, since the spec says that cache is reaped only by process exit.
package flowstate

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
)

// entry wraps a value with its last-touched timestamp, guarded by its own
// mutex so reaping one entry never blocks access to another — the same
// isolation the teacher's per-flow carrier mutex provides.
type entry[V any] struct {
	mu         sync.Mutex
	value      V
	lastTouch  time.Time
}

// Table is a concurrent map[K]V whose entries are reaped after sitting idle
// for longer than idleDeadline.
type Table[K comparable, V any] struct {
	idleDeadline time.Duration
	m            *haxmap.Map[K, *entry[V]]
}

// New constructs a Table and starts its reaper goroutine, stopped when ctx
// is done — mirroring the teacher's `go fm.startReaper(ctx)` pattern.
func New[K comparable, V any](ctx context.Context, idleDeadline time.Duration) *Table[K, V] {
	t := &Table[K, V]{
		idleDeadline: idleDeadline,
		m:            haxmap.New[K, *entry[V]](),
	}
	go t.startReaper(ctx)
	return t
}

func (t *Table[K, V]) startReaper(ctx context.Context) {
	ticker := time.NewTicker(t.idleDeadline)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stale []K
			t.m.ForEach(func(k K, e *entry[V]) bool {
				e.mu.Lock()
				idle := time.Since(e.lastTouch)
				e.mu.Unlock()
				if idle >= t.idleDeadline {
					stale = append(stale, k)
				}
				return true
			})
			for _, k := range stale {
				t.m.Del(k)
			}
		}
	}
}

// GetOrCompute returns the existing value for key, or computes and stores
// one via fn if absent, touching the entry's last-access time either way.
func (t *Table[K, V]) GetOrCompute(key K, fn func() V) V {
	e, _ := t.m.GetOrCompute(key, func() *entry[V] {
		return &entry[V]{value: fn(), lastTouch: time.Now()}
	})
	e.mu.Lock()
	e.lastTouch = time.Now()
	v := e.value
	e.mu.Unlock()
	return v
}

// Get returns the value for key without creating it.
func (t *Table[K, V]) Get(key K) (V, bool) {
	e, ok := t.m.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	e.mu.Lock()
	e.lastTouch = time.Now()
	v := e.value
	e.mu.Unlock()
	return v, true
}

// Set stores or replaces the value for key.
func (t *Table[K, V]) Set(key K, value V) {
	t.m.Set(key, &entry[V]{value: value, lastTouch: time.Now()})
}

// Len returns the number of live entries.
func (t *Table[K, V]) Len() uintptr { return t.m.Len() }
