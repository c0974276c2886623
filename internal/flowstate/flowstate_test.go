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

package flowstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeCreatesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := New[string, int](ctx, time.Minute)
	calls := 0
	compute := func() int { calls++; return 42 }

	v1 := table.GetOrCompute("k", compute)
	v2 := table.GetOrCompute("k", compute)

	assert.Equal(t, 42, v1)
	assert.Equal(t, 42, v2)
	assert.Equal(t, 1, calls)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := New[string, string](ctx, time.Minute)
	table.Set("k", "v")

	v, ok := table.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestGetMissingKeyReturnsZeroValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := New[string, int](ctx, time.Minute)
	v, ok := table.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestLenReflectsStoredEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := New[string, int](ctx, time.Minute)
	table.Set("a", 1)
	table.Set("b", 2)
	assert.Equal(t, uintptr(2), table.Len())
}

func TestReaperEvictsIdleEntriesAfterDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := New[string, int](ctx, 20*time.Millisecond)
	table.Set("k", 1)

	// Poll the underlying map directly: Get would refresh the entry's idle
	// clock and keep it alive.
	require.Eventually(t, func() bool {
		_, ok := table.m.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
