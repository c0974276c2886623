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

package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeEmitClampsToHighWater(t *testing.T) {
	var events []Event
	c := NewCoordinator(0, func(e Event) { events = append(events, e) }, nil)
	c.highWater = 50
	c.lastPercent = 40

	c.maybeEmit(30, "detail", PhaseLoading, "")

	require.Len(t, events, 1)
	assert.Equal(t, 50, events[0].Percent)
}

func TestMaybeEmitDebouncesNonIncreasingRapidUpdates(t *testing.T) {
	var events []Event
	c := NewCoordinator(0, func(e Event) { events = append(events, e) }, nil)
	c.lastPercent = 50
	c.highWater = 50
	c.lastEmitTime = time.Now()

	c.maybeEmit(50, "x", PhaseLoading, "")

	assert.Empty(t, events)
}

func TestMaybeEmitDropsAfterCompletion(t *testing.T) {
	var events []Event
	c := NewCoordinator(0, func(e Event) { events = append(events, e) }, nil)
	c.completed = true

	c.maybeEmit(50, "x", PhaseLoading, "")

	assert.Empty(t, events)
}

func TestMarkCompleteEmitsSingleFinalEvent(t *testing.T) {
	var events []Event
	c := NewCoordinator(1000, func(e Event) { events = append(events, e) }, nil)

	c.MarkComplete(context.Background(), "done")
	require.Len(t, events, 1)
	assert.Equal(t, 100, events[0].Percent)

	c.MarkComplete(context.Background(), "done again")
	assert.Len(t, events, 1, "a second MarkComplete must not emit again")
}

func TestParallelAnalysisReachesFullSpanWhenAllSubPhasesComplete(t *testing.T) {
	var events []Event
	c := NewCoordinator(0, func(e Event) { events = append(events, e) }, nil)
	ctx := context.Background()

	c.ReporterForSub(SubStatistics).Report(ctx, 100, "done", "", 10, 10)
	c.ReporterForSub(SubThreats).Report(ctx, 100, "done", "", 10, 10)
	c.ReporterForSub(SubVoiceQoS).Report(ctx, 100, "done", "", 10, 10)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 73, last.Percent) // base(Counting+Loading=55) + span(ParallelAnalysis=18)
}

func TestLoaderReporterDispatchesBySubPhaseLabel(t *testing.T) {
	var events []Event
	c := NewCoordinator(0, func(e Event) { events = append(events, e) }, nil)
	lr := c.LoaderReporter()

	lr.Report(context.Background(), 100, "counted", string(PhaseCounting), 5, 5)

	require.NotEmpty(t, events)
	assert.Equal(t, string(PhaseCounting), events[0].Phase)
}

func TestDebugLabelFormatsWithAndWithoutSubPhase(t *testing.T) {
	assert.Equal(t, "phase:Loading", DebugLabel(PhaseLoading, ""))
	assert.Equal(t, "phase:ParallelAnalysis/sub:Statistics", DebugLabel(PhaseParallelAnalysis, SubStatistics))
}

func TestPhaseWeightsSumToOneHundred(t *testing.T) {
	total := 0
	for _, p := range phaseOrder {
		total += phaseWeights[p]
	}
	assert.Equal(t, 100, total)
}
