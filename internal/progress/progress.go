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

// Package progress merges multi-phase, multi-producer progress into a
// single monotonic 0-100 ProgressEvent stream, per spec §4.2. The
// coordinator is the single owner of all mutable state (high-water mark,
// per-phase stopwatches, last emission time) behind one mutex; child
// reporters are lightweight closures bound to a phase tag rather than
// back-references, avoiding the cyclic object mesh spec §9 flags.
package progress

import (
	"context"
	"sync"
	"time"

	sf "github.com/wissance/stringFormatter"

	"github.com/pcapforensics/analyzer/internal/telemetry"
)

// Phase names the five phases the coordinator merges, per spec §4.2.
type Phase string

const (
	PhaseCounting         Phase = "Counting"
	PhaseLoading          Phase = "Loading"
	PhaseParallelAnalysis Phase = "ParallelAnalysis"
	PhaseFinalizing       Phase = "Finalizing"
	PhaseTabLoading       Phase = "TabLoading"
)

// Sub-phase labels reported by the three concurrent producers inside
// PhaseParallelAnalysis.
const (
	SubStatistics = "Statistics"
	SubThreats    = "Threats"
	SubVoiceQoS   = "VoiceQoS"
)

// phaseOrder and phaseWeights must sum to 100, per spec §4.2.
var phaseOrder = []Phase{PhaseCounting, PhaseLoading, PhaseParallelAnalysis, PhaseFinalizing, PhaseTabLoading}

var phaseWeights = map[Phase]int{
	PhaseCounting:         5,
	PhaseLoading:          50,
	PhaseParallelAnalysis: 18,
	PhaseFinalizing:       2,
	PhaseTabLoading:       25,
}

// subPhaseWeights is the weighted average used to aggregate the three
// concurrent producers within PhaseParallelAnalysis.
var subPhaseWeights = map[string]float64{
	SubStatistics: 0.50,
	SubThreats:    0.40,
	SubVoiceQoS:   0.10,
}

// assumedPhaseThroughput is the bytes/sec this phase is assumed to process,
// used only to derive the time-based estimate for hybrid smoothing. These
// are coarse heuristics, not measured rates.
var assumedPhaseThroughput = map[Phase]float64{
	PhaseCounting:         200_000_000,
	PhaseLoading:          60_000_000,
	PhaseParallelAnalysis: 80_000_000,
	PhaseFinalizing:       300_000_000,
	PhaseTabLoading:       120_000_000,
}

const debounceInterval = 150 * time.Millisecond
const etaCap = 2 * time.Hour

// Event is the external ProgressEvent shape from spec §3/§6.
type Event struct {
	Phase             string
	Percent           int
	Detail            string
	SubPhase          string
	PacketsAnalyzed   uint64
	TotalPackets      uint64
	PacketsPerSecond  float64
	ThreatsDetected   int
	Elapsed           time.Duration
	RemainingEstimate *time.Duration
}

// Sink receives merged progress events. Returning is all it does; no error,
// matching spec's "None" cancellation / fire-and-forget sink contract.
type Sink func(Event)

// Coordinator is the single owner of progress state, per spec §9's
// recommended re-architecture.
type Coordinator struct {
	mu sync.Mutex

	fileSize int64
	sink     Sink
	emitter  *telemetry.Emitter

	startedAt    time.Time
	phaseStarted map[Phase]time.Time

	childRaw map[string]int // "ParallelAnalysis/Statistics" -> raw percent

	highWater    int
	lastEmitTime time.Time
	lastPercent  int
	completed    bool

	packetsAnalyzed uint64
	packetsExpected uint64
	threatsDetected int
}

// NewCoordinator constructs a Coordinator. fileSize drives the time-based
// smoothing estimate; sink receives every emitted event.
func NewCoordinator(fileSize int64, sink Sink, emitter *telemetry.Emitter) *Coordinator {
	if emitter == nil {
		emitter = telemetry.NewEmitter(false, nil)
	}
	return &Coordinator{
		fileSize:     fileSize,
		sink:         sink,
		emitter:      emitter,
		startedAt:    time.Now(),
		phaseStarted: make(map[Phase]time.Time),
		childRaw:     make(map[string]int),
		lastPercent:  -1,
	}
}

// SetThreatsDetected records the running threat count surfaced on every
// subsequent event.
func (c *Coordinator) SetThreatsDetected(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threatsDetected = n
}

// phaseReporter adapts a Coordinator + phase into the capture.Reporter shape
// (and the equivalent for stats/anomaly/voip producers) without the callee
// holding a reference back to the coordinator's internals.
type phaseReporter struct {
	c        *Coordinator
	phase    Phase
	subPhase string
}

// Report implements capture.Reporter and the analogous producer interfaces
// used by stats/anomaly/voip (percent, detail, sub, done, total). A non-empty
// subPhase overrides the sub-phase the reporter was bound to.
func (r phaseReporter) Report(ctx context.Context, percent int, detail string, subPhase string, done, total uint64) {
	sp := subPhase
	if sp == "" {
		sp = r.subPhase
	}
	r.c.report(ctx, r.phase, sp, percent, detail, done, total)
}

// ReporterFor returns a closure-based reporter bound to phase, for
// single-producer phases (Counting, Loading, Finalizing, TabLoading).
func (c *Coordinator) ReporterFor(phase Phase) phaseReporter {
	return phaseReporter{c: c, phase: phase}
}

// ReporterForSub returns a reporter bound to one of the three concurrent
// producers inside PhaseParallelAnalysis.
func (c *Coordinator) ReporterForSub(sub string) phaseReporter {
	return phaseReporter{c: c, phase: PhaseParallelAnalysis, subPhase: sub}
}

// loaderReporter dispatches by the subPhase label the loader passes
// ("Counting" or "Loading") to its matching top-level Phase, since the
// PacketLoader shares one Reporter across both of its sub-phases.
type loaderReporter struct{ c *Coordinator }

func (r loaderReporter) Report(ctx context.Context, percent int, detail string, subPhase string, done, total uint64) {
	phase := PhaseLoading
	if subPhase == string(PhaseCounting) {
		phase = PhaseCounting
	}
	r.c.report(ctx, phase, subPhase, percent, detail, done, total)
}

// LoaderReporter returns the Reporter bound to internal/capture.Loader,
// which labels its own reports "Counting" or "Loading".
func (c *Coordinator) LoaderReporter() loaderReporter { return loaderReporter{c: c} }

func (c *Coordinator) report(ctx context.Context, phase Phase, subPhase string, percent int, detail string, done, total uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if _, ok := c.phaseStarted[phase]; !ok {
		c.phaseStarted[phase] = time.Now()
	}

	if done > c.packetsAnalyzed {
		c.packetsAnalyzed = done
	}
	if total > c.packetsExpected {
		c.packetsExpected = total
	}

	globalPercent := c.computeGlobalPercent(phase, subPhase, percent)

	c.emitter.Emit(ctx, string(phase), map[string]any{
		"sub_phase":     subPhase,
		"raw_percent":   percent,
		"global_percent": globalPercent,
		"detail":        detail,
	})

	c.maybeEmit(globalPercent, detail, phase, subPhase)
}

// computeGlobalPercent maps a phase-local raw percent into the 0-100 global
// scale, applying hybrid time-based smoothing per spec §4.2.
func (c *Coordinator) computeGlobalPercent(phase Phase, subPhase string, raw int) int {
	base, span := c.phaseInterval(phase)
	timeEstimate := c.timeBasedPercent(phase)

	var localPercent int
	if phase == PhaseParallelAnalysis {
		key := string(phase) + "/" + subPhase
		c.childRaw[key] = raw
		aggregated := c.aggregateParallel()
		// parallel sub-phases: max(raw, time-based) so a slow child reporter
		// does not stall the bar.
		localPercent = aggregated
		if timeEstimate > localPercent {
			localPercent = timeEstimate
		}
		if c.allSubPhasesComplete() {
			localPercent = 100
		}
	} else {
		// sequential phases: min(raw, time-based) so a premature raw signal
		// never overshoots.
		localPercent = raw
		if timeEstimate < localPercent {
			localPercent = timeEstimate
		}
	}

	if localPercent < 0 {
		localPercent = 0
	}
	if localPercent > 100 {
		localPercent = 100
	}

	return base + (span*localPercent)/100
}

func (c *Coordinator) aggregateParallel() int {
	total := 0.0
	for sub, weight := range subPhaseWeights {
		key := string(PhaseParallelAnalysis) + "/" + sub
		total += weight * float64(c.childRaw[key])
	}
	return int(total)
}

func (c *Coordinator) allSubPhasesComplete() bool {
	for sub := range subPhaseWeights {
		key := string(PhaseParallelAnalysis) + "/" + sub
		if c.childRaw[key] < 100 {
			return false
		}
	}
	return len(c.childRaw) >= len(subPhaseWeights)
}

func (c *Coordinator) timeBasedPercent(phase Phase) int {
	if c.fileSize <= 0 {
		return 0
	}
	throughput := assumedPhaseThroughput[phase]
	if throughput <= 0 {
		return 0
	}
	expectedDuration := time.Duration(float64(c.fileSize) / throughput * float64(time.Second))
	if expectedDuration <= 0 {
		return 100
	}
	started, ok := c.phaseStarted[phase]
	if !ok {
		return 0
	}
	elapsed := time.Since(started)
	pct := int(elapsed * 100 / expectedDuration)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (c *Coordinator) phaseInterval(phase Phase) (base, span int) {
	acc := 0
	for _, p := range phaseOrder {
		w := phaseWeights[p]
		if p == phase {
			return acc, w
		}
		acc += w
	}
	return 0, 0
}

// maybeEmit applies the high-water clamp, the post-completion drop rule,
// and the debounce rule, then calls the sink exactly when an event should
// be delivered externally.
func (c *Coordinator) maybeEmit(globalPercent int, detail string, phase Phase, subPhase string) {
	if c.completed && globalPercent < 100 {
		return
	}

	if globalPercent < c.highWater {
		globalPercent = c.highWater
	}
	if globalPercent > c.highWater {
		c.highWater = globalPercent
	}

	increased := globalPercent >= c.lastPercent+1
	elapsedSinceEmit := time.Since(c.lastEmitTime)
	if c.lastPercent >= 0 && !increased && elapsedSinceEmit < debounceInterval {
		return
	}

	if c.lastPercent == 100 {
		// at most one emission has percent == 100, per spec invariant 4.
		return
	}

	c.lastPercent = globalPercent
	c.lastEmitTime = time.Now()

	c.emit(globalPercent, detail, phase, subPhase)
}

func (c *Coordinator) emit(percent int, detail string, phase Phase, subPhase string) {
	elapsed := time.Since(c.startedAt)

	var rate float64
	if elapsed > 0 {
		rate = float64(c.packetsAnalyzed) / elapsed.Seconds()
	}

	var remaining *time.Duration
	if percent >= 3 && elapsed >= time.Second {
		est := time.Duration(float64(elapsed) / float64(percent) * float64(100-percent))
		if est > etaCap {
			est = etaCap
		}
		if est > 0 {
			remaining = &est
		}
	}

	evt := Event{
		Phase:             string(phase),
		Percent:           percent,
		Detail:            detail,
		SubPhase:          subPhase,
		PacketsAnalyzed:   c.packetsAnalyzed,
		TotalPackets:       c.packetsExpected,
		PacketsPerSecond:  rate,
		ThreatsDetected:   c.threatsDetected,
		Elapsed:           elapsed,
		RemainingEstimate: remaining,
	}

	if c.sink != nil {
		c.sink(evt)
	}
}

// MarkComplete latches completion, after which further sub-100 reports are
// dropped, and emits a final 100% event unless a 100% event was already
// emitted, per spec §4.2.
func (c *Coordinator) MarkComplete(ctx context.Context, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return
	}
	c.completed = true
	c.highWater = 100
	if c.lastPercent == 100 {
		// at most one emission has percent == 100, as in maybeEmit.
		return
	}
	c.emit(100, detail, PhaseTabLoading, "")
	c.lastPercent = 100
}

// DebugLabel is a helper for telemetry/log correlation, following the
// teacher's sf.Format-based message composition.
func DebugLabel(phase Phase, sub string) string {
	if sub == "" {
		return sf.Format("phase:{0}", phase)
	}
	return sf.Format("phase:{0}/sub:{1}", phase, sub)
}
