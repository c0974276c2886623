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

// Package anomaly implements the detector fan-out of spec §4.5: a registry
// of independent detectors run over the immutable packet vector, whose
// outputs are concatenated.
package anomaly

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

// Severity mirrors spec §3's shared anomaly/threat severity enum.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Anomaly is spec §3's NetworkAnomaly.
type Anomaly struct {
	ID              string
	DetectedAt      int64 // UnixNano
	Severity        Severity
	Type            string
	Description     string
	SrcIP, DstIP    string
	AffectedFrames  []uint64
	Evidence        map[string]any
	Recommendation  string
}

// Detector is the capability every fan-out member satisfies, per spec §4.5.
type Detector interface {
	Name() string
	Category() string
	Detect(ctx context.Context, packets []pcaprecord.Record) ([]Anomaly, error)
}

// Prioritizable is the optional extension for detectors that want to skip
// inapplicable traces or control run order within the fan-out.
type Prioritizable interface {
	CanDetect(packets []pcaprecord.Record) bool
	Priority() int
}

// Registry runs every registered Detector and concatenates their findings.
// A single detector's panic or error is isolated per spec §7's
// DetectorFailure policy: its anomalies are omitted and the fan-out
// continues.
type Registry struct {
	detectors []Detector
	onFailure func(name string, err error)
}

func NewRegistry(onFailure func(name string, err error)) *Registry {
	return &Registry{onFailure: onFailure}
}

func (r *Registry) Register(d Detector) { r.detectors = append(r.detectors, d) }

// Run executes all applicable detectors (by descending Priority when a
// detector implements Prioritizable) and concatenates their output.
func (r *Registry) Run(ctx context.Context, packets []pcaprecord.Record) []Anomaly {
	ordered := make([]Detector, len(r.detectors))
	copy(ordered, r.detectors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priorityOf(ordered[i]) > priorityOf(ordered[j])
	})

	var out []Anomaly
	for _, d := range ordered {
		if p, ok := d.(Prioritizable); ok && !p.CanDetect(packets) {
			continue
		}
		out = append(out, r.runOne(ctx, d, packets)...)
	}
	return out
}

func (r *Registry) runOne(ctx context.Context, d Detector, packets []pcaprecord.Record) (result []Anomaly) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.onFailure != nil {
				r.onFailure(d.Name(), panicErr(rec))
			}
			result = nil
		}
	}()

	found, err := d.Detect(ctx, packets)
	if err != nil {
		if r.onFailure != nil {
			r.onFailure(d.Name(), err)
		}
		return nil
	}
	return found
}

func priorityOf(d Detector) int {
	if p, ok := d.(Prioritizable); ok {
		return p.Priority()
	}
	return 0
}

func panicErr(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &panicValue{rec}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic: " + stringify(p.v) }

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}

// NewID returns a random (UUIDv4) identifier for a newly detected anomaly.
func NewID() string { return uuid.NewString() }
