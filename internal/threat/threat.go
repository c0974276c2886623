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

// Package threat projects NetworkAnomaly records into SecurityThreat
// records, per spec §4.5's "one-to-one mapping preserving fields" rule.
package threat

import (
	"github.com/pcapforensics/analyzer/internal/anomaly"
)

// Threat is spec §3's SecurityThreat.
type Threat struct {
	ID              string
	DetectedAt      int64
	Severity        anomaly.Severity
	Type            string
	Description     string
	SrcIP, DstIP    string
	AffectedFrames  []uint64
	Evidence        map[string]any
	Recommendation  string
	IsFalsePositive bool
}

// FromAnomaly implements the fixed severity/type-preserving projection:
// every SecurityThreat is the image of exactly one NetworkAnomaly.
func FromAnomaly(a anomaly.Anomaly) Threat {
	return Threat{
		ID:              a.ID,
		DetectedAt:      a.DetectedAt,
		Severity:        a.Severity,
		Type:            a.Type,
		Description:     a.Description,
		SrcIP:           a.SrcIP,
		DstIP:           a.DstIP,
		AffectedFrames:  a.AffectedFrames,
		Evidence:        a.Evidence,
		Recommendation:  a.Recommendation,
		IsFalsePositive: false,
	}
}

// ProjectAll maps a slice of anomalies to their threats in order.
func ProjectAll(anomalies []anomaly.Anomaly) []Threat {
	out := make([]Threat, len(anomalies))
	for i, a := range anomalies {
		out[i] = FromAnomaly(a)
	}
	return out
}
