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

package orchestrator

import (
	"time"

	"github.com/pcapforensics/analyzer/internal/anomaly"
	"github.com/pcapforensics/analyzer/internal/pcaprecord"
	"github.com/pcapforensics/analyzer/internal/stats"
	"github.com/pcapforensics/analyzer/internal/threat"
	"github.com/pcapforensics/analyzer/internal/voip"
)

// AnalysisResult is spec §3's complete, cacheable artifact. It is
// constructed exactly once by Orchestrator.Run and never mutated
// afterwards; the memory footprint is explicitly allowed to reach
// 10-20GB and implementations must not truncate it.
type AnalysisResult struct {
	Packets            []pcaprecord.Record
	Statistics         *stats.NetworkStatistics
	NetworkTimeSeries  []stats.TimeSeriesPoint
	Threats            []threat.Threat
	Anomalies          []anomaly.Anomaly
	VoiceQoS           *voip.Result
	VoiceQoSSeries     []voip.TimeSeriesPoint

	FilePath       string
	ContentHashHex string
	AnalysisTime   time.Duration
	TotalPackets   uint64
	TotalBytes     uint64

	Truncated       bool
	DegradedReasons []string
}
