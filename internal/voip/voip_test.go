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

package voip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

func rtpPacket(frame uint64, ts int64) pcaprecord.Record {
	return pcaprecord.Record{
		FrameNumber: frame,
		Timestamp:   ts,
		Length:      172,
		SrcIP:       "10.0.0.5",
		DstIP:       "10.0.0.6",
		SrcPort:     20000,
		DstPort:     20002,
		Protocol:    pcaprecord.ProtoUDP,
	}
}

func TestIsEligibleRecognizesSIPAndRTPRanges(t *testing.T) {
	assert.True(t, IsEligible(pcaprecord.Record{SrcPort: 5060}))
	assert.True(t, IsEligible(pcaprecord.Record{DstPort: 5061}))
	assert.True(t, IsEligible(pcaprecord.Record{SrcPort: 20000}))
	assert.False(t, IsEligible(pcaprecord.Record{SrcPort: 80, DstPort: 443}))
}

func TestExtractBuildsSingleFlowWithRegularCadence(t *testing.T) {
	var packets []pcaprecord.Record
	for i := int64(0); i < 10; i++ {
		packets = append(packets, rtpPacket(uint64(i), i*20_000_000)) // 20ms cadence
	}

	result, series := Extract(packets)
	require.Len(t, result.Flows, 1)
	flow := result.Flows[0]
	assert.Equal(t, uint64(10), flow.PacketCount)
	assert.InDelta(t, 20.0, flow.LatencySummary.Avg, 0.001)
	assert.Empty(t, result.HighLatency)
	assert.NotEmpty(t, series)
}

func TestExtractFlagsHighLatencyFlow(t *testing.T) {
	var packets []pcaprecord.Record
	for i := int64(0); i < 5; i++ {
		packets = append(packets, rtpPacket(uint64(i), i*200_000_000)) // 200ms cadence
	}

	result, _ := Extract(packets)
	require.Len(t, result.Flows, 1)
	assert.Contains(t, result.HighLatency, result.Flows[0].Key)
}

func TestExtractIgnoresNonEligibleTraffic(t *testing.T) {
	packets := []pcaprecord.Record{
		{FrameNumber: 1, SrcIP: "a", DstIP: "b", SrcPort: 80, DstPort: 443, Protocol: pcaprecord.ProtoTCP},
	}
	result, series := Extract(packets)
	assert.Empty(t, result.Flows)
	assert.Empty(t, series)
}

func TestSummarizeComputesExpectedPercentiles(t *testing.T) {
	s := summarize([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 5.5, s.Avg, 0.001)
}

func TestSummarizeHandlesEmptyInput(t *testing.T) {
	s := summarize(nil)
	assert.Equal(t, PercentileSummary{}, s)
}

func TestInterPacketDeltasDiscardsUnrealisticGaps(t *testing.T) {
	packets := []pcaprecord.Record{
		{Timestamp: 0},
		{Timestamp: 10_000_000},       // 10ms, kept
		{Timestamp: 10_000_000 + int64(6000 * 1e6)}, // 6000ms gap, discarded
	}
	deltas := interPacketDeltasMs(packets)
	require.Len(t, deltas, 1)
	assert.InDelta(t, 10.0, deltas[0], 0.001)
}
