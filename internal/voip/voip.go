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

// Package voip implements the VoiceQoSExtractor of spec §4.6: flow
// selection, per-flow latency/jitter sampling, percentile summaries, and a
// second-aligned time series. Flow accumulation follows the teacher's
// concurrent flow-keyed map idiom
// (gchux-pcap-sidecar/pcap-cli/internal/transformer/flow_mutex.go's
// haxmap-backed MutexMap), generalized here from a per-TCP-flow trace lock
// to a per-RTP/SIP-flow sample accumulator.
package voip

import (
	"math"
	"sort"

	"github.com/alphadose/haxmap"
	"github.com/zhangyunhao116/skipmap"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

const (
	sipPort1 = 5060
	sipPort2 = 5061

	rtpRangeMin = 16384
	rtpRangeMax = 32767

	highLatencyThresholdMs = 150.0
	highJitterThresholdMs  = 30.0

	minRealisticDeltaMs = 0.0
	maxRealisticDeltaMs = 5000.0
)

// IsEligible reports whether a packet belongs to the QoS-eligible traffic
// class per spec §4.6's port heuristic (DSCP inspection is a documented
// future enhancement, not authoritative here).
func IsEligible(p pcaprecord.Record) bool {
	return isEligiblePort(p.SrcPort) || isEligiblePort(p.DstPort)
}

func isEligiblePort(port uint16) bool {
	if port == sipPort1 || port == sipPort2 {
		return true
	}
	return port >= rtpRangeMin && port <= rtpRangeMax
}

// PercentileSummary carries the min/P5/avg/P95/max of a sample set.
type PercentileSummary struct {
	Min, P5, Avg, P95, Max float64
}

// Flow is spec §3's VoiceQoSFlow.
type Flow struct {
	Key             pcaprecord.FlowKey
	PacketCount     uint64
	ByteCount       uint64
	FirstSeen       int64
	LastSeen        int64
	LatencySamples  []float64
	JitterSamples   []float64
	LatencySummary  PercentileSummary
	JitterSummary   PercentileSummary
}

// TimeSeriesPoint is spec §3's VoiceQoSTimeSeriesPoint.
type TimeSeriesPoint struct {
	BucketStart    int64
	PacketCount    uint64
	ActiveFlows    int
	LatencySummary PercentileSummary
	JitterSummary  PercentileSummary
}

// Result bundles per-flow metrics and the high-latency/high-jitter lists.
type Result struct {
	Flows          []Flow
	HighLatency    []pcaprecord.FlowKey
	HighJitter     []pcaprecord.FlowKey
}

type flowAccum struct {
	key         pcaprecord.FlowKey
	packets     []pcaprecord.Record
	packetCount uint64
	byteCount   uint64
}

// Extract computes the VoiceQoSResult + VoiceQoSTimeSeries over an
// immutable packet vector.
func Extract(packets []pcaprecord.Record) (*Result, []TimeSeriesPoint) {
	flowMap := haxmap.New[pcaprecord.FlowKey, *flowAccum]()
	buckets := skipmap.NewInt64[*bucketAccum]()

	for _, p := range packets {
		if !IsEligible(p) {
			continue
		}

		key := pcaprecord.FlowKey{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort}
		acc, _ := flowMap.GetOrCompute(key, func() *flowAccum {
			return &flowAccum{key: key}
		})
		acc.packets = append(acc.packets, p)
		acc.packetCount++
		acc.byteCount += uint64(p.Length)

		bucketKey := p.Timestamp / int64(1_000_000_000)
		b, ok := buckets.Load(bucketKey)
		if !ok {
			b = &bucketAccum{}
			buckets.Store(bucketKey, b)
		}
		b.packets = append(b.packets, p)
	}

	var result Result
	flowMap.ForEach(func(_ pcaprecord.FlowKey, acc *flowAccum) bool {
		flow := buildFlow(acc)
		result.Flows = append(result.Flows, flow)
		if avg(flow.LatencySamples) > highLatencyThresholdMs {
			result.HighLatency = append(result.HighLatency, flow.Key)
		}
		if avg(flow.JitterSamples) > highJitterThresholdMs {
			result.HighJitter = append(result.HighJitter, flow.Key)
		}
		return true
	})

	sort.Slice(result.Flows, func(i, j int) bool {
		return flowLess(result.Flows[i].Key, result.Flows[j].Key)
	})

	var series []TimeSeriesPoint
	buckets.Range(func(bucketKey int64, b *bucketAccum) bool {
		series = append(series, buildBucket(bucketKey, b))
		return true
	})

	return &result, series
}

type bucketAccum struct {
	packets []pcaprecord.Record
}

func buildFlow(acc *flowAccum) Flow {
	sort.Slice(acc.packets, func(i, j int) bool { return acc.packets[i].Timestamp < acc.packets[j].Timestamp })

	flow := Flow{
		Key:         acc.key,
		PacketCount: acc.packetCount,
		ByteCount:   acc.byteCount,
	}
	if len(acc.packets) > 0 {
		flow.FirstSeen = acc.packets[0].Timestamp
		flow.LastSeen = acc.packets[len(acc.packets)-1].Timestamp
	}

	deltas := interPacketDeltasMs(acc.packets)
	flow.LatencySamples = deltas
	flow.JitterSamples = jitterOf(deltas)

	flow.LatencySummary = summarize(flow.LatencySamples)
	flow.JitterSummary = summarize(flow.JitterSamples)
	return flow
}

func buildBucket(bucketKey int64, b *bucketAccum) TimeSeriesPoint {
	sort.Slice(b.packets, func(i, j int) bool { return b.packets[i].Timestamp < b.packets[j].Timestamp })

	flows := make(map[pcaprecord.FlowKey][]pcaprecord.Record)
	for _, p := range b.packets {
		key := pcaprecord.FlowKey{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort}
		flows[key] = append(flows[key], p)
	}

	var allLatency, allJitter []float64
	for _, pkts := range flows {
		deltas := interPacketDeltasMs(pkts)
		allLatency = append(allLatency, deltas...)
		allJitter = append(allJitter, jitterOf(deltas)...)
	}

	return TimeSeriesPoint{
		BucketStart:    bucketKey,
		PacketCount:    uint64(len(b.packets)),
		ActiveFlows:    len(flows),
		LatencySummary: summarize(allLatency),
		JitterSummary:  summarize(allJitter),
	}
}

// interPacketDeltasMs computes inter-packet deltas in milliseconds,
// discarding deltas outside (0, 5000), per spec §4.6.
func interPacketDeltasMs(packets []pcaprecord.Record) []float64 {
	var out []float64
	for i := 1; i < len(packets); i++ {
		deltaNs := packets[i].Timestamp - packets[i-1].Timestamp
		deltaMs := float64(deltaNs) / 1e6
		if deltaMs <= minRealisticDeltaMs || deltaMs >= maxRealisticDeltaMs {
			continue
		}
		out = append(out, deltaMs)
	}
	return out
}

func jitterOf(latency []float64) []float64 {
	var out []float64
	for i := 1; i < len(latency); i++ {
		out = append(out, math.Abs(latency[i]-latency[i-1]))
	}
	return out
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// summarize computes min/P5/avg/P95/max via the ceil-ordinal rule of
// spec §4.6: sorted[ceil(p/100*n)-1], clamped to a valid index.
func summarize(vals []float64) PercentileSummary {
	if len(vals) == 0 {
		return PercentileSummary{}
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	n := len(sorted)
	return PercentileSummary{
		Min: sorted[0],
		P5:  sorted[percentileIndex(5, n)],
		Avg: avg(sorted),
		P95: sorted[percentileIndex(95, n)],
		Max: sorted[n-1],
	}
}

func percentileIndex(p, n int) int {
	idx := int(math.Ceil(float64(p) / 100.0 * float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func flowLess(a, b pcaprecord.FlowKey) bool {
	if a.SrcIP != b.SrcIP {
		return a.SrcIP < b.SrcIP
	}
	if a.DstIP != b.DstIP {
		return a.DstIP < b.DstIP
	}
	if a.SrcPort != b.SrcPort {
		return a.SrcPort < b.SrcPort
	}
	return a.DstPort < b.DstPort
}
