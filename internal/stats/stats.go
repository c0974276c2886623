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

// Package stats implements the pure, synchronous StatisticsEngine of
// spec §4.3: protocol/endpoint/conversation/port aggregates and
// time-series, over an immutable packet vector.
package stats

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

type (
	ProtocolStats struct {
		PacketCount uint64
		ByteCount   uint64
	}

	EndpointStats struct {
		Address     string
		PacketCount uint64
		ByteCount   uint64
	}

	ConversationStats struct {
		Key          pcaprecord.ConversationKey
		PacketCount  uint64
		ByteCount    uint64
		CrossBorder  bool
		SrcCountry   string
		DstCountry   string
	}

	PortStats struct {
		Port        uint16
		PacketCount uint64
	}

	CountryStats struct {
		Country     string
		PacketCount uint64
		ByteCount   uint64
		UniqueIPs   int
	}

	CrossBorderFlow struct {
		SrcCountry  string
		DstCountry  string
		PacketCount uint64
		ByteCount   uint64
		Protocols   []string
	}

	TimeSeriesPoint struct {
		BucketStart   int64 // unix seconds
		ThroughputBps float64
		PacketsPerSec float64
		AnomaliesPerSec float64
	}

	NetworkStatistics struct {
		Protocols         map[string]*ProtocolStats
		TopSourceEndpoints []EndpointStats
		TopDestEndpoints   []EndpointStats
		TopConversations   []ConversationStats
		TopPorts           []PortStats
		CountryTable       map[string]*CountryStats
		CrossBorderFlows   []CrossBorderFlow
		UniqueIPs          mapset.Set[string]
		FirstPacketAt      int64
		LastPacketAt       int64
		TotalPackets       uint64
		TotalBytes         uint64
	}
)

// CountryResolver is the minimal shape the engine needs from GeoEnricher to
// annotate conversations as cross-border; the full enrichment pass is
// internal/geo's responsibility and runs before or interleaved with Compute.
type CountryResolver interface {
	CountryOf(ip string) string
}

const topN = 10

// Compute produces NetworkStatistics from an immutable packet vector, per
// spec §4.3. resolver may be nil, in which case conversations carry empty
// country fields and both CountryTable and CrossBorderFlows stay empty. The time-series view
// of the same packets is a separate concern; see TimeSeries.
func Compute(packets []pcaprecord.Record, resolver CountryResolver) *NetworkStatistics {
	ns := &NetworkStatistics{
		Protocols:    make(map[string]*ProtocolStats),
		CountryTable: make(map[string]*CountryStats),
		UniqueIPs:    mapset.NewSet[string](),
	}

	srcPackets := make(map[string]*EndpointStats)
	dstPackets := make(map[string]*EndpointStats)
	conversations := make(map[pcaprecord.ConversationKey]*ConversationStats)
	portFrames := make(map[uint16]mapset.Set[uint64])
	crossBorder := make(map[[2]string]*CrossBorderFlow)
	countryIPs := make(map[string]mapset.Set[string])

	for _, p := range packets {
		ns.TotalPackets++
		ns.TotalBytes += uint64(p.Length)

		if ns.FirstPacketAt == 0 || p.Timestamp < ns.FirstPacketAt {
			ns.FirstPacketAt = p.Timestamp
		}
		if p.Timestamp > ns.LastPacketAt {
			ns.LastPacketAt = p.Timestamp
		}

		proto := p.Protocol.String()
		ps, ok := ns.Protocols[proto]
		if !ok {
			ps = &ProtocolStats{}
			ns.Protocols[proto] = ps
		}
		ps.PacketCount++
		ps.ByteCount += uint64(p.Length)

		if p.SrcIP != "" {
			ns.UniqueIPs.Add(p.SrcIP)
			accumulateEndpoint(srcPackets, p.SrcIP, p.Length)
		}
		if p.DstIP != "" {
			ns.UniqueIPs.Add(p.DstIP)
			accumulateEndpoint(dstPackets, p.DstIP, p.Length)
		}

		if p.SrcIP != "" && p.DstIP != "" {
			key := pcaprecord.ConversationKey{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort, Protocol: p.Protocol}
			cs, ok := conversations[key]
			if !ok {
				cs = &ConversationStats{Key: key}
				conversations[key] = cs
			}
			cs.PacketCount++
			cs.ByteCount += uint64(p.Length)
		}

		// Wireshark-compatible port counting: a packet counts toward a port
		// if either endpoint uses it, deduped by frame number.
		for _, port := range []uint16{p.SrcPort, p.DstPort} {
			if port == 0 {
				continue
			}
			frames, ok := portFrames[port]
			if !ok {
				frames = mapset.NewSet[uint64]()
				portFrames[port] = frames
			}
			frames.Add(p.FrameNumber)
		}

		if resolver != nil && p.SrcIP != "" && p.DstIP != "" {
			srcCountry := resolver.CountryOf(p.SrcIP)
			dstCountry := resolver.CountryOf(p.DstIP)
			key := pcaprecord.ConversationKey{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort, Protocol: p.Protocol}
			if cs, ok := conversations[key]; ok {
				cs.SrcCountry, cs.DstCountry = srcCountry, dstCountry
				cs.CrossBorder = isCrossBorder(srcCountry, dstCountry)
			}

			addCountryTraffic(ns.CountryTable, countryIPs, srcCountry, p.SrcIP, p.Length)
			addCountryTraffic(ns.CountryTable, countryIPs, dstCountry, p.DstIP, p.Length)

			if isCrossBorder(srcCountry, dstCountry) {
				ck := [2]string{srcCountry, dstCountry}
				flow, ok := crossBorder[ck]
				if !ok {
					flow = &CrossBorderFlow{SrcCountry: srcCountry, DstCountry: dstCountry}
					crossBorder[ck] = flow
				}
				flow.PacketCount++
				flow.ByteCount += uint64(p.Length)
				flow.Protocols = appendUnique(flow.Protocols, proto)
			}
		}
	}

	for ip, count := range countryIPs {
		if cs, ok := ns.CountryTable[ip]; ok {
			cs.UniqueIPs = count.Cardinality()
		}
	}

	ns.TopSourceEndpoints = topEndpoints(srcPackets)
	ns.TopDestEndpoints = topEndpoints(dstPackets)
	ns.TopConversations = topConversations(conversations)
	ns.TopPorts = topPorts(portFrames)

	for _, flow := range crossBorder {
		ns.CrossBorderFlows = append(ns.CrossBorderFlows, *flow)
	}

	return ns
}

type bucketAccum struct {
	bytes, packets, anomalies uint64
}

func accumulateEndpoint(m map[string]*EndpointStats, addr string, length uint16) {
	e, ok := m[addr]
	if !ok {
		e = &EndpointStats{Address: addr}
		m[addr] = e
	}
	e.PacketCount++
	e.ByteCount += uint64(length)
}

func topEndpoints(m map[string]*EndpointStats) []EndpointStats {
	out := make([]EndpointStats, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PacketCount != out[j].PacketCount {
			return out[i].PacketCount > out[j].PacketCount
		}
		if out[i].ByteCount != out[j].ByteCount {
			return out[i].ByteCount > out[j].ByteCount
		}
		return out[i].Address < out[j].Address
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func topConversations(m map[pcaprecord.ConversationKey]*ConversationStats) []ConversationStats {
	out := make([]ConversationStats, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PacketCount != out[j].PacketCount {
			return out[i].PacketCount > out[j].PacketCount
		}
		return out[i].ByteCount > out[j].ByteCount
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func topPorts(m map[uint16]mapset.Set[uint64]) []PortStats {
	out := make([]PortStats, 0, len(m))
	for port, frames := range m {
		out = append(out, PortStats{Port: port, PacketCount: uint64(frames.Cardinality())})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PacketCount != out[j].PacketCount {
			return out[i].PacketCount > out[j].PacketCount
		}
		return out[i].Port < out[j].Port
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func addCountryTraffic(table map[string]*CountryStats, countryIPs map[string]mapset.Set[string], country, ip string, length uint16) {
	if country == "" {
		country = "Unknown"
	}
	cs, ok := table[country]
	if !ok {
		cs = &CountryStats{Country: country}
		table[country] = cs
	}
	cs.PacketCount++
	cs.ByteCount += uint64(length)

	ips, ok := countryIPs[country]
	if !ok {
		ips = mapset.NewSet[string]()
		countryIPs[country] = ips
	}
	ips.Add(ip)
}

func isCrossBorder(src, dst string) bool {
	if src == "" || dst == "" {
		return false
	}
	if src == "Local" || dst == "Local" || src == "Unknown" || dst == "Unknown" {
		return false
	}
	return src != dst
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

// TimeSeries buckets all packets by floor(timestamp/interval), per
// spec §4.3, returning throughput/packets-per-second/anomalies-per-second.
func TimeSeries(packets []pcaprecord.Record, interval time.Duration, anomalyFrames mapset.Set[uint64]) []TimeSeriesPoint {
	if interval <= 0 {
		return nil
	}
	buckets := make(map[int64]*bucketAccum)
	for _, p := range packets {
		key := p.Timestamp / interval.Nanoseconds()
		b, ok := buckets[key]
		if !ok {
			b = &bucketAccum{}
			buckets[key] = b
		}
		b.bytes += uint64(p.Length)
		b.packets++
		if anomalyFrames != nil && anomalyFrames.Contains(p.FrameNumber) {
			b.anomalies++
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	seconds := interval.Seconds()
	points := make([]TimeSeriesPoint, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		points = append(points, TimeSeriesPoint{
			BucketStart:     k * interval.Nanoseconds() / int64(time.Second),
			ThroughputBps:   float64(b.bytes) / seconds,
			PacketsPerSec:   float64(b.packets) / seconds,
			AnomaliesPerSec: float64(b.anomalies) / seconds,
		})
	}
	return points
}
