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

package anomaly

import (
	"context"
	"math"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

// portScanThreshold is the distinct-destination-port count past which a
// source is flagged, per spec §4.5.
const portScanThreshold = 50

// PortScanDetector groups by source IP and flags sources contacting more
// than portScanThreshold distinct destination ports.
type PortScanDetector struct{}

func (PortScanDetector) Name() string     { return "port-scan" }
func (PortScanDetector) Category() string { return "Reconnaissance" }

func (PortScanDetector) Detect(_ context.Context, packets []pcaprecord.Record) ([]Anomaly, error) {
	ports := make(map[string]mapset.Set[uint16])
	frames := make(map[string][]uint64)
	lastSeen := make(map[string]int64)
	dst := make(map[string]string)

	for _, p := range packets {
		if p.SrcIP == "" || p.DstPort == 0 {
			continue
		}
		set, ok := ports[p.SrcIP]
		if !ok {
			set = mapset.NewSet[uint16]()
			ports[p.SrcIP] = set
		}
		set.Add(p.DstPort)
		frames[p.SrcIP] = append(frames[p.SrcIP], p.FrameNumber)
		if p.Timestamp > lastSeen[p.SrcIP] {
			lastSeen[p.SrcIP] = p.Timestamp
			dst[p.SrcIP] = p.DstIP
		}
	}

	var out []Anomaly
	for src, set := range ports {
		if set.Cardinality() <= portScanThreshold {
			continue
		}
		out = append(out, Anomaly{
			ID:             NewID(),
			DetectedAt:     lastSeen[src],
			Severity:       SeverityHigh,
			Type:           "PortScan",
			Description:    "source contacted more than 50 distinct destination ports",
			SrcIP:          src,
			DstIP:          dst[src],
			AffectedFrames: frames[src],
			Evidence:       map[string]any{"distinct_ports": set.Cardinality()},
			Recommendation: "block or rate-limit the source and investigate the scanned host",
		})
	}
	return out, nil
}

// insecurePortSeverity maps spec §4.5's insecure-service port table to its
// escalated severity.
var insecurePortSeverity = map[uint16]Severity{
	23:    SeverityCritical, // Telnet
	21:    SeverityCritical, // FTP
	139:   SeverityCritical, // NetBIOS
	445:   SeverityHigh,     // SMB
	3389:  SeverityHigh,     // RDP
	111:   SeverityHigh,     // RPC
	1433:  SeverityHigh,     // MSSQL
	1521:  SeverityHigh,     // Oracle
	3306:  SeverityHigh,     // MySQL
	5432:  SeverityHigh,     // PostgreSQL
	27017: SeverityHigh,     // MongoDB
	6379:  SeverityHigh,     // Redis
}

var insecurePorts = []uint16{21, 23, 25, 80, 110, 139, 143, 389, 445, 512, 513, 514, 1433, 1521, 3306, 5432, 5900, 6379, 8080, 9200, 11211, 27017}

func isInsecurePort(port uint16) bool {
	for _, p := range insecurePorts {
		if p == port {
			return true
		}
	}
	return false
}

// UnencryptedServiceDetector flags traffic on historically insecure ports.
type UnencryptedServiceDetector struct{}

func (UnencryptedServiceDetector) Name() string     { return "unencrypted-service" }
func (UnencryptedServiceDetector) Category() string { return "Insecure Services" }

func (UnencryptedServiceDetector) Detect(_ context.Context, packets []pcaprecord.Record) ([]Anomaly, error) {
	type group struct {
		frames       []uint64
		lastSeen     int64
		src, dst     string
		port         uint16
		count        int
	}
	groups := make(map[uint16]*group)

	for _, p := range packets {
		port := uint16(0)
		if isInsecurePort(p.DstPort) {
			port = p.DstPort
		} else if isInsecurePort(p.SrcPort) {
			port = p.SrcPort
		} else {
			continue
		}
		g, ok := groups[port]
		if !ok {
			g = &group{port: port}
			groups[port] = g
		}
		g.count++
		g.frames = append(g.frames, p.FrameNumber)
		if p.Timestamp >= g.lastSeen {
			g.lastSeen = p.Timestamp
			g.src, g.dst = p.SrcIP, p.DstIP
		}
	}

	var out []Anomaly
	for port, g := range groups {
		sev := SeverityMedium
		if s, ok := insecurePortSeverity[port]; ok {
			sev = s
		}
		out = append(out, Anomaly{
			ID:             NewID(),
			DetectedAt:     g.lastSeen,
			Severity:       sev,
			Type:           "UnencryptedService",
			Description:    "traffic observed on a historically insecure port",
			SrcIP:          g.src,
			DstIP:          g.dst,
			AffectedFrames: g.frames,
			Evidence:       map[string]any{"port": port, "packet_count": g.count},
			Recommendation: "migrate the service to its encrypted counterpart and restrict network access",
		})
	}
	return out, nil
}

// DDoSDetector flags a destination whose inbound traffic volume within one
// fixed, WindowNanos-aligned time window reaches a configured byte
// threshold. Windows do not slide: a burst that straddles a window boundary
// is split between the two windows and counted against each separately.
type DDoSDetector struct {
	WindowNanos   int64
	ByteThreshold uint64
}

func NewDDoSDetector(window int64, byteThreshold uint64) DDoSDetector {
	return DDoSDetector{WindowNanos: window, ByteThreshold: byteThreshold}
}

func (DDoSDetector) Name() string     { return "ddos-heuristic" }
func (DDoSDetector) Category() string { return "Availability" }

func (d DDoSDetector) Detect(_ context.Context, packets []pcaprecord.Record) ([]Anomaly, error) {
	if d.WindowNanos <= 0 {
		d.WindowNanos = int64(1_000_000_000) // 1s default
	}
	if d.ByteThreshold == 0 {
		d.ByteThreshold = 50_000_000
	}

	byDstWindow := make(map[string]map[int64]uint64)
	byDstFrames := make(map[string][]uint64)
	byDstSrc := make(map[string]string)
	byDstLast := make(map[string]int64)

	for _, p := range packets {
		if p.DstIP == "" {
			continue
		}
		bucket := p.Timestamp / d.WindowNanos
		wins, ok := byDstWindow[p.DstIP]
		if !ok {
			wins = make(map[int64]uint64)
			byDstWindow[p.DstIP] = wins
		}
		wins[bucket] += uint64(p.Length)
		byDstFrames[p.DstIP] = append(byDstFrames[p.DstIP], p.FrameNumber)
		if p.Timestamp > byDstLast[p.DstIP] {
			byDstLast[p.DstIP] = p.Timestamp
			byDstSrc[p.DstIP] = p.SrcIP
		}
	}

	var out []Anomaly
	for dst, wins := range byDstWindow {
		var peak uint64
		for _, bytes := range wins {
			if bytes > peak {
				peak = bytes
			}
		}
		if peak < d.ByteThreshold {
			continue
		}
		out = append(out, Anomaly{
			ID:             NewID(),
			DetectedAt:     byDstLast[dst],
			Severity:       SeverityCritical,
			Type:           "DDoS",
			Description:    "destination received traffic volume above threshold within a fixed time window",
			SrcIP:          byDstSrc[dst],
			DstIP:          dst,
			AffectedFrames: byDstFrames[dst],
			Evidence:       map[string]any{"peak_window_bytes": peak, "threshold": d.ByteThreshold},
			Recommendation: "engage upstream DDoS mitigation and rate-limit offending sources",
		})
	}
	return out, nil
}

// ExfiltrationDetector flags conversations whose total byte volume exceeds
// 100MB where the destination is not a private address.
type ExfiltrationDetector struct{}

const exfiltrationByteThreshold = 100 * 1024 * 1024

func (ExfiltrationDetector) Name() string     { return "exfiltration-heuristic" }
func (ExfiltrationDetector) Category() string { return "Data Exfiltration" }

func (ExfiltrationDetector) Detect(_ context.Context, packets []pcaprecord.Record) ([]Anomaly, error) {
	type convo struct {
		bytes    uint64
		frames   []uint64
		lastSeen int64
	}
	convos := make(map[pcaprecord.ConversationKey]*convo)

	for _, p := range packets {
		if p.SrcIP == "" || p.DstIP == "" || pcaprecord.IsInternal(p.DstIP) {
			continue
		}
		key := pcaprecord.ConversationKey{SrcIP: p.SrcIP, DstIP: p.DstIP, SrcPort: p.SrcPort, DstPort: p.DstPort, Protocol: p.Protocol}
		c, ok := convos[key]
		if !ok {
			c = &convo{}
			convos[key] = c
		}
		c.bytes += uint64(p.Length)
		c.frames = append(c.frames, p.FrameNumber)
		if p.Timestamp > c.lastSeen {
			c.lastSeen = p.Timestamp
		}
	}

	var out []Anomaly
	for key, c := range convos {
		if c.bytes <= exfiltrationByteThreshold {
			continue
		}
		out = append(out, Anomaly{
			ID:             NewID(),
			DetectedAt:     c.lastSeen,
			Severity:       SeverityHigh,
			Type:           "PotentialExfiltration",
			Description:    "conversation carried more than 100MB to a non-private destination",
			SrcIP:          key.SrcIP,
			DstIP:          key.DstIP,
			AffectedFrames: c.frames,
			Evidence:       map[string]any{"total_bytes": c.bytes},
			Recommendation: "review the destination and the data transferred; consider DLP controls",
		})
	}
	return out, nil
}

// SizeOutlierDetector flags packets whose length deviates more than three
// standard deviations from the trace's mean packet length.
type SizeOutlierDetector struct{}

func (SizeOutlierDetector) Name() string     { return "size-outlier" }
func (SizeOutlierDetector) Category() string { return "Anomalous Traffic" }

func (SizeOutlierDetector) Detect(_ context.Context, packets []pcaprecord.Record) ([]Anomaly, error) {
	if len(packets) < 2 {
		return nil, nil
	}

	var sum float64
	for _, p := range packets {
		sum += float64(p.Length)
	}
	mean := sum / float64(len(packets))

	var variance float64
	for _, p := range packets {
		d := float64(p.Length) - mean
		variance += d * d
	}
	variance /= float64(len(packets))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil, nil
	}

	var frames []uint64
	var lastSeen int64
	var src, dst string
	for _, p := range packets {
		z := (float64(p.Length) - mean) / stddev
		if math.Abs(z) > 3 {
			frames = append(frames, p.FrameNumber)
			if p.Timestamp > lastSeen {
				lastSeen = p.Timestamp
				src, dst = p.SrcIP, p.DstIP
			}
		}
	}
	if len(frames) == 0 {
		return nil, nil
	}

	return []Anomaly{{
		ID:             NewID(),
		DetectedAt:     lastSeen,
		Severity:       SeverityLow,
		Type:           "SizeOutlier",
		Description:    "packet-length distribution contains 3-sigma outliers",
		SrcIP:          src,
		DstIP:          dst,
		AffectedFrames: frames,
		Evidence:       map[string]any{"mean_length": mean, "stddev": stddev},
		Recommendation: "inspect the outlier packets for malformed or covert-channel traffic",
	}}, nil
}
