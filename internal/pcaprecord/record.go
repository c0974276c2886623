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

// Package pcaprecord holds the canonical decoded packet record and the
// primitives (protocol tags, TCP flag bitsets, internal-address
// classification) every downstream analysis component reads.
package pcaprecord

import (
	"net"
	"strings"
)

type (
	// Protocol is the coarse protocol tag carried by a PacketRecord.
	Protocol uint8

	// TCPFlag is a single named TCP control bit.
	TCPFlag uint8

	// TCPFlags is a bitset of TCPFlag values.
	TCPFlags uint8

	// Record is the canonical decoded packet record. It is produced once by
	// the loader, owned by the packet vector inside an analysis result, and
	// never mutated afterwards.
	Record struct {
		FrameNumber  uint64
		Timestamp    int64 // UnixNano, wall clock
		Length       uint16
		SrcIP        string
		DstIP        string
		SrcPort      uint16
		DstPort      uint16
		Protocol     Protocol
		AppProtocol  string
		TCPFlags     TCPFlags
		Fingerprint  []byte // opaque OS-fingerprint payload, may be nil
		Summary      string
	}
)

const (
	ProtoOther Protocol = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
	ProtoARP
	ProtoHTTP
	ProtoHTTPS
	ProtoDNS
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	case ProtoICMP:
		return "ICMP"
	case ProtoARP:
		return "ARP"
	case ProtoHTTP:
		return "HTTP"
	case ProtoHTTPS:
		return "HTTPS"
	case ProtoDNS:
		return "DNS"
	default:
		return "Other"
	}
}

const (
	TCPFlagSYN TCPFlag = 1 << iota
	TCPFlagACK
	TCPFlagPSH
	TCPFlagFIN
	TCPFlagRST
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
)

func (f TCPFlags) Has(flag TCPFlag) bool { return f&TCPFlags(flag) != 0 }

// IsTermination reports whether the flag set carries a connection-ending
// combination (FIN or RST), mirroring the teacher's flow-termination check.
func (f TCPFlags) IsTermination() bool {
	return f.Has(TCPFlagFIN) || f.Has(TCPFlagRST)
}

// ConversationKey identifies an ordered 4-tuple + protocol conversation.
type ConversationKey struct {
	SrcIP, DstIP     string
	SrcPort, DstPort uint16
	Protocol         Protocol
}

// FlowKey identifies a VoIP/RTP flow by its unordered-at-capture 4-tuple, as
// seen on the wire (caller is responsible for canonicalizing direction when
// that matters).
type FlowKey struct {
	SrcIP, DstIP     string
	SrcPort, DstPort uint16
}

var (
	_, rfc1918A, _  = net.ParseCIDR("10.0.0.0/8")
	_, rfc1918B, _  = net.ParseCIDR("172.16.0.0/12")
	_, rfc1918C, _  = net.ParseCIDR("192.168.0.0/16")
	_, loopback4, _ = net.ParseCIDR("127.0.0.0/8")
	_, linkLocal4, _ = net.ParseCIDR("169.254.0.0/16")
	_, uniqueLocal6, _ = net.ParseCIDR("fc00::/7")
	_, linkLocal6, _   = net.ParseCIDR("fe80::/10")

	internalNets = []*net.IPNet{
		rfc1918A, rfc1918B, rfc1918C, loopback4, linkLocal4, uniqueLocal6, linkLocal6,
	}
)

// IsInternal reports whether addr falls within the RFC1918 / loopback /
// link-local ranges (and their IPv6 analogues) defined in spec §4.3.
func IsInternal(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, n := range internalNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
