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

package capture

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

// GopacketOfflineReader is a local, single-process stand-in for the
// out-of-scope capture-reader subprocess. It decodes a pcap/pcapng file
// directly with gopacket, which is useful for local development and for
// exercising the pipeline in tests without a tshark dependency. Production
// deployments are expected to supply a Reader backed by the tshark/capinfos
// subprocess contract described in spec §6; this adapter never claims to be
// that contract.
type GopacketOfflineReader struct {
	mu sync.Mutex
}

type gopacketHandle struct {
	src    *gopacket.PacketSource
	handle *pcap.Handle
	frame  uint64
}

func NewGopacketOfflineReader() *GopacketOfflineReader { return &GopacketOfflineReader{} }

func (r *GopacketOfflineReader) CountPackets(_ context.Context, path string) (uint64, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return 0, err
	}
	defer handle.Close()

	var count uint64
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	for range src.Packets() {
		count++
	}
	return count, nil
}

func (r *GopacketOfflineReader) StartStream(_ context.Context, path string) (Handle, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	return &gopacketHandle{src: src, handle: handle}, nil
}

func (r *GopacketOfflineReader) NextPacket(_ context.Context, h Handle) (pcaprecord.Record, bool, error) {
	gh, ok := h.(*gopacketHandle)
	if !ok {
		return pcaprecord.Record{}, false, fmt.Errorf("capture: unexpected handle type %T", h)
	}

	pkt, err := gh.src.NextPacket()
	if err != nil {
		if err == io.EOF {
			return pcaprecord.Record{}, false, nil
		}
		return pcaprecord.Record{}, false, err
	}

	gh.frame++
	return decodeRecord(pkt, gh.frame), true, nil
}

func (r *GopacketOfflineReader) Stop(h Handle) {
	if gh, ok := h.(*gopacketHandle); ok && gh.handle != nil {
		gh.handle.Close()
	}
}

// Parallel is false: gopacket's offline source decodes strictly in capture order.
func (r *GopacketOfflineReader) Parallel() bool { return false }

func decodeRecord(pkt gopacket.Packet, frame uint64) pcaprecord.Record {
	rec := pcaprecord.Record{
		FrameNumber: frame,
		Timestamp:   pkt.Metadata().Timestamp.UnixNano(),
		Length:      uint16(pkt.Metadata().Length),
		Protocol:    pcaprecord.ProtoOther,
	}

	if v4 := pkt.Layer(layers.LayerTypeIPv4); v4 != nil {
		ip := v4.(*layers.IPv4)
		rec.SrcIP, rec.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	} else if v6 := pkt.Layer(layers.LayerTypeIPv6); v6 != nil {
		ip := v6.(*layers.IPv6)
		rec.SrcIP, rec.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	} else if arp := pkt.Layer(layers.LayerTypeARP); arp != nil {
		rec.Protocol = pcaprecord.ProtoARP
		return rec
	}

	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		t := tcp.(*layers.TCP)
		rec.Protocol = pcaprecord.ProtoTCP
		rec.SrcPort, rec.DstPort = uint16(t.SrcPort), uint16(t.DstPort)
		rec.TCPFlags = encodeTCPFlags(t)
	} else if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		u := udp.(*layers.UDP)
		rec.Protocol = pcaprecord.ProtoUDP
		rec.SrcPort, rec.DstPort = uint16(u.SrcPort), uint16(u.DstPort)
	} else if icmp := pkt.Layer(layers.LayerTypeICMPv4); icmp != nil {
		rec.Protocol = pcaprecord.ProtoICMP
	} else if icmp6 := pkt.Layer(layers.LayerTypeICMPv6); icmp6 != nil {
		rec.Protocol = pcaprecord.ProtoICMP
	}

	switch {
	case pkt.Layer(layers.LayerTypeDNS) != nil:
		rec.Protocol = pcaprecord.ProtoDNS
		rec.AppProtocol = "dns"
	case rec.DstPort == 443 || rec.SrcPort == 443:
		rec.Protocol = pcaprecord.ProtoHTTPS
		rec.AppProtocol = "tls"
	case rec.DstPort == 80 || rec.SrcPort == 80:
		rec.Protocol = pcaprecord.ProtoHTTP
		rec.AppProtocol = "http"
	}

	rec.Summary = fmt.Sprintf("%s %s:%d -> %s:%d len=%d", rec.Protocol, rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort, rec.Length)
	return rec
}

func encodeTCPFlags(t *layers.TCP) pcaprecord.TCPFlags {
	var f pcaprecord.TCPFlags
	if t.SYN {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagSYN)
	}
	if t.ACK {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagACK)
	}
	if t.PSH {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagPSH)
	}
	if t.FIN {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagFIN)
	}
	if t.RST {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagRST)
	}
	if t.URG {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagURG)
	}
	if t.ECE {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagECE)
	}
	if t.CWR {
		f |= pcaprecord.TCPFlags(pcaprecord.TCPFlagCWR)
	}
	return f
}
