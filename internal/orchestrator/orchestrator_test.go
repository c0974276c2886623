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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcapforensics/analyzer/internal/anomaly"
	"github.com/pcapforensics/analyzer/internal/capture"
	"github.com/pcapforensics/analyzer/internal/pcaprecord"
	"github.com/pcapforensics/analyzer/internal/pipelineerr"
	"github.com/pcapforensics/analyzer/internal/progress"
)

type fakeReader struct {
	count    uint64
	records  []pcaprecord.Record
	failAt   int
	startErr error
	idx      int
}

func (f *fakeReader) CountPackets(_ context.Context, _ string) (uint64, error) {
	return f.count, nil
}

func (f *fakeReader) StartStream(_ context.Context, _ string) (capture.Handle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return "handle", nil
}

func (f *fakeReader) NextPacket(_ context.Context, _ capture.Handle) (pcaprecord.Record, bool, error) {
	if f.failAt > 0 && f.idx == f.failAt {
		return pcaprecord.Record{}, false, errors.New("stream interrupted")
	}
	if f.idx >= len(f.records) {
		return pcaprecord.Record{}, false, nil
	}
	rec := f.records[f.idx]
	f.idx++
	return rec, true, nil
}

func (f *fakeReader) Stop(_ capture.Handle) {}
func (f *fakeReader) Parallel() bool        { return false }

func samplePackets(n int) []pcaprecord.Record {
	out := make([]pcaprecord.Record, n)
	for i := range out {
		out[i] = pcaprecord.Record{
			FrameNumber: uint64(i + 1),
			Timestamp:   int64(i) * int64(time.Second),
			SrcIP:       "192.168.1.10",
			DstIP:       "203.0.113.5",
			SrcPort:     40000,
			DstPort:     443,
			Protocol:    pcaprecord.ProtoHTTPS,
			Length:      100,
		}
	}
	return out
}

// fakePortScan flags the first packet as an anomaly every time it runs,
// so Run's threat projection and anomaly-frame bookkeeping have something
// to carry through to the final result.
type fakePortScan struct{ name string }

func (d fakePortScan) Name() string     { return d.name }
func (d fakePortScan) Category() string { return "test" }
func (d fakePortScan) Detect(_ context.Context, packets []pcaprecord.Record) ([]anomaly.Anomaly, error) {
	if len(packets) == 0 {
		return nil, nil
	}
	return []anomaly.Anomaly{{
		ID:             "anomaly-1",
		Severity:       anomaly.SeverityHigh,
		Type:           "PortScan",
		SrcIP:          packets[0].SrcIP,
		DstIP:          packets[0].DstIP,
		AffectedFrames: []uint64{packets[0].FrameNumber},
	}}, nil
}

func TestRunProducesCompleteResultAndCachesIt(t *testing.T) {
	reader := &fakeReader{count: 3, records: samplePackets(3)}
	cache := NewSessionCache()
	orch := New(reader, cache, nil, nil)

	var events []progress.Event
	sink := func(e progress.Event) { events = append(events, e) }

	cfg := Config{
		TimeSeriesInterval: time.Second,
		Detectors:          []anomaly.Detector{fakePortScan{name: "port-scan"}},
	}

	result, err := orch.Run(context.Background(), "nonexistent.pcap", cfg, sink)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, uint64(3), result.TotalPackets)
	assert.Len(t, result.Packets, 3)
	require.Len(t, result.Threats, 1)
	assert.Equal(t, "PortScan", result.Threats[0].Type)
	assert.NotNil(t, result.Statistics)
	assert.NotEmpty(t, result.ContentHashHex)
	assert.Contains(t, result.DegradedReasons, pipelineerr.KindHashIO.String())

	cached, ok := cache.Get("nonexistent.pcap", result.ContentHashHex)
	require.True(t, ok)
	assert.Same(t, result, cached)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Percent)
}

func TestRunAbortsWithFatalErrorWhenReaderUnavailable(t *testing.T) {
	reader := &fakeReader{count: 1, startErr: errors.New("subprocess missing")}
	cache := NewSessionCache()
	orch := New(reader, cache, nil, nil)

	cfg := Config{TimeSeriesInterval: time.Second}
	result, err := orch.Run(context.Background(), "nonexistent.pcap", cfg, nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, pipelineerr.Sentinel(pipelineerr.KindReaderUnavailable)))
	assert.Equal(t, 0, cache.Len())
}

func TestRunProceedsWithPartialDataOnTruncatedStream(t *testing.T) {
	reader := &fakeReader{count: 5, records: samplePackets(5), failAt: 2}
	cache := NewSessionCache()
	orch := New(reader, cache, nil, nil)

	cfg := Config{TimeSeriesInterval: time.Second}
	result, err := orch.Run(context.Background(), "nonexistent.pcap", cfg, nil)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Packets, 2)
	assert.Contains(t, result.DegradedReasons, pipelineerr.KindReaderTruncated.String())
}

func TestRunRecordsGeoBackendDegradationWhenBackendNil(t *testing.T) {
	reader := &fakeReader{count: 2, records: samplePackets(2)}
	cache := NewSessionCache()
	orch := New(reader, cache, nil, nil)

	cfg := Config{TimeSeriesInterval: time.Second}
	result, err := orch.Run(context.Background(), "nonexistent.pcap", cfg, nil)

	require.NoError(t, err)
	assert.Contains(t, result.DegradedReasons, pipelineerr.KindGeoBackendUnavailable.String())
}
