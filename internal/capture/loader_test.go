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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
	"github.com/pcapforensics/analyzer/internal/pipelineerr"
)

type fakeReader struct {
	count       uint64
	countErr    error
	records     []pcaprecord.Record
	failAt      int
	startErr    error
	parallel    bool
	idx         int
	stopped     bool
}

func (f *fakeReader) CountPackets(_ context.Context, _ string) (uint64, error) {
	return f.count, f.countErr
}

func (f *fakeReader) StartStream(_ context.Context, _ string) (Handle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return "handle", nil
}

func (f *fakeReader) NextPacket(_ context.Context, _ Handle) (pcaprecord.Record, bool, error) {
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

func (f *fakeReader) Stop(_ Handle) { f.stopped = true }
func (f *fakeReader) Parallel() bool { return f.parallel }

func recordsN(n int) []pcaprecord.Record {
	out := make([]pcaprecord.Record, n)
	for i := range out {
		out[i] = pcaprecord.Record{FrameNumber: uint64(i), Length: 100}
	}
	return out
}

func TestLoadReturnsPacketsInOrder(t *testing.T) {
	reader := &fakeReader{count: 5, records: recordsN(5)}
	loader := NewLoader(reader, nil, nil)

	result, fp, err := loader.Load(context.Background(), "test.pcap")
	require.NoError(t, err)
	require.Len(t, result.Packets, 5)
	for i, p := range result.Packets {
		assert.Equal(t, uint64(i), p.FrameNumber)
	}
	assert.False(t, result.Truncated)
	assert.NotNil(t, fp)
	assert.True(t, reader.stopped)
}

func TestLoadSortsWhenReaderIsParallel(t *testing.T) {
	records := []pcaprecord.Record{{FrameNumber: 3}, {FrameNumber: 1}, {FrameNumber: 2}}
	reader := &fakeReader{count: 3, records: records, parallel: true}
	loader := NewLoader(reader, nil, nil)

	result, _, err := loader.Load(context.Background(), "test.pcap")
	require.NoError(t, err)
	require.Len(t, result.Packets, 3)
	assert.Equal(t, uint64(1), result.Packets[0].FrameNumber)
	assert.Equal(t, uint64(2), result.Packets[1].FrameNumber)
	assert.Equal(t, uint64(3), result.Packets[2].FrameNumber)
}

func TestLoadDoesNotSortWhenReaderIsNotParallel(t *testing.T) {
	records := []pcaprecord.Record{{FrameNumber: 3}, {FrameNumber: 1}, {FrameNumber: 2}}
	reader := &fakeReader{count: 3, records: records, parallel: false}
	loader := NewLoader(reader, nil, nil)

	result, _, err := loader.Load(context.Background(), "test.pcap")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.Packets[0].FrameNumber)
}

func TestLoadReturnsFatalErrorWhenStreamCannotStart(t *testing.T) {
	reader := &fakeReader{count: 1, startErr: errors.New("subprocess missing")}
	loader := NewLoader(reader, nil, nil)

	_, _, err := loader.Load(context.Background(), "test.pcap")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipelineerr.Sentinel(pipelineerr.KindReaderUnavailable)))
}

func TestLoadReportsTruncationWithoutFailingTheLoad(t *testing.T) {
	reader := &fakeReader{count: 10, records: recordsN(10), failAt: 5}
	loader := NewLoader(reader, nil, nil)

	result, _, err := loader.Load(context.Background(), "test.pcap")
	require.Error(t, err)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Packets, 5)
}

func TestLoadReportsProgressViaReporter(t *testing.T) {
	var calls []string
	reporter := reporterFunc(func(_ context.Context, percent int, detail string, subPhase string, done, total uint64) {
		calls = append(calls, subPhase)
	})
	reader := &fakeReader{count: 3, records: recordsN(3)}
	loader := NewLoader(reader, nil, reporter)

	_, _, err := loader.Load(context.Background(), "test.pcap")
	require.NoError(t, err)
	assert.Contains(t, calls, "Counting")
	assert.Contains(t, calls, "Loading")
}

type reporterFunc func(ctx context.Context, percent int, detail string, subPhase string, done, total uint64)

func (f reporterFunc) Report(ctx context.Context, percent int, detail string, subPhase string, done, total uint64) {
	f(ctx, percent, detail, subPhase, done, total)
}
