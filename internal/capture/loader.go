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
	"os"
	"sort"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
	"github.com/pcapforensics/analyzer/internal/pipelineerr"
)

const (
	// bytesPerPacketEstimate backstops a failed/zero CountPackets call.
	bytesPerPacketEstimate = 500
	// loadingReportEvery matches spec §4.1: report "Loading" every 100,000 packets.
	loadingReportEvery = 100_000
)

// Reporter is the minimal side-channel the loader pushes progress through;
// internal/progress.Coordinator implements it bound to a phase.
type Reporter interface {
	Report(ctx context.Context, percent int, detail string, subPhase string, packetsDone, packetsTotal uint64)
}

type nullReporter struct{}

func (nullReporter) Report(context.Context, int, string, string, uint64, uint64) {}

// NullReporter is a Reporter that discards every report.
var NullReporter Reporter = nullReporter{}

// Loader drives a Reader + FingerprintAccumulator pair to produce an
// ordered packet vector, per spec §4.1.
type Loader struct {
	Reader      Reader
	Fingerprint FingerprintAccumulator
	Progress    Reporter
}

// NewLoader constructs a Loader; a nil Progress is replaced with NullReporter
// and a nil Fingerprint with NoopFingerprintAccumulator, matching the
// teacher's habit of making optional collaborators safe-by-default.
func NewLoader(reader Reader, fp FingerprintAccumulator, progress Reporter) *Loader {
	if fp == nil {
		fp = NoopFingerprintAccumulator{}
	}
	if progress == nil {
		progress = NullReporter
	}
	return &Loader{Reader: reader, Fingerprint: fp, Progress: progress}
}

// Result is the output of Load: the ordered packet vector plus whether the
// stream was truncated before reaching the expected count.
type Result struct {
	Packets   []pcaprecord.Record
	Truncated bool
}

// Load implements spec §4.1's algorithm: count, clear+stream+observe,
// stop+finalize, and the post-sort ordering invariant.
func (l *Loader) Load(ctx context.Context, path string) (*Result, map[string]string, error) {
	l.Progress.Report(ctx, 0, "counting frames", "Counting", 0, 0)

	expected, err := l.Reader.CountPackets(ctx, path)
	if err != nil || expected == 0 {
		expected = estimateFromFileSize(path)
	}
	l.Progress.Report(ctx, 100, "count complete", "Counting", 0, expected)

	l.Fingerprint.Clear()

	handle, err := l.Reader.StartStream(ctx, path)
	if err != nil {
		return nil, nil, pipelineerr.New(pipelineerr.KindReaderUnavailable, "start_stream", err)
	}

	packets := make([]pcaprecord.Record, 0, expected)
	truncated := false

	var streamErr error
	for {
		rec, ok, nerr := l.Reader.NextPacket(ctx, handle)
		if nerr != nil {
			streamErr = nerr
			truncated = true
			break
		}
		if !ok {
			break
		}
		packets = append(packets, rec)
		l.Fingerprint.Observe(rec)

		if n := uint64(len(packets)); n%loadingReportEvery == 0 {
			l.Progress.Report(ctx, percentOf(n, expected), "loading packets", "Loading", n, expected)
		}
	}
	l.Reader.Stop(handle)

	fp := l.Fingerprint.Finalize()

	if l.Reader.Parallel() {
		sort.SliceStable(packets, func(i, j int) bool {
			return packets[i].FrameNumber < packets[j].FrameNumber
		})
	}

	l.Progress.Report(ctx, 100, "load complete", "Loading", uint64(len(packets)), expected)

	if truncated {
		return &Result{Packets: packets, Truncated: true}, fp,
			pipelineerr.New(pipelineerr.KindReaderTruncated, "stream ended early", streamErr)
	}
	return &Result{Packets: packets, Truncated: false}, fp, nil
}

func estimateFromFileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	size := info.Size()
	if size <= 0 {
		return 0
	}
	return uint64(size) / bytesPerPacketEstimate
}

func percentOf(done, total uint64) int {
	if total == 0 {
		return 0
	}
	p := int(done * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
