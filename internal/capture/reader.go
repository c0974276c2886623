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

// Package capture contracts the out-of-scope capture-reader collaborator
// (tshark/capinfos or any subprocess exposing the same shape) and drives
// the streaming PacketLoader described in spec §4.1. Only the contracts are
// specified here; GopacketOfflineReader is a local fallback adapter, not
// the production subprocess surface.
package capture

import (
	"context"

	"github.com/pcapforensics/analyzer/internal/pcaprecord"
)

type (
	// Handle identifies a live stream session returned by Reader.StartStream.
	Handle interface{}

	// Reader is the capability the capture-reader subprocess must expose.
	// Implementations are out of scope for this repo; see GopacketOfflineReader
	// for a minimal local stand-in.
	Reader interface {
		// CountPackets returns the total frame count, or an error if the fast
		// path (e.g. capinfos-style header read) is unavailable.
		CountPackets(ctx context.Context, path string) (uint64, error)
		// StartStream begins decoding path and returns a handle for NextPacket.
		StartStream(ctx context.Context, path string) (Handle, error)
		// NextPacket returns the next decoded record, or ok=false at EOF.
		NextPacket(ctx context.Context, h Handle) (rec pcaprecord.Record, ok bool, err error)
		// Stop releases the handle. Must be safe to call exactly once per
		// successful StartStream, on both success and failure exit paths.
		Stop(h Handle)
		// Parallel reports whether records may arrive out of frame-number
		// order (e.g. a multi-worker decode pipeline upstream).
		Parallel() bool
	}

	// FingerprintAccumulator collects OS-fingerprint evidence across the
	// packet stream, driven once per record by the loader.
	FingerprintAccumulator interface {
		Clear()
		Observe(rec pcaprecord.Record)
		Finalize() map[string]string
	}
)

// NoopFingerprintAccumulator satisfies FingerprintAccumulator when OS
// fingerprinting is not wired to a concrete backend.
type NoopFingerprintAccumulator struct{}

func (NoopFingerprintAccumulator) Clear()                        {}
func (NoopFingerprintAccumulator) Observe(_ pcaprecord.Record)   {}
func (NoopFingerprintAccumulator) Finalize() map[string]string   { return map[string]string{} }
