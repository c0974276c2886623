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

// Package telemetry emits debug-gated, structured per-event JSON lines for
// the pipeline's highest-frequency internal events (the progress
// coordinator's per-report events, its only caller) — too chatty for the
// field-based zap logger used for lifecycle logging, but valuable when
// diagnosing a specific run. Modeled on
// gchux-pcap-sidecar/pcap-cli/internal/transformer/flow_mutex.go's log().
package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Jeffail/gabs/v2"
	sf "github.com/wissance/stringFormatter"
)

type contextKey uint8

const (
	ContextRunID contextKey = iota
	ContextComponent
)

// Emitter writes one JSON object per Emit call to Writer when Debug is true.
type Emitter struct {
	Debug  bool
	Writer io.Writer
}

// NewEmitter builds an Emitter; a nil Writer defaults to os.Stderr.
func NewEmitter(debug bool, w io.Writer) *Emitter {
	if w == nil {
		w = os.Stderr
	}
	return &Emitter{Debug: debug, Writer: w}
}

// Emit writes a structured debug event carrying the run/component context
// pulled from ctx, a phase tag, and free-form fields.
func (e *Emitter) Emit(ctx context.Context, phase string, fields map[string]any) {
	if !e.Debug {
		return
	}

	doc := gabs.New()

	runID, _ := ctx.Value(ContextRunID).(string)
	component, _ := ctx.Value(ContextComponent).(string)

	pipeline, _ := doc.Object("pipeline")
	pipeline.Set(runID, "run_id")
	pipeline.Set(component, "component")
	pipeline.Set(phase, "phase")

	ts, _ := doc.Object("timestamp")
	now := time.Now()
	ts.Set(now.Unix(), "seconds")
	ts.Set(now.Nanosecond(), "nanos")

	if len(fields) > 0 {
		data, _ := doc.Object("data")
		for k, v := range fields {
			data.Set(v, k)
		}
	}

	doc.Set(sf.Format("{0}/{1}: {2}", component, phase, runID), "message")

	io.WriteString(e.Writer, doc.String()+"\n")
}
