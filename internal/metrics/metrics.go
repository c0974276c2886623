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

// Package metrics instruments the pipeline with Prometheus collectors,
// following etalazz-vsa/internal/ratelimiter/telemetry/churn's pattern of a
// package-scoped Registry holding pre-declared collectors, safe to call
// from hot paths and safe to use as a nil-receiver no-op when metrics are
// disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the pipeline reports to. A nil
// *Registry is valid and every method becomes a no-op, mirroring the
// teacher's "disabled means no-op" contract.
type Registry struct {
	phaseDuration   *prometheus.HistogramVec
	detectorRuns    *prometheus.CounterVec
	detectorErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	packetsAnalyzed prometheus.Counter
	threatsFound    prometheus.Counter
	degradations    *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pcap_analysis_phase_duration_seconds",
			Help:    "Wall-clock duration of each pipeline phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		detectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcap_analysis_detector_runs_total",
			Help: "Number of times an anomaly detector executed.",
		}, []string{"detector"}),
		detectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcap_analysis_detector_errors_total",
			Help: "Number of detector executions that failed or panicked and were isolated.",
		}, []string{"detector"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcap_analysis_cache_hits_total",
			Help: "Memoization cache hits by cache name.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcap_analysis_cache_misses_total",
			Help: "Memoization cache misses by cache name.",
		}, []string{"cache"}),
		packetsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcap_analysis_packets_analyzed_total",
			Help: "Total packets analyzed across all runs.",
		}),
		threatsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcap_analysis_threats_total",
			Help: "Total security threats derived across all runs.",
		}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcap_analysis_degradations_total",
			Help: "Non-fatal degradation events by pipelineerr.Kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.phaseDuration, m.detectorRuns, m.detectorErrors,
			m.cacheHits, m.cacheMisses, m.packetsAnalyzed, m.threatsFound, m.degradations,
		)
	}
	return m
}

func (m *Registry) ObservePhaseDuration(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Registry) DetectorRan(name string) {
	if m == nil {
		return
	}
	m.inc(m.detectorRuns, name)
}

func (m *Registry) DetectorFailed(name string) {
	if m == nil {
		return
	}
	m.inc(m.detectorErrors, name)
}

func (m *Registry) CacheHit(name string) {
	if m == nil {
		return
	}
	m.inc(m.cacheHits, name)
}

func (m *Registry) CacheMiss(name string) {
	if m == nil {
		return
	}
	m.inc(m.cacheMisses, name)
}

func (m *Registry) Degradation(kind string) {
	if m == nil {
		return
	}
	m.inc(m.degradations, kind)
}

func (m *Registry) AddPacketsAnalyzed(n int) {
	if m == nil {
		return
	}
	m.packetsAnalyzed.Add(float64(n))
}

func (m *Registry) AddThreatsFound(n int) {
	if m == nil {
		return
	}
	m.threatsFound.Add(float64(n))
}

func (m *Registry) inc(v *prometheus.CounterVec, label string) {
	v.WithLabelValues(label).Inc()
}
