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

// Package orchestrator sequences the three phases of spec §4.7: load,
// parallel-analyze, finalize. It is the only fan-out/join in the system.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pcapforensics/analyzer/internal/anomaly"
	"github.com/pcapforensics/analyzer/internal/capture"
	"github.com/pcapforensics/analyzer/internal/geo"
	"github.com/pcapforensics/analyzer/internal/metrics"
	"github.com/pcapforensics/analyzer/internal/pcaprecord"
	"github.com/pcapforensics/analyzer/internal/pipelineerr"
	"github.com/pcapforensics/analyzer/internal/progress"
	"github.com/pcapforensics/analyzer/internal/stats"
	"github.com/pcapforensics/analyzer/internal/threat"
	"github.com/pcapforensics/analyzer/internal/voip"
)

// minSummaryDuration only includes phases whose wall-clock duration
// exceeds this in the printed performance summary, per spec §4.7.
const minSummaryDuration = 100 * time.Millisecond

// Config bundles the knobs Orchestrator.Run needs beyond the file path.
type Config struct {
	TimeSeriesInterval time.Duration
	GeoBackend         geo.Backend
	Detectors          []anomaly.Detector
	Fingerprint        capture.FingerprintAccumulator
}

// Orchestrator sequences PacketLoader -> {StatisticsEngine, AnomalyDetector
// fan-out, VoiceQoSExtractor} -> finalize, writing the result into a
// SessionCache.
type Orchestrator struct {
	reader  capture.Reader
	cache   *SessionCache
	logger  *zap.Logger
	metrics *metrics.Registry
}

func New(reader capture.Reader, cache *SessionCache, logger *zap.Logger, metricsReg *metrics.Registry) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{reader: reader, cache: cache, logger: logger, metrics: metricsReg}
}

// phaseTiming records one named phase's duration for the final summary.
type phaseTiming struct {
	name     string
	duration time.Duration
}

// Run executes the full pipeline for path and returns the cached
// AnalysisResult. Sink receives merged progress events throughout.
func (o *Orchestrator) Run(ctx context.Context, path string, cfg Config, sink progress.Sink) (*AnalysisResult, error) {
	fileSize := fileSizeOf(path)
	coord := progress.NewCoordinator(fileSize, sink, nil)

	var timings []phaseTiming
	var degraded []string

	// Phase 1: load.
	loadStart := time.Now()
	loader := capture.NewLoader(o.reader, cfg.Fingerprint, coord.LoaderReporter())
	loadResult, fingerprint, err := loader.Load(ctx, path)
	loadDuration := time.Since(loadStart)
	timings = append(timings, phaseTiming{"load", loadDuration})
	o.metrics.ObservePhaseDuration("load", loadDuration)

	if err != nil {
		var perr *pipelineerr.Error
		if errors.As(err, &perr) && perr.Kind == pipelineerr.KindReaderUnavailable {
			o.logger.Error("reader unavailable, analysis aborted", zap.String("path", path), zap.Error(err))
			return nil, err
		}
		// ReaderTruncated: proceed with what was received.
		degraded = append(degraded, pipelineerr.KindReaderTruncated.String())
		o.metrics.Degradation(pipelineerr.KindReaderTruncated.String())
		o.logger.Warn("capture stream truncated, proceeding with partial data", zap.String("path", path), zap.Error(err))
	}
	_ = fingerprint // OS-fingerprint accumulation feeds future consumers; not surfaced in AnalysisResult today.

	packets := loadResult.Packets
	o.metrics.AddPacketsAnalyzed(len(packets))

	// Phase 2: parallel analyze. This is the system's only fan-out/join.
	parallelStart := time.Now()

	var statisticsResult *stats.NetworkStatistics
	var anomalies []anomaly.Anomaly
	var voiceQoS *voip.Result
	var voiceSeries []voip.TimeSeriesPoint

	enricher := geo.NewEnricher(ctx, cfg.GeoBackend)
	defer enricher.Close()
	if cfg.GeoBackend == nil {
		degraded = append(degraded, pipelineerr.KindGeoBackendUnavailable.String())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		coord.ReporterForSub(progress.SubStatistics).Report(gctx, 0, "computing statistics", "", 0, 0)
		statisticsResult = stats.Compute(packets, enricher)
		coord.ReporterForSub(progress.SubStatistics).Report(gctx, 100, "statistics complete", "", uint64(len(packets)), uint64(len(packets)))
		return nil
	})

	g.Go(func() error {
		coord.ReporterForSub(progress.SubThreats).Report(gctx, 0, "running detectors", "", 0, 0)
		registry := anomaly.NewRegistry(func(name string, derr error) {
			o.metrics.DetectorFailed(name)
			o.logger.Warn("detector isolated after failure", zap.String("detector", name), zap.Error(derr))
		})
		for _, d := range cfg.Detectors {
			registry.Register(d)
			o.metrics.DetectorRan(d.Name())
		}
		anomalies = registry.Run(gctx, packets)
		coord.SetThreatsDetected(len(anomalies))
		coord.ReporterForSub(progress.SubThreats).Report(gctx, 100, "detectors complete", "", uint64(len(packets)), uint64(len(packets)))
		return nil
	})

	g.Go(func() error {
		coord.ReporterForSub(progress.SubVoiceQoS).Report(gctx, 0, "extracting voice QoS", "", 0, 0)
		voiceQoS, voiceSeries = voip.Extract(packets)
		coord.ReporterForSub(progress.SubVoiceQoS).Report(gctx, 100, "voice QoS complete", "", uint64(len(packets)), uint64(len(packets)))
		return nil
	})

	// No producer in this fan-out returns an error today; errgroup is kept
	// because it is the idiomatic fan-out/join primitive and future
	// producers (e.g. a streaming detector) may need to fail the join.
	_ = g.Wait()

	parallelDuration := time.Since(parallelStart)
	timings = append(timings, phaseTiming{"parallel_analysis", parallelDuration})
	o.metrics.ObservePhaseDuration("parallel_analysis", parallelDuration)
	o.metrics.AddThreatsFound(len(anomalies))

	threats := threat.ProjectAll(anomalies)

	anomalyFrames := mapset.NewSet[uint64]()
	for _, a := range anomalies {
		for _, f := range a.AffectedFrames {
			anomalyFrames.Add(f)
		}
	}
	networkSeries := stats.TimeSeries(packets, cfg.TimeSeriesInterval, anomalyFrames)

	// Phase 3: finalize.
	finalizeStart := time.Now()
	coord.ReporterFor(progress.PhaseFinalizing).Report(ctx, 0, "finalizing", "", 0, 0)

	contentHash, hashErr := hashFile(path)
	if hashErr != nil {
		degraded = append(degraded, pipelineerr.KindHashIO.String())
		o.metrics.Degradation(pipelineerr.KindHashIO.String())
		o.logger.Warn("content hash failed, substituting random identifier", zap.String("path", path), zap.Error(hashErr))
		contentHash = randomIdentifier()
	}

	result := &AnalysisResult{
		Packets:           packets,
		Statistics:        statisticsResult,
		NetworkTimeSeries: networkSeries,
		Threats:           threats,
		Anomalies:         anomalies,
		VoiceQoS:          voiceQoS,
		VoiceQoSSeries:    voiceSeries,
		FilePath:          path,
		ContentHashHex:    contentHash,
		AnalysisTime:      time.Since(loadStart),
		TotalPackets:      uint64(len(packets)),
		TotalBytes:        totalBytes(packets),
		Truncated:         loadResult.Truncated,
		DegradedReasons:   degraded,
	}

	o.cache.Put(path, contentHash, result)

	coord.ReporterFor(progress.PhaseFinalizing).Report(ctx, 100, "finalize complete", "", uint64(len(packets)), uint64(len(packets)))
	finalizeDuration := time.Since(finalizeStart)
	timings = append(timings, phaseTiming{"finalize", finalizeDuration})
	o.metrics.ObservePhaseDuration("finalize", finalizeDuration)

	// TabLoading has no producer inside this analysis-only repo (the
	// consuming UI is out of scope); the orchestrator closes the loop so
	// MarkComplete still observes a clean 100% stream end-to-end.
	coord.ReporterFor(progress.PhaseTabLoading).Report(ctx, 100, "tab loading complete", "", 0, 0)
	coord.MarkComplete(ctx, "analysis complete")

	o.logSummary(path, timings)

	return result, nil
}

func (o *Orchestrator) logSummary(path string, timings []phaseTiming) {
	fields := []zap.Field{zap.String("path", path)}
	for _, t := range timings {
		if t.duration < minSummaryDuration {
			continue
		}
		fields = append(fields, zap.Duration(t.name, t.duration))
	}
	o.logger.Info("analysis performance summary", fields...)
}

func fileSizeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func randomIdentifier() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func totalBytes(packets []pcaprecord.Record) uint64 {
	var sum uint64
	for _, p := range packets {
		sum += uint64(p.Length)
	}
	return sum
}
