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

// Command analyzer runs the PCAP analysis pipeline against a local capture
// file and prints the resulting findings and timing summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pcapforensics/analyzer/internal/anomaly"
	"github.com/pcapforensics/analyzer/internal/cache"
	"github.com/pcapforensics/analyzer/internal/capture"
	"github.com/pcapforensics/analyzer/internal/metrics"
	"github.com/pcapforensics/analyzer/internal/orchestrator"
	"github.com/pcapforensics/analyzer/internal/pipelineerr"
	"github.com/pcapforensics/analyzer/internal/progress"
	"github.com/pcapforensics/analyzer/internal/report"
)

func main() {
	path := flag.String("pcap", "", "path to the .pcap/.pcapng file to analyze")
	redisAddr := flag.String("redis-addr", "", "optional Redis address for the memoized report cache; empty uses an in-process LRU")
	timeSeriesInterval := flag.Duration("bucket", time.Second, "time-series bucket interval")
	memoryCacheCapacity := flag.Int("report-cache-capacity", 256, "entry capacity of the in-process report cache")
	debug := flag.Bool("debug", false, "enable verbose lifecycle logging")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: analyzer -pcap <file> [flags]")
		os.Exit(2)
	}

	logger := newLogger(*debug)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metricsReg := metrics.NewRegistry(nil)

	reader := capture.NewGopacketOfflineReader()
	sessionCache := orchestrator.NewSessionCache()
	orch := orchestrator.New(reader, sessionCache, logger, metricsReg)

	cfg := orchestrator.Config{
		TimeSeriesInterval: *timeSeriesInterval,
		GeoBackend:         nil, // no GeoIP backend wired on the CLI; countries resolve to "Unknown"
		Detectors: []anomaly.Detector{
			anomaly.PortScanDetector{},
			anomaly.UnencryptedServiceDetector{},
			anomaly.NewDDoSDetector(0, 0),
			anomaly.ExfiltrationDetector{},
			anomaly.SizeOutlierDetector{},
		},
		Fingerprint: capture.NoopFingerprintAccumulator{},
	}

	bar := newProgressBar()
	result, err := orch.Run(ctx, *path, cfg, func(evt progress.Event) { bar.render(evt) })
	bar.finish()
	if err != nil {
		logger.Error("analysis failed", zap.Error(err))
		os.Exit(1)
	}

	reportLayer := newReportLayer(*redisAddr, *memoryCacheCapacity, metricsReg, logger)
	findings, err := reportLayer.Findings(ctx, result.Statistics, result.Threats)
	if err != nil {
		logger.Error("findings derivation failed", zap.Error(err))
		os.Exit(1)
	}
	plan, err := reportLayer.Plan(ctx, findings)
	if err != nil {
		logger.Error("remediation planning failed", zap.Error(err))
		os.Exit(1)
	}

	printSummary(result, findings, plan)
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newReportLayer(redisAddr string, memCapacity int, reg *metrics.Registry, logger *zap.Logger) *report.MemoizedReportLayer {
	var backend cache.Backend
	if redisAddr != "" {
		backend = cache.NewRedisBackend(redis.NewClient(&redis.Options{Addr: redisAddr}))
	} else {
		backend = cache.NewMemoryBackend(memCapacity)
	}

	onDegraded := func(err error) {
		reg.Degradation(pipelineerr.KindCacheBackendFailure.String())
		logger.Warn("report cache degraded, computing directly", zap.Error(err))
	}
	return report.NewMemoizedReportLayer(backend, reg, onDegraded)
}

func printSummary(result *orchestrator.AnalysisResult, findings []report.SecurityFinding, plan report.RemediationPlan) {
	fmt.Printf("\nanalyzed %d packets (%d bytes) in %s\n", result.TotalPackets, result.TotalBytes, result.AnalysisTime)
	if result.Truncated {
		fmt.Println("warning: capture stream ended before the expected packet count")
	}
	if len(result.DegradedReasons) > 0 {
		fmt.Printf("degraded: %s\n", strings.Join(result.DegradedReasons, ", "))
	}

	fmt.Printf("\n%d findings:\n", len(findings))
	for _, f := range findings {
		fmt.Printf("  [%s] %s (risk %d, %d occurrences)\n", f.Severity, f.Description, f.RiskScore, f.Occurrences)
	}

	fmt.Printf("\nremediation plan (estimated cost $%.0f):\n", plan.EstimatedCost)
	for _, phase := range plan.Phases {
		fmt.Printf("  %s (%s days): %d tasks\n", phase.Name, phase.WindowDays, len(phase.Tasks))
	}
}
