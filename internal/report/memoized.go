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

package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pcapforensics/analyzer/internal/cache"
	"github.com/pcapforensics/analyzer/internal/metrics"
	"github.com/pcapforensics/analyzer/internal/stats"
	"github.com/pcapforensics/analyzer/internal/threat"
)

const (
	reportAbsoluteTTL = 15 * time.Minute
	reportSlidingTTL  = 10 * time.Minute
)

// FindingKey is the stable, content-addressed digest spec §4.8 requires:
// same inputs within a process produce the identical key.
func FindingKey(ns *stats.NetworkStatistics, threats []threat.Threat) string {
	bySeverity := make(map[string]int)
	byCategory := make(map[string]int)
	for _, t := range threats {
		bySeverity[string(t.Severity)]++
		byCategory[t.Type]++
	}

	h := sha256.New()
	writeCounts(h, bySeverity)
	writeCounts(h, byCategory)
	fmt.Fprintf(h, "conversations:%d\n", conversationCount(ns))
	fmt.Fprintf(h, "ports:%s\n", topPortTuple(ns))
	fmt.Fprintf(h, "total_packets:%d\n", totalPackets(ns))
	return hex.EncodeToString(h.Sum(nil))
}

// PlanKey digests a findings list for RemediationPlanner memoization,
// keyed on priority/category counts rather than full finding text.
func PlanKey(findings []SecurityFinding) string {
	byPriority := make(map[string]int)
	byCategory := make(map[string]int)
	for _, f := range findings {
		byPriority[string(priorityOf(f.RiskScore))]++
		byCategory[f.Category]++
	}

	h := sha256.New()
	writeCounts(h, byPriority)
	writeCounts(h, byCategory)
	fmt.Fprintf(h, "findings:%d\n", len(findings))
	return hex.EncodeToString(h.Sum(nil))
}

func writeCounts(h io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%d;", k, counts[k])
	}
	fmt.Fprint(h, "\n")
}

func conversationCount(ns *stats.NetworkStatistics) int {
	if ns == nil {
		return 0
	}
	return len(ns.TopConversations)
}

func totalPackets(ns *stats.NetworkStatistics) uint64 {
	if ns == nil {
		return 0
	}
	return ns.TotalPackets
}

func topPortTuple(ns *stats.NetworkStatistics) string {
	if ns == nil {
		return ""
	}
	ports := make([]string, 0, len(ns.TopPorts))
	for _, p := range ns.TopPorts {
		ports = append(ports, fmt.Sprintf("%d:%d", p.Port, p.PacketCount))
	}
	return fmt.Sprint(ports)
}

// MemoizedReportLayer wraps FindingsGenerator and RemediationPlanner with
// content-addressed caching, per spec §4.8. A cache.Decorator failure never
// surfaces: onDegraded is invoked and the inner service runs directly.
type MemoizedReportLayer struct {
	findingsGen *FindingsGenerator
	planner     *RemediationPlanner

	findingsCache *cache.Decorator[[]SecurityFinding]
	planCache     *cache.Decorator[RemediationPlan]

	onDegraded func(error)
}

func NewMemoizedReportLayer(backend cache.Backend, reg *metrics.Registry, onDegraded func(error)) *MemoizedReportLayer {
	return &MemoizedReportLayer{
		findingsGen:   NewFindingsGenerator(),
		planner:       NewRemediationPlanner(),
		findingsCache: cache.NewDecorator[[]SecurityFinding]("security_findings", backend, reportAbsoluteTTL, reportSlidingTTL, cache.PriorityHigh, reg),
		planCache:     cache.NewDecorator[RemediationPlan]("remediation_plan", backend, reportAbsoluteTTL, reportSlidingTTL, cache.PriorityNormal, reg),
		onDegraded:    onDegraded,
	}
}

// Findings returns the memoized findings list for (ns, threats), computing
// and caching it on a miss.
func (m *MemoizedReportLayer) Findings(ctx context.Context, ns *stats.NetworkStatistics, threats []threat.Threat) ([]SecurityFinding, error) {
	key := FindingKey(ns, threats)
	return m.findingsCache.Get(ctx, key, m.onDegraded, func() ([]SecurityFinding, error) {
		return m.findingsGen.Generate(ns, threats), nil
	})
}

// Plan returns the memoized remediation plan for findings.
func (m *MemoizedReportLayer) Plan(ctx context.Context, findings []SecurityFinding) (RemediationPlan, error) {
	key := PlanKey(findings)
	return m.planCache.Get(ctx, key, m.onDegraded, func() (RemediationPlan, error) {
		return m.planner.Plan(findings), nil
	})
}
