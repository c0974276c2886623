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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOfBucketsByRiskScore(t *testing.T) {
	assert.Equal(t, PriorityImmediate, priorityOf(80))
	assert.Equal(t, PriorityImmediate, priorityOf(100))
	assert.Equal(t, PriorityShortTerm, priorityOf(50))
	assert.Equal(t, PriorityShortTerm, priorityOf(79))
	assert.Equal(t, PriorityLongTerm, priorityOf(49))
	assert.Equal(t, PriorityLongTerm, priorityOf(0))
}

func TestPlanBucketsFindingsIntoPhases(t *testing.T) {
	findings := []SecurityFinding{
		{Category: "Insecure Services", RiskScore: 90, Remediation: "patch telnet"},
		{Category: "Reconnaissance", RiskScore: 60, Remediation: "rate-limit"},
		{Category: "Traffic Anomaly", RiskScore: 20, Remediation: "review"},
	}

	plan := NewRemediationPlanner().Plan(findings)
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, "Critical Fixes", plan.Phases[0].Name)
	assert.Len(t, plan.Phases[0].Tasks, 1)
	assert.Equal(t, "Hardening", plan.Phases[1].Name)
	assert.Len(t, plan.Phases[1].Tasks, 1)
	assert.Equal(t, "Long-term", plan.Phases[2].Name)
	assert.Len(t, plan.Phases[2].Tasks, 1)
}

func TestEstimateCostAppliesFormulaAndBucketsToNearest5000(t *testing.T) {
	// 3 tasks * 6h * $150 = $2700, + $10000 = $12700 -> nearest $5000 bucket is $15000.
	cost := estimateCost(3)
	assert.Equal(t, 15000.0, cost)
}

func TestEstimateCostWithZeroTasksIsSoftwareOverheadBucketed(t *testing.T) {
	// 0 tasks -> $10000 exactly, already on a $5000 boundary.
	cost := estimateCost(0)
	assert.Equal(t, 10000.0, cost)
}

func TestDependencyNotesSkipsEmptyPhases(t *testing.T) {
	immediate := RemediationPhase{Name: "Critical Fixes", Tasks: []RemediationTask{{}}}
	shortTerm := RemediationPhase{Name: "Hardening"}
	longTerm := RemediationPhase{Name: "Long-term", Tasks: []RemediationTask{{}}}

	notes := dependencyNotes(immediate, shortTerm, longTerm)
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0], "Critical Fixes")
	assert.Contains(t, notes[1], "Long-term")
}
