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

// RemediationPriority buckets a finding into one of the plan's three phases.
type RemediationPriority string

const (
	PriorityImmediate  RemediationPriority = "Immediate"
	PriorityShortTerm  RemediationPriority = "ShortTerm"
	PriorityLongTerm   RemediationPriority = "LongTerm"
)

const (
	hoursPerTask     = 6.0
	hourlyRate       = 150.0
	softwareOverhead = 10_000.0
	costBucketSize   = 5_000.0
)

// RemediationTask is one line item within a RemediationPhase.
type RemediationTask struct {
	Finding  string
	Priority RemediationPriority
	Summary  string
}

// RemediationPhase is one of the plan's three fixed windows, per spec §4.8.
type RemediationPhase struct {
	Name      string
	WindowDays string
	Tasks     []RemediationTask
}

// RemediationPlan is spec §4.8's three-phase remediation roadmap.
type RemediationPlan struct {
	Phases            []RemediationPhase
	Resources         []string
	EstimatedCost      float64
	DependencyNotes    []string
	SuccessCriteria    []string
}

// RemediationPlanner produces a phased plan from a findings list.
type RemediationPlanner struct{}

func NewRemediationPlanner() *RemediationPlanner { return &RemediationPlanner{} }

// Plan buckets each finding into Critical Fixes (7 days), Hardening (8-30
// days), or Long-term (31-90 days) by its risk score, then derives a cost
// estimate and standard resource/dependency/success-criteria text.
func (p *RemediationPlanner) Plan(findings []SecurityFinding) RemediationPlan {
	immediate := RemediationPhase{Name: "Critical Fixes", WindowDays: "0-7"}
	shortTerm := RemediationPhase{Name: "Hardening", WindowDays: "8-30"}
	longTerm := RemediationPhase{Name: "Long-term", WindowDays: "31-90"}

	for _, f := range findings {
		task := RemediationTask{Finding: f.Category, Priority: priorityOf(f.RiskScore), Summary: f.Remediation}
		switch task.Priority {
		case PriorityImmediate:
			immediate.Tasks = append(immediate.Tasks, task)
		case PriorityShortTerm:
			shortTerm.Tasks = append(shortTerm.Tasks, task)
		default:
			longTerm.Tasks = append(longTerm.Tasks, task)
		}
	}

	totalTasks := len(immediate.Tasks) + len(shortTerm.Tasks) + len(longTerm.Tasks)

	return RemediationPlan{
		Phases:          []RemediationPhase{immediate, shortTerm, longTerm},
		Resources:       []string{"Security Engineer", "Network Administrator", "Compliance Reviewer"},
		EstimatedCost:   estimateCost(totalTasks),
		DependencyNotes: dependencyNotes(immediate, shortTerm, longTerm),
		SuccessCriteria: []string{
			"No Critical or High severity findings remain unresolved past their phase window",
			"Re-analysis of a subsequent capture from the same network shows no recurrence of Immediate-priority findings",
		},
	}
}

func priorityOf(riskScore int) RemediationPriority {
	switch {
	case riskScore >= 80:
		return PriorityImmediate
	case riskScore >= 50:
		return PriorityShortTerm
	default:
		return PriorityLongTerm
	}
}

// estimateCost applies spec §4.8's rough formula (tasks * 6h * $150 plus a
// flat software allowance), bucketed to the nearest $5,000 for a plan-level
// estimate rather than false task-level precision.
func estimateCost(tasks int) float64 {
	raw := float64(tasks)*hoursPerTask*hourlyRate + softwareOverhead
	return float64(int(raw/costBucketSize+0.5)) * costBucketSize
}

func dependencyNotes(phases ...RemediationPhase) []string {
	var notes []string
	for _, ph := range phases {
		if len(ph.Tasks) == 0 {
			continue
		}
		notes = append(notes, ph.Name+" tasks should complete before re-running analysis to confirm remediation")
	}
	return notes
}
