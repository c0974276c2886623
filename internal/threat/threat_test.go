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

package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcapforensics/analyzer/internal/anomaly"
)

func TestFromAnomalyPreservesFields(t *testing.T) {
	a := anomaly.Anomaly{
		ID:             "abc",
		DetectedAt:     42,
		Severity:       anomaly.SeverityCritical,
		Type:           "PortScan",
		Description:    "desc",
		SrcIP:          "10.0.0.1",
		DstIP:          "10.0.0.2",
		AffectedFrames: []uint64{1, 2, 3},
		Evidence:       map[string]any{"k": "v"},
		Recommendation: "fix it",
	}

	got := FromAnomaly(a)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.DetectedAt, got.DetectedAt)
	assert.Equal(t, a.Severity, got.Severity)
	assert.Equal(t, a.Type, got.Type)
	assert.Equal(t, a.Description, got.Description)
	assert.Equal(t, a.SrcIP, got.SrcIP)
	assert.Equal(t, a.DstIP, got.DstIP)
	assert.Equal(t, a.AffectedFrames, got.AffectedFrames)
	assert.Equal(t, a.Evidence, got.Evidence)
	assert.Equal(t, a.Recommendation, got.Recommendation)
	assert.False(t, got.IsFalsePositive)
}

func TestProjectAllPreservesOrderAndCount(t *testing.T) {
	anomalies := []anomaly.Anomaly{
		{ID: "1", Type: "PortScan"},
		{ID: "2", Type: "DDoS"},
		{ID: "3", Type: "SizeOutlier"},
	}

	got := ProjectAll(anomalies)
	require.Len(t, got, 3)
	for i, a := range anomalies {
		assert.Equal(t, a.ID, got[i].ID)
		assert.Equal(t, a.Type, got[i].Type)
	}
}

func TestProjectAllHandlesEmptyInput(t *testing.T) {
	got := ProjectAll(nil)
	assert.Empty(t, got)
}
