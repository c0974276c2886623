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

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pcapforensics/analyzer/internal/progress"
)

const barWidth = 30

// progressBar renders a single overwritten terminal line driven by the
// ProgressCoordinator's sink, in the spirit of the teacher's one-line
// structured-log-per-event style but for an interactive terminal.
type progressBar struct{}

func newProgressBar() *progressBar { return &progressBar{} }

func (b *progressBar) render(evt progress.Event) {
	filled := evt.Percent * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	eta := "?"
	if evt.RemainingEstimate != nil {
		eta = evt.RemainingEstimate.Round(time.Second).String()
	}

	line := fmt.Sprintf("[%s] %3d%% %-16s %s eta=%s threats=%d", bar, evt.Percent, evt.Phase, evt.Detail, eta, evt.ThreatsDetected)
	fmt.Printf("\r%-100s", line)
}

func (b *progressBar) finish() {
	fmt.Println()
}
