// Copyright 2024-2025 FlowSpec
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

package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// ResultRenderer formats an evaluation Result for the `validate` CLI
// subcommand, which has no transport layer and needs a human-readable
// report instead of the RPC's raw JSON.
type ResultRenderer struct {
	ColorOutput bool
}

// NewResultRenderer returns a ResultRenderer with color enabled.
func NewResultRenderer() *ResultRenderer {
	return &ResultRenderer{ColorOutput: true}
}

func (r *ResultRenderer) color(name string) string {
	if !r.ColorOutput {
		return ""
	}
	codes := map[string]string{
		"reset": "\033[0m", "bold": "\033[1m", "dim": "\033[2m",
		"red": "\033[31m", "green": "\033[32m", "yellow": "\033[33m", "cyan": "\033[36m",
	}
	return codes[name]
}

// RenderHuman renders a Result as a short human-readable report.
func (r *ResultRenderer) RenderHuman(conditionID string, result *models.Result) string {
	var out strings.Builder
	reset := r.color("reset")

	if result.Success {
		out.WriteString(fmt.Sprintf("%s✓ %s%s: %s%v%s\n", r.color("green"), conditionID, reset, r.color("bold"), result.ValueJSON, reset))
	} else {
		out.WriteString(fmt.Sprintf("%s✗ %s%s: %s%s%s\n", r.color("red"), conditionID, reset, r.color("red"), result.Error, reset))
	}
	out.WriteString(fmt.Sprintf("  %sevaluated in %dms%s\n", r.color("dim"), result.EvaluationTimeMs, reset))

	for _, step := range result.Trace {
		icon := "✓"
		stepColor := r.color("green")
		if !step.Passed {
			icon = "✗"
			stepColor = r.color("red")
		}
		out.WriteString(fmt.Sprintf("  %s%s %d. %s%s\n", stepColor, icon, step.Step, step.Description, reset))
	}

	return out.String()
}

// RenderJSON renders a Result as indented JSON.
func (r *ResultRenderer) RenderJSON(result *models.Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result to JSON: %w", err)
	}
	return string(data), nil
}

// RenderDependencyReport renders a ValidateDependencies outcome.
func (r *ResultRenderer) RenderDependencyReport(hasCycle bool, cycles []string, message string) string {
	var out strings.Builder
	reset := r.color("reset")

	if hasCycle {
		out.WriteString(fmt.Sprintf("%s✗ %s%s\n", r.color("red"), message, reset))
		for _, c := range cycles {
			out.WriteString(fmt.Sprintf("  %s%s%s\n", r.color("yellow"), c, reset))
		}
	} else {
		out.WriteString(fmt.Sprintf("%s✓ %s%s\n", r.color("green"), message, reset))
	}
	return out.String()
}

// GetExitCode returns the process exit code for a Result: 0 on
// success, 1 on a surfaced evaluation failure.
func (r *ResultRenderer) GetExitCode(result *models.Result) int {
	if result == nil {
		return 2
	}
	if !result.Success {
		return 1
	}
	return 0
}
