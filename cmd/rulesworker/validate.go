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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jakekausler/campaign-manager-rules/internal/cache"
	"github.com/jakekausler/campaign-manager-rules/internal/coordinator"
	"github.com/jakekausler/campaign-manager-rules/internal/engine"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
	"github.com/jakekausler/campaign-manager-rules/internal/rpc"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

const (
	validateCampaignID  = "validate"
	validateBranchID    = "main"
	validateConditionID = "scratch"
)

func newValidateCmd() *cobra.Command {
	var expressionPath string
	var contextPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Evaluate a single JSONLogic expression against a context, without a live store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			exprJSON, err := readArg(expressionPath, "--expression")
			if err != nil {
				return err
			}
			var expression interface{}
			if err := json.Unmarshal([]byte(exprJSON), &expression); err != nil {
				return fmt.Errorf("invalid expression JSON: %w", err)
			}

			contextJSON := "{}"
			if contextPath != "" {
				contextJSON, err = readArg(contextPath, "--context")
				if err != nil {
					return err
				}
			}

			result := evaluateScratch(cmd.Context(), expression, contextJSON)

			renderer := rpc.NewResultRenderer()
			if jsonOutput {
				out, err := renderer.RenderJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderer.RenderHuman(validateConditionID, result))
			}

			os.Exit(renderer.GetExitCode(result))
			return nil
		},
	}

	cmd.Flags().StringVar(&expressionPath, "expression", "", "JSONLogic expression, or '-' to read JSON from stdin")
	cmd.Flags().StringVar(&contextPath, "context", "", "evaluation context JSON, or '-' to read from stdin")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "render the result as JSON instead of a human report")
	_ = cmd.MarkFlagRequired("expression")
	return cmd
}

// readArg returns raw literally, unless it is "-", in which case it
// reads the value from stdin. Stdin is consumed by the first flag that
// reads it, so only one of --expression and --context can usefully be
// "-" at a time.
func readArg(raw, flag string) (string, error) {
	if raw != "-" {
		return raw, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading %s from stdin: %w", flag, err)
	}
	return string(data), nil
}

// evaluateScratch seeds a throwaway MemoryStore with a single active
// condition and runs it through the full engine pipeline, so
// `validate` exercises the same evaluation, caching and tracing code
// paths the RPC surface does.
func evaluateScratch(ctx context.Context, expression interface{}, contextJSON string) *models.Result {
	s := store.NewMemoryStore()
	s.PutCondition(validateCampaignID, validateBranchID, &models.Condition{
		ID:         validateConditionID,
		IsActive:   true,
		Expression: expression,
	})

	c := cache.New(cache.Config{})
	defer c.Close()
	coord := coordinator.New(s, nil)
	e := engine.New(engine.Config{Store: s, Cache: c, Coordinator: coord})

	evalCtx, err := engine.MarshalContext(contextJSON)
	if err != nil {
		return &models.Result{Success: false, Error: err.Error()}
	}

	return e.Evaluate(ctx, validateConditionID, validateCampaignID, validateBranchID, evalCtx, true)
}
