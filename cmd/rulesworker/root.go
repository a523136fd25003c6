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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rulesworker",
		Short:         "Evaluate JSONLogic-style conditions over a dependency graph of variables.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("rulesworker exited with error")
		os.Exit(1)
	}
}
