// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Tideflow/services/gateway"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/pipeline/units"
)

// runValidate checks a pipeline wiring file against the built-in unit
// set without executing anything. Exits non-zero when the file does not
// build.
func runValidate(cmd *cobra.Command, args []string) {
	path := args[0]

	cfg, err := gateway.LoadPipelineFile(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}

	// Units never execute during a build, so nil dependencies are fine.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := pipeline.NewRegistry()
	registry.AutoDiscover(units.Builtins(units.Deps{Logger: logger})...)

	build := pipeline.NewBuilder(registry).BuildFromConfig(cfg)
	for _, w := range build.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if !build.Success {
		for _, e := range build.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e)
		}
		os.Exit(1)
	}

	levels, err := pipeline.ExecutionLevels(build.Graph)
	if err != nil {
		log.Fatalf("Failed to level %s: %v", path, err)
	}
	fmt.Printf("%s: OK (%d nodes, %d levels)\n", path, len(cfg.Nodes), len(levels))
	for i, level := range levels {
		fmt.Printf("  level %d: %v\n", i, level)
	}
}
