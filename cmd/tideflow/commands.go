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

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	configPath   string
	listenAddr   string
	pipelinePath string

	// run flags
	runSide      string
	runPrice     float64
	runQuantity  float64
	runTimeframe string
	runStrategy  string
	runHeadlines []string
	runNoMarket  bool

	rootCmd = &cobra.Command{
		Use:   "tideflow",
		Short: "A signal scoring pipeline for trading webhooks",
		Long: `Tideflow ingests trading signals (TradingView alerts or generic JSON),
enriches them with market context, technical indicators, candlestick
patterns, and news sentiment, and blends everything into one verdict.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the Tideflow gateway server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	runCmd = &cobra.Command{
		Use:   "run [symbol]",
		Short: "Score one signal through the pipeline and print the verdict",
		Args:  cobra.ExactArgs(1),
		Run:   runOnce, // Defined in cmd_run.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Validate a pipeline wiring file without starting the server",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate, // Defined in cmd_validate.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the Tideflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("tideflow", Version)
		},
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to tideflow.yaml (default ~/.tideflow/tideflow.yaml, created on first run)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address override (e.g. :12400)")
	serveCmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Pipeline wiring file override")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSide, "side", "buy", "Signal side: buy, sell, or flat")
	runCmd.Flags().Float64Var(&runPrice, "price", 0, "Signal price (required)")
	runCmd.Flags().Float64Var(&runQuantity, "quantity", 0, "Quantity or contracts (0 means 1)")
	runCmd.Flags().StringVar(&runTimeframe, "timeframe", "", "Bar interval the signal was computed on (e.g. 1h)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "cli", "Strategy name to record on the signal")
	runCmd.Flags().StringArrayVar(&runHeadlines, "headline", nil, "News headline for the sentiment stage (repeatable)")
	runCmd.Flags().BoolVar(&runNoMarket, "no-market", false, "Skip InfluxDB and score against a generated candle window")
	_ = runCmd.MarkFlagRequired("price")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
