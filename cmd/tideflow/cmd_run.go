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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Tideflow/cmd/tideflow/config"
	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/pipeline/units"
	"github.com/AleutianAI/Tideflow/services/signals"
	"github.com/AleutianAI/Tideflow/services/storage/badger"
)

// runOnce scores a single signal through the default wiring and prints
// the verdict as JSON. The verdict is not persisted; the run uses an
// in-memory store so it leaves no trace in the execution history.
func runOnce(cmd *cobra.Command, args []string) {
	if err := config.Load(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.Global

	// One-shot runs keep stdout clean for the verdict JSON.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sig, err := signals.FromGeneric(signals.GenericSignal{
		Symbol:    args[0],
		Side:      runSide,
		Price:     runPrice,
		Quantity:  runQuantity,
		Strategy:  runStrategy,
		Timeframe: runTimeframe,
		Headlines: runHeadlines,
	})
	if err != nil {
		log.Fatalf("Invalid signal: %v", err)
	}

	var market units.MarketStore
	if runNoMarket {
		market = &syntheticMarket{price: runPrice}
	} else {
		store, err := marketdata.NewStore(marketdata.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to create market data store (try --no-market): %v", err)
		}
		defer store.Close()
		market = store
	}

	db, err := badger.Open(badger.InMemoryConfig())
	if err != nil {
		log.Fatalf("Failed to open in-memory store: %v", err)
	}
	defer db.Close()
	verdicts, err := badger.NewVerdictStore(db, logger)
	if err != nil {
		log.Fatalf("Failed to create verdict store: %v", err)
	}

	registry := pipeline.NewRegistry()
	report := registry.AutoDiscover(units.Builtins(units.Deps{
		Market:   market,
		Scorer:   newScorer(cfg.Scoring.Provider),
		Verdicts: verdicts,
		Logger:   logger,
	})...)
	if report.Failed > 0 {
		log.Fatalf("Failed to register pipeline units: %v", report.Failures)
	}

	build := pipeline.NewBuilder(registry).BuildFromConfig(units.DefaultPipeline())
	if !build.Success {
		log.Fatalf("Failed to build pipeline: %v", build.Errors)
	}

	engine := pipeline.NewEngine(logger)
	result, err := engine.Execute(context.Background(), build.Graph, pipeline.NewState(*sig), nil)
	if err != nil {
		log.Fatalf("Execution failed: %v", err)
	}
	if !result.Success {
		log.Fatalf("Pipeline failed: %v", result.Errors)
	}

	out, ok := result.FinalState.Output(units.CompositeID)
	if !ok {
		log.Fatalf("Pipeline completed without producing a verdict")
	}
	verdict, ok := out.(*signals.Verdict)
	if !ok {
		log.Fatalf("Unexpected verdict type %T", out)
	}

	encoded, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode verdict: %v", err)
	}
	fmt.Println(string(encoded))

	fmt.Fprintf(os.Stderr, "scored %s in %s (%d nodes)\n",
		sig.Symbol, result.Metrics.Duration.Round(time.Millisecond), result.Metrics.NodesExecuted)
}

// syntheticMarket serves a generated candle window that drifts up to the
// signal price, so --no-market runs work without an InfluxDB instance.
type syntheticMarket struct {
	price float64
}

func (m *syntheticMarket) RecentCandles(_ context.Context, _ string, n int) ([]marketdata.Candle, error) {
	if n <= 0 {
		n = 1
	}
	candles := make([]marketdata.Candle, n)
	start := time.Now().UTC().Add(-time.Duration(n) * time.Minute)
	for i := range candles {
		px := m.price * (1 + 0.001*float64(i+1-n))
		candles[i] = marketdata.Candle{
			Open:   px * 0.999,
			High:   px * 1.002,
			Low:    px * 0.998,
			Close:  px,
			Volume: 1000,
			At:     start.Add(time.Duration(i) * time.Minute),
		}
	}
	return candles, nil
}

func (m *syntheticMarket) LastQuote(context.Context, string) (float64, time.Time, error) {
	return m.price, time.Now().UTC(), nil
}

func (m *syntheticMarket) WriteVerdictPoint(context.Context, *signals.Verdict) error {
	return nil
}
