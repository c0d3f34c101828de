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
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Tideflow/cmd/tideflow/config"
	"github.com/AleutianAI/Tideflow/pkg/logging"
	"github.com/AleutianAI/Tideflow/services/gateway"
	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/pipeline/units"
	"github.com/AleutianAI/Tideflow/services/scoring"
	"github.com/AleutianAI/Tideflow/services/storage/badger"
	"github.com/AleutianAI/Tideflow/services/telemetry"
)

// runServe wires the full service: config, telemetry, storage, market
// data, the scoring backend, the built-in unit set, and the HTTP
// gateway. It blocks until the server exits.
func runServe(cmd *cobra.Command, args []string) {
	if err := config.Load(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.Global

	// Flags beat the config file.
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	if pipelinePath != "" {
		cfg.Server.PipelinePath = pipelinePath
	}

	procLog := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "tideflow",
		JSON:    cfg.Logging.Format != "text",
	})
	defer procLog.Close()
	logger := procLog.Slog()
	slog.SetDefault(logger)

	ctx := context.Background()

	// Telemetry first so everything downstream exports spans.
	tcfg := telemetry.DefaultConfig()
	if cfg.Telemetry.TraceExporter != "" {
		tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	// Embedded store for execution results and verdicts.
	bcfg := badger.DefaultConfig()
	bcfg.Path = cfg.Badger.Path
	bcfg.Logger = logger
	if cfg.Badger.InMemory {
		bcfg = badger.InMemoryConfig()
	}
	db, err := badger.Open(bcfg)
	if err != nil {
		log.Fatalf("Failed to open storage at %s: %v", cfg.Badger.Path, err)
	}
	defer db.Close()

	results, err := badger.NewResultStore(db, logger)
	if err != nil {
		log.Fatalf("Failed to create result store: %v", err)
	}
	verdicts, err := badger.NewVerdictStore(db, logger)
	if err != nil {
		log.Fatalf("Failed to create verdict store: %v", err)
	}

	// Market data backend (InfluxDB).
	market, err := marketdata.NewStore(marketdata.Config{
		URL:    cfg.Influx.URL,
		Token:  cfg.Influx.Token,
		Org:    cfg.Influx.Org,
		Bucket: cfg.Influx.Bucket,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create market data store: %v", err)
	}
	defer market.Close()

	scorer := newScorer(cfg.Scoring.Provider)

	// Register the built-in unit set and build the pipeline services.
	hub := gateway.NewHub(logger)
	registry := pipeline.NewRegistry()
	report := registry.AutoDiscover(units.Builtins(units.Deps{
		Market:   market,
		Scorer:   scorer,
		Verdicts: verdicts,
		Stream:   hub,
		Logger:   logger,
	})...)
	if report.Failed > 0 {
		log.Fatalf("Failed to register pipeline units: %v", report.Failures)
	}
	slog.Info("Registered built-in units", "count", report.Registered)

	builder := pipeline.NewBuilder(registry)
	engine := pipeline.NewEngine(logger)

	// Default (no-op) extension options; enterprise builds inject
	// custom ServiceOptions here.
	srv, err := gateway.NewServer(gateway.Config{
		Addr:         cfg.Server.Addr,
		PipelinePath: cfg.Server.PipelinePath,
		IngestRPS:    cfg.Server.IngestRPS,
		IngestBurst:  cfg.Server.IngestBurst,
	}, gateway.Deps{
		Engine:   engine,
		Builder:  builder,
		Results:  results,
		Verdicts: verdicts,
		Hub:      hub,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	if err := srv.ReloadPipeline(); err != nil {
		log.Fatalf("Failed to load pipeline %s: %v", cfg.Server.PipelinePath, err)
	}

	// Hot reload on pipeline file changes.
	watcher, err := gateway.NewPipelineWatcher(srv)
	if err != nil {
		log.Fatalf("Failed to create pipeline watcher: %v", err)
	}
	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline watcher: %v", err)
	}
	defer watcher.Stop()

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	// SIGINT/SIGTERM drain the server so the deferred closes run and
	// badger syncs its value log.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down", "signal", sig.String())
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			slog.Warn("Forced shutdown", "error", err)
		}
	}()

	slog.Info("Starting Tideflow gateway",
		"addr", cfg.Server.Addr,
		"pipeline", cfg.Server.PipelinePath,
		"scoring", cfg.Scoring.Provider,
	)

	// Run the server (blocks until shutdown)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Gateway error: %v", err)
	}
	slog.Info("Gateway stopped")
}

// newScorer selects the scoring backend. Unknown providers fall back
// to the local heuristic scorer rather than refusing to start.
func newScorer(provider string) scoring.Client {
	switch provider {
	case "", "local":
		slog.Info("Using local heuristic scorer")
		return scoring.NewLocalClient()
	case "openai":
		slog.Info("Using OpenAI scoring backend")
		client, err := scoring.NewOpenAIClient()
		if err != nil {
			log.Fatalf("Failed to create OpenAI scoring client: %v", err)
		}
		return client
	case "ollama":
		slog.Info("Using Ollama scoring backend")
		client, err := scoring.NewOllamaClient()
		if err != nil {
			log.Fatalf("Failed to create Ollama scoring client: %v", err)
		}
		return client
	default:
		slog.Warn("Unknown scoring provider, using local heuristic scorer", "provider", provider)
		return scoring.NewLocalClient()
	}
}
