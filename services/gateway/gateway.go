// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is Tideflow's HTTP face: webhook ingest, execution
// management, history lookups, and the live verdict stream.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Tideflow/pkg/extensions"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/signals"
	"github.com/AleutianAI/Tideflow/services/storage/badger"
)

// Config carries the gateway's own knobs. Pipeline wiring lives in the
// file named by PipelinePath.
type Config struct {
	// Addr is the listen address, e.g. ":12400".
	Addr string `yaml:"addr" json:"addr"`

	// PipelinePath is the pipeline wiring file watched for hot reloads.
	PipelinePath string `yaml:"pipeline_path" json:"pipelinePath"`

	// IngestRPS and IngestBurst bound the signal ingest endpoints.
	IngestRPS   float64 `yaml:"ingest_rps" json:"ingestRps"`
	IngestBurst int     `yaml:"ingest_burst" json:"ingestBurst"`
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":12400",
		IngestRPS:   20,
		IngestBurst: 40,
	}
}

// Deps are the service collaborators the gateway drives.
type Deps struct {
	Engine   *pipeline.Engine
	Builder  *pipeline.Builder
	Results  *badger.ResultStore
	Verdicts *badger.VerdictStore
	Hub      *Hub
	Logger   *slog.Logger

	// Options carries the enterprise extension points. Nil selects the
	// open source no-op defaults: every token validates and audit events
	// are discarded.
	Options *extensions.ServiceOptions
}

// Server owns the HTTP surface and the currently loaded pipeline graph.
//
// Description:
//
//	The graph is swapped atomically on hot reload, so in-flight requests
//	keep the graph they started with. Executions are started detached
//	from the request context and watched by a background goroutine that
//	persists the final result and updates the run metrics.
type Server struct {
	cfg      Config
	engine   *pipeline.Engine
	builder  *pipeline.Builder
	results  *badger.ResultStore
	verdicts *badger.VerdictStore
	hub      *Hub
	logger   *slog.Logger
	limiter  *rate.Limiter
	auth     extensions.AuthProvider
	audit    extensions.AuditLogger

	graph atomic.Pointer[pipeline.Graph]
}

// NewServer wires a gateway server. The graph starts empty; call
// ReloadPipeline or SetGraph before serving traffic.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("gateway requires an engine")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("gateway requires a graph builder")
	}
	if cfg.IngestRPS <= 0 {
		cfg.IngestRPS = DefaultConfig().IngestRPS
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = DefaultConfig().IngestBurst
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := extensions.DefaultOptions()
	if deps.Options != nil {
		if deps.Options.AuthProvider != nil {
			opts.AuthProvider = deps.Options.AuthProvider
		}
		if deps.Options.AuditLogger != nil {
			opts.AuditLogger = deps.Options.AuditLogger
		}
	}

	return &Server{
		cfg:      cfg,
		engine:   deps.Engine,
		builder:  deps.Builder,
		results:  deps.Results,
		verdicts: deps.Verdicts,
		hub:      deps.Hub,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
		auth:     opts.AuthProvider,
		audit:    opts.AuditLogger,
	}, nil
}

// Graph returns the currently loaded pipeline graph, or nil before the
// first successful load.
func (s *Server) Graph() *pipeline.Graph {
	return s.graph.Load()
}

// SetGraph swaps the active graph.
func (s *Server) SetGraph(g *pipeline.Graph) {
	s.graph.Store(g)
}

// ReloadPipeline loads the wiring file and swaps the graph in. A broken
// file leaves the previous graph serving.
func (s *Server) ReloadPipeline() error {
	cfg, err := LoadPipelineFile(s.cfg.PipelinePath)
	if err != nil {
		return fmt.Errorf("load pipeline config: %w", err)
	}
	build := s.builder.BuildFromConfig(cfg)
	if !build.Success {
		return fmt.Errorf("build pipeline graph: %v", build.Errors)
	}
	for _, w := range build.Warnings {
		s.logger.Warn("pipeline config warning", slog.String("warning", w))
	}
	s.SetGraph(build.Graph)
	s.logger.Info("pipeline graph loaded",
		slog.String("path", s.cfg.PipelinePath),
		slog.String("owner", build.Graph.OwnerID),
		slog.Int("nodes", build.Graph.Len()))
	return nil
}

// startExecution launches a run for an admitted signal, detached from
// the request lifetime, and returns the execution id.
func (s *Server) startExecution(ctx context.Context, sig *signals.Signal) (string, error) {
	graph := s.Graph()
	if graph == nil {
		return "", fmt.Errorf("no pipeline graph loaded")
	}

	// The run must outlive the HTTP request; WithoutCancel keeps the
	// trace linkage without inheriting the request deadline.
	runCtx := context.WithoutCancel(ctx)
	id, done, err := s.engine.ExecuteAsync(runCtx, graph, pipeline.NewState(*sig), nil)
	if err != nil {
		return "", err
	}

	executionsActive.Inc()
	go s.awaitResult(id, done)
	return id, nil
}

// awaitResult blocks on one execution's completion, persists the result,
// and settles the run metrics.
func (s *Server) awaitResult(id string, done <-chan *pipeline.Result) {
	res := <-done
	executionsActive.Dec()

	status := string(res.Status)
	if res.Metrics != nil {
		executionDuration.WithLabelValues(status).Observe(res.Metrics.Duration.Seconds())
		for nodeID, nr := range res.Metrics.NodeResults {
			if nr.Status == pipeline.NodeStatusFailed {
				nodeFailures.WithLabelValues(nodeID).Inc()
			}
		}
	}

	if s.results != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.results.Put(ctx, res); err != nil {
			s.logger.Error("persist run result failed",
				slog.String("execution_id", id),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Info("execution finished",
		slog.String("execution_id", id),
		slog.String("status", status),
		slog.Bool("success", res.Success))
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("tideflow-gateway"))
	s.registerRoutes(router)
	return router
}
