// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ingestTotal counts inbound signals by source and admission outcome.
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideflow_gateway_ingest_total",
		Help: "Inbound signals by source and outcome",
	}, []string{"source", "status"})

	// executionDuration tracks end-to-end run latency by terminal status.
	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tideflow_gateway_execution_duration_seconds",
		Help:    "Pipeline execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
	}, []string{"status"})

	// executionsActive gauges runs between admission and completion.
	executionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tideflow_gateway_executions_active",
		Help: "Executions currently in flight",
	})

	// nodeFailures counts node-level failures by node id.
	nodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideflow_gateway_node_failures_total",
		Help: "Pipeline node failures by node",
	}, []string{"node"})

	// wsClients gauges connected verdict-stream clients.
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tideflow_gateway_ws_clients",
		Help: "Connected verdict stream clients",
	})
)
