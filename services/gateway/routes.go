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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrorResponse is the JSON shape of every non-2xx gateway reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhook/tradingview", s.authenticate("ingest"), s.throttle("tradingview"), s.handleTradingViewWebhook)
		v1.POST("/signals", s.authenticate("ingest"), s.throttle("generic"), s.handleGenericSignal)
		v1.POST("/pipeline/validate", s.handleValidatePipeline)

		// Execution administration routes
		executions := v1.Group("/executions")
		{
			executions.GET("", s.handleListExecutions)
			executions.GET("/:id", s.handleExecutionStatus)
			executions.GET("/:id/metrics", s.handleExecutionMetrics)
			executions.GET("/:id/trace", s.handleExecutionTrace)
			executions.GET("/:id/stream", s.handleExecutionStream)
			executions.DELETE("/:id", s.authenticate("operator"), s.handleCancelExecution)
		}

		v1.GET("/history", s.handleRecentResults)
		v1.GET("/history/:id", s.handleResultByID)
		v1.GET("/verdicts/:signalId", s.handleVerdictBySignal)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"graphLoaded": s.Graph() != nil,
		"activeRuns":  len(s.engine.ActiveExecutions()),
	})
}
