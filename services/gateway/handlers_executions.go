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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Tideflow/pkg/extensions"
	"github.com/AleutianAI/Tideflow/services/pipeline"
)

// handleListExecutions lists the ids of runs still in flight.
func (s *Server) handleListExecutions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active": s.engine.ActiveExecutions()})
}

// handleExecutionStatus reports one run's lifecycle phase.
func (s *Server) handleExecutionStatus(c *gin.Context) {
	id := c.Param("id")
	status, err := s.engine.ExecutionStatus(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executionId": id,
		"status":      status,
	})
}

// handleExecutionMetrics returns per-node timing and outcome counters
// for a run, live or terminal.
func (s *Server) handleExecutionMetrics(c *gin.Context) {
	id := c.Param("id")
	metrics, err := s.engine.ExecutionMetrics(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// handleExecutionTrace returns the ordered trace entries a run has
// appended so far.
func (s *Server) handleExecutionTrace(c *gin.Context) {
	id := c.Param("id")
	state, err := s.engine.ExecutionContext(id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executionId": id,
		"trace":       state.Trace(),
	})
}

// handleCancelExecution requests cooperative cancellation of a run.
func (s *Server) handleCancelExecution(c *gin.Context) {
	id := c.Param("id")
	reason := c.Query("reason")
	if reason == "" {
		reason = "cancelled via API"
	}

	err := s.engine.CancelExecution(id, reason)
	switch {
	case err == nil:
		s.auditEvent(c, extensions.AuditEvent{
			EventType:    "execution.cancelled",
			UserID:       authInfoFrom(c).UserID,
			Action:       "cancel",
			ResourceType: "execution",
			ResourceID:   id,
			Outcome:      "success",
			Metadata:     map[string]any{"reason": reason},
		})
		c.JSON(http.StatusAccepted, gin.H{
			"executionId": id,
			"status":      pipeline.ExecutionCancelled,
		})
	case errors.Is(err, pipeline.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, pipeline.ErrNotCancellable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
