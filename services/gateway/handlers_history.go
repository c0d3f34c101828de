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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Tideflow/services/storage/badger"
)

const defaultHistoryLimit = 20

// handleRecentResults lists persisted run results, newest first.
func (s *Server) handleRecentResults(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "result history is not configured"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	results, err := s.results.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleResultByID fetches one persisted run result.
func (s *Server) handleResultByID(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "result history is not configured"})
		return
	}

	result, err := s.results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, badger.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleVerdictBySignal fetches the latest verdict stored for a signal.
func (s *Server) handleVerdictBySignal(c *gin.Context) {
	if s.verdicts == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "verdict history is not configured"})
		return
	}

	verdict, err := s.verdicts.Get(c.Request.Context(), c.Param("signalId"))
	if err != nil {
		if errors.Is(err, badger.ErrVerdictNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, verdict)
}
