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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Tideflow/pkg/extensions"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// AcceptResponse acknowledges an admitted signal and names the
// execution that will score it.
type AcceptResponse struct {
	ExecutionID string `json:"executionId"`
	SignalID    string `json:"signalId"`
	Status      string `json:"status"`
}

// handleTradingViewWebhook ingests a TradingView alert payload.
func (s *Server) handleTradingViewWebhook(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("handler", "TradingViewWebhook"))

	var dto signals.TradingViewAlert
	if err := c.ShouldBindJSON(&dto); err != nil {
		ingestTotal.WithLabelValues("tradingview", "rejected").Inc()
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	sig, err := signals.FromTradingView(dto)
	if err != nil {
		s.rejectSignal(c, logger, "tradingview", err)
		return
	}
	s.admitSignal(c, logger, "tradingview", sig)
}

// handleGenericSignal ingests a broker-agnostic signal payload.
func (s *Server) handleGenericSignal(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("handler", "GenericSignal"))

	var dto signals.GenericSignal
	if err := c.ShouldBindJSON(&dto); err != nil {
		ingestTotal.WithLabelValues("generic", "rejected").Inc()
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	sig, err := signals.FromGeneric(dto)
	if err != nil {
		s.rejectSignal(c, logger, "generic", err)
		return
	}
	s.admitSignal(c, logger, "generic", sig)
}

// rejectSignal answers a mapping failure. Validation errors carry their
// field details to the caller; anything else returns the bare message.
func (s *Server) rejectSignal(c *gin.Context, logger *slog.Logger, source string, err error) {
	ingestTotal.WithLabelValues(source, "rejected").Inc()
	s.auditEvent(c, extensions.AuditEvent{
		EventType:    "ingest.rejected",
		UserID:       authInfoFrom(c).UserID,
		Action:       "create",
		ResourceType: "signal",
		Outcome:      "failure",
		Metadata:     map[string]any{"source": source, "error": err.Error()},
	})

	var verr *signals.ValidationError
	if errors.As(err, &verr) {
		logger.Warn("signal rejected", slog.Int("field_errors", len(verr.Fields)))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "signal validation failed",
			Details: verr.Fields,
		})
		return
	}
	logger.Warn("signal rejected", slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// admitSignal starts an execution for a validated signal and answers 202.
func (s *Server) admitSignal(c *gin.Context, logger *slog.Logger, source string, sig *signals.Signal) {
	id, err := s.startExecution(c.Request.Context(), sig)
	if err != nil {
		ingestTotal.WithLabelValues(source, "rejected").Inc()
		if s.Graph() == nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no pipeline graph loaded"})
			return
		}
		logger.Error("start execution failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to start execution"})
		return
	}

	ingestTotal.WithLabelValues(source, "accepted").Inc()
	s.auditEvent(c, extensions.AuditEvent{
		EventType:    "ingest.accepted",
		UserID:       authInfoFrom(c).UserID,
		Action:       "create",
		ResourceType: "signal",
		ResourceID:   sig.ID,
		Outcome:      "success",
		Metadata:     map[string]any{"source": source, "symbol": sig.Symbol, "execution_id": id},
	})
	logger.Info("signal accepted",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("execution_id", id))
	c.JSON(http.StatusAccepted, AcceptResponse{
		ExecutionID: id,
		SignalID:    sig.ID,
		Status:      "accepted",
	})
}

// handleValidatePipeline dry-runs a pipeline config through the builder
// without installing the resulting graph.
func (s *Server) handleValidatePipeline(c *gin.Context) {
	var cfg pipeline.PipelineConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	build := s.builder.BuildFromConfig(&cfg)
	result := pipeline.ValidationResult{
		Valid:    build.Success,
		Errors:   build.Errors,
		Warnings: build.Warnings,
	}
	if !result.Valid {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
