// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package units

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Tideflow/pkg/validation"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// defaultTimeframe is assumed when a signal arrives without one.
const defaultTimeframe = "1h"

// IngressOutput is the normalized signal every downstream unit reads.
type IngressOutput struct {
	Signal    signals.Signal `json:"signal"`
	DedupeKey string         `json:"dedupeKey"`
}

// SignalIngress is the pipeline source: it normalizes the raw payload
// carried in State.Raw into a validated signals.Signal.
//
// Description:
//
//	Sanitizes the symbol, defaults side and quantity, normalizes the
//	timeframe, and stamps missing identity fields. Downstream units only
//	ever see the normalized copy written under the signal_ingress key.
type SignalIngress struct {
	pipeline.BaseUnit
	logger *slog.Logger
}

// NewSignalIngress creates the ingress source unit.
func NewSignalIngress(logger *slog.Logger) *SignalIngress {
	return &SignalIngress{
		BaseUnit: pipeline.BaseUnit{
			UnitID:       IngressID,
			UnitCategory: pipeline.CategorySource,
			UnitParallel: true,
			UnitTimeout:  5 * time.Second,
		},
		logger: logger,
	}
}

// Execute normalizes the raw signal payload.
func (u *SignalIngress) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	sig, err := signalFromRaw(st.Raw)
	if err != nil {
		return st, err
	}

	symbol, err := validation.SanitizeTicker(sig.Symbol)
	if err != nil {
		return st, fmt.Errorf("invalid symbol: %w", err)
	}
	sig.Symbol = symbol

	if sig.Side == "" {
		sig.Side = signals.SideFlat
	}
	if !sig.Side.Valid() {
		return st, fmt.Errorf("invalid side %q", sig.Side)
	}
	if sig.Price <= 0 {
		return st, fmt.Errorf("signal price must be positive, got %v", sig.Price)
	}
	if sig.Quantity <= 0 {
		sig.Quantity = 1
	}

	if sig.Timeframe == "" {
		sig.Timeframe = defaultTimeframe
	} else {
		tf, err := validation.NormalizeTimeframe(sig.Timeframe)
		if err != nil {
			return st, fmt.Errorf("invalid timeframe: %w", err)
		}
		sig.Timeframe = tf
	}

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}

	u.logger.Debug("signal admitted",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)))

	st.SetOutput(IngressID, IngressOutput{Signal: sig, DedupeKey: sig.DedupeKey()})
	return st, nil
}

// signalFromRaw accepts the payload shapes callers hand to the engine.
func signalFromRaw(raw any) (signals.Signal, error) {
	switch v := raw.(type) {
	case signals.Signal:
		return v, nil
	case *signals.Signal:
		if v == nil {
			return signals.Signal{}, fmt.Errorf("state raw payload is a nil signal")
		}
		return *v, nil
	default:
		return signals.Signal{}, fmt.Errorf("state raw payload is not a signal (got %T)", raw)
	}
}
