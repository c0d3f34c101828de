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

	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/scoring"
)

// MLPredict asks the configured scoring provider for a directional score.
//
// Description:
//
//	Assembles a scoring request from whatever enrichment outputs are
//	present: indicators and sentiment when those units ran, the pattern
//	flags when pattern_scan is wired upstream. Only the normalized signal
//	itself is mandatory.
type MLPredict struct {
	pipeline.BaseUnit
	scorer scoring.Client
	logger *slog.Logger
}

// NewMLPredict creates the model scoring unit.
func NewMLPredict(scorer scoring.Client, logger *slog.Logger) *MLPredict {
	return &MLPredict{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           PredictID,
			UnitCategory:     pipeline.CategoryScoring,
			UnitDependencies: []string{IndicatorsID, SentimentID},
			UnitParallel:     true,
			UnitTimeout:      30 * time.Second,
		},
		scorer: scorer,
		logger: logger,
	}
}

// Execute scores the signal with the model provider.
func (u *MLPredict) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if u.scorer == nil {
		return st, fmt.Errorf("scoring client not configured")
	}

	ing, err := outputAs[IngressOutput](st, IngressID)
	if err != nil {
		return st, err
	}
	sig := ing.Signal

	req := scoring.ScoreRequest{
		Symbol:    sig.Symbol,
		Side:      string(sig.Side),
		Price:     sig.Price,
		Timeframe: sig.Timeframe,
		Headlines: sig.Headlines,
	}
	if ind, err := outputAs[IndicatorsOutput](st, IndicatorsID); err == nil {
		req.Indicators = ind.Map()
	}
	if pat, err := outputAs[PatternsOutput](st, PatternsID); err == nil {
		req.Patterns = pat.Flags
	}
	if sent, err := outputAs[SentimentOutput](st, SentimentID); err == nil {
		req.Sentiment = sent.Score
	}

	resp, err := u.scorer.Score(ctx, req)
	if err != nil {
		return st, fmt.Errorf("model scoring failed: %w", err)
	}

	u.logger.Debug("model score",
		slog.String("symbol", sig.Symbol),
		slog.String("provider", resp.Provider),
		slog.Float64("score", resp.Score),
		slog.Float64("confidence", resp.Confidence))

	st.SetOutput(PredictID, resp)
	return st, nil
}
