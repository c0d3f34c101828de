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
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/scoring"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// actionThreshold is the composite score magnitude required before the
// verdict commits to a direction instead of "hold".
const actionThreshold = 0.2

// Default component weights. Run config keys "weight_<component>"
// override them per node; weights renormalize over the components that
// actually produced a score.
var defaultWeights = map[string]float64{
	"indicators": 0.25,
	"patterns":   0.20,
	"sentiment":  0.15,
	"model":      0.40,
}

// CompositeScore blends the component scores into the final verdict.
type CompositeScore struct {
	pipeline.BaseUnit
	logger *slog.Logger
}

// NewCompositeScore creates the verdict blending unit.
func NewCompositeScore(logger *slog.Logger) *CompositeScore {
	return &CompositeScore{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           CompositeID,
			UnitCategory:     pipeline.CategoryScoring,
			UnitDependencies: []string{PredictID, PatternsID},
			UnitParallel:     true,
			UnitTimeout:      5 * time.Second,
		},
		logger: logger,
	}
}

// Execute blends whatever component scores are present into a Verdict.
func (u *CompositeScore) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	ing, err := outputAs[IngressOutput](st, IngressID)
	if err != nil {
		return st, err
	}

	weights := weightsFromRunConfig(st.RunConfig(CompositeID))
	scores := map[string]float64{}
	var modelConfidence float64

	if ind, err := outputAs[IndicatorsOutput](st, IndicatorsID); err == nil {
		scores["indicators"] = indicatorLean(ind)
	}
	if pat, err := outputAs[PatternsOutput](st, PatternsID); err == nil {
		scores["patterns"] = pat.Bias
	}
	if sent, err := outputAs[SentimentOutput](st, SentimentID); err == nil {
		scores["sentiment"] = sent.Score
	}
	if pred, err := outputAs[scoring.ScoreResponse](st, PredictID); err == nil {
		scores["model"] = pred.Score
		modelConfidence = pred.Confidence
	}
	if len(scores) == 0 {
		return st, fmt.Errorf("no component scores available to blend")
	}

	var weighted, weightSum float64
	for name, score := range scores {
		w := weights[name]
		weighted += w * score
		weightSum += w
	}
	if weightSum == 0 {
		return st, fmt.Errorf("component weights sum to zero")
	}
	composite := clamp(weighted/weightSum, -1, 1)

	action := "hold"
	switch {
	case composite >= actionThreshold:
		action = "buy"
	case composite <= -actionThreshold:
		action = "sell"
	}

	confidence := clamp(0.3+0.5*math.Abs(composite)+0.2*modelConfidence, 0, 1)

	scores["composite"] = composite
	verdict := &signals.Verdict{
		SignalID:   ing.Signal.ID,
		Symbol:     ing.Signal.Symbol,
		Action:     action,
		Confidence: confidence,
		Scores:     scores,
		Rationale:  blendRationale(scores),
		CreatedAt:  time.Now().UTC(),
	}

	u.logger.Debug("verdict composed",
		slog.String("symbol", verdict.Symbol),
		slog.String("action", verdict.Action),
		slog.Float64("composite", composite),
		slog.Float64("confidence", confidence))

	st.SetOutput(CompositeID, verdict)
	return st, nil
}

// indicatorLean reduces the indicator set to one directional score.
func indicatorLean(ind IndicatorsOutput) float64 {
	lean := clamp((50-ind.RSI)/50, -1, 1) * 0.5
	if ind.EMASlow != 0 {
		lean += math.Tanh((ind.EMAFast-ind.EMASlow)/ind.EMASlow*25) * 0.5
	}
	return clamp(lean, -1, 1)
}

// weightsFromRunConfig overlays "weight_<component>" run config entries
// onto the defaults.
func weightsFromRunConfig(cfg map[string]any) map[string]float64 {
	weights := make(map[string]float64, len(defaultWeights))
	for name, w := range defaultWeights {
		weights[name] = w
	}
	for name := range defaultWeights {
		switch v := cfg["weight_"+name].(type) {
		case float64:
			if v >= 0 {
				weights[name] = v
			}
		case int:
			if v >= 0 {
				weights[name] = float64(v)
			}
		}
	}
	return weights
}

// blendRationale renders the component scores in a stable order.
func blendRationale(scores map[string]float64) string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		if name != "composite" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %+.2f", name, scores[name]))
	}
	return "weighted blend: " + strings.Join(parts, ", ")
}
