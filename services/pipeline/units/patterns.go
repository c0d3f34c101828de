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
	"log/slog"
	"math"
	"time"

	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
)

// Pattern flags emitted by the scan. The names line up with the lexicon
// the scoring adapters weight.
const (
	PatternBullishEngulfing = "bullish_engulfing"
	PatternBearishEngulfing = "bearish_engulfing"
	PatternHammer           = "hammer"
	PatternShootingStar     = "shooting_star"
	PatternDoji             = "doji"
)

// patternBias maps each flag to its directional weight. Doji carries no
// direction.
var patternBias = map[string]float64{
	PatternBullishEngulfing: 0.3,
	PatternBearishEngulfing: -0.3,
	PatternHammer:           0.25,
	PatternShootingStar:     -0.25,
	PatternDoji:             0,
}

// PatternsOutput carries the detected candlestick patterns and their net
// directional bias in [-1, 1].
type PatternsOutput struct {
	Flags []string `json:"flags"`
	Bias  float64  `json:"bias"`
}

// PatternScan detects candlestick patterns on the latest bars of the
// candle window.
type PatternScan struct {
	pipeline.BaseUnit
	logger *slog.Logger
}

// NewPatternScan creates the pattern scan unit.
func NewPatternScan(logger *slog.Logger) *PatternScan {
	return &PatternScan{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           PatternsID,
			UnitCategory:     pipeline.CategoryEnrichment,
			UnitDependencies: []string{ContextID},
			UnitParallel:     true,
			UnitTimeout:      5 * time.Second,
		},
		logger: logger,
	}
}

// Execute scans the candle window for patterns.
func (u *PatternScan) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	mkt, err := outputAs[ContextOutput](st, ContextID)
	if err != nil {
		return st, err
	}

	flags := scanPatterns(mkt.Candles)
	var bias float64
	for _, f := range flags {
		bias += patternBias[f]
	}

	st.SetOutput(PatternsID, PatternsOutput{
		Flags: flags,
		Bias:  clamp(bias, -1, 1),
	})
	return st, nil
}

// scanPatterns inspects the last two bars.
func scanPatterns(candles []marketdata.Candle) []string {
	var flags []string
	if len(candles) == 0 {
		return flags
	}

	cur := candles[len(candles)-1]
	if len(candles) >= 2 {
		prev := candles[len(candles)-2]
		if isBullishEngulfing(prev, cur) {
			flags = append(flags, PatternBullishEngulfing)
		}
		if isBearishEngulfing(prev, cur) {
			flags = append(flags, PatternBearishEngulfing)
		}
	}
	if isHammer(cur) {
		flags = append(flags, PatternHammer)
	}
	if isShootingStar(cur) {
		flags = append(flags, PatternShootingStar)
	}
	if isDoji(cur) {
		flags = append(flags, PatternDoji)
	}
	return flags
}

func isBullishEngulfing(prev, cur marketdata.Candle) bool {
	return prev.Close < prev.Open && // previous bar bearish
		cur.Close > cur.Open && // current bar bullish
		cur.Open <= prev.Close &&
		cur.Close >= prev.Open
}

func isBearishEngulfing(prev, cur marketdata.Candle) bool {
	return prev.Close > prev.Open &&
		cur.Close < cur.Open &&
		cur.Open >= prev.Close &&
		cur.Close <= prev.Open
}

// isHammer: small body near the top of the range with a lower shadow at
// least twice the body.
func isHammer(c marketdata.Candle) bool {
	body := math.Abs(c.Close - c.Open)
	if body == 0 {
		return false
	}
	lower := math.Min(c.Open, c.Close) - c.Low
	upper := c.High - math.Max(c.Open, c.Close)
	return lower >= 2*body && upper <= body
}

// isShootingStar: the hammer's inverse, a long upper shadow.
func isShootingStar(c marketdata.Candle) bool {
	body := math.Abs(c.Close - c.Open)
	if body == 0 {
		return false
	}
	lower := math.Min(c.Open, c.Close) - c.Low
	upper := c.High - math.Max(c.Open, c.Close)
	return upper >= 2*body && lower <= body
}

// isDoji: open and close within a tenth of the bar's range.
func isDoji(c marketdata.Candle) bool {
	rng := c.High - c.Low
	if rng <= 0 {
		return false
	}
	return math.Abs(c.Close-c.Open) <= 0.1*rng
}
