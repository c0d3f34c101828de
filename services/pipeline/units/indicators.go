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
	"time"

	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
)

// Indicator periods. Periods larger than the candle window shrink to fit.
const (
	smaPeriod     = 20
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14
	atrPeriod     = 14
)

// IndicatorsOutput carries the computed technical indicators.
type IndicatorsOutput struct {
	SMA     float64 `json:"sma"`
	EMAFast float64 `json:"emaFast"`
	EMASlow float64 `json:"emaSlow"`
	RSI     float64 `json:"rsi"`
	ATR     float64 `json:"atr"`
	Samples int     `json:"samples"`
}

// Map renders the indicators under the key names the scoring adapters
// read.
func (o IndicatorsOutput) Map() map[string]float64 {
	return map[string]float64{
		"sma":      o.SMA,
		"ema_fast": o.EMAFast,
		"ema_slow": o.EMASlow,
		"rsi":      o.RSI,
		"atr":      o.ATR,
	}
}

// TechIndicators computes SMA, fast/slow EMA, RSI, and ATR over the
// candle window loaded by market_context.
type TechIndicators struct {
	pipeline.BaseUnit
	logger *slog.Logger
}

// NewTechIndicators creates the technical indicators unit.
func NewTechIndicators(logger *slog.Logger) *TechIndicators {
	return &TechIndicators{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           IndicatorsID,
			UnitCategory:     pipeline.CategoryEnrichment,
			UnitDependencies: []string{ContextID},
			UnitParallel:     true,
			UnitTimeout:      5 * time.Second,
		},
		logger: logger,
	}
}

// Execute computes the indicator set from the market context.
func (u *TechIndicators) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	mkt, err := outputAs[ContextOutput](st, ContextID)
	if err != nil {
		return st, err
	}
	if len(mkt.Candles) < 2 {
		return st, fmt.Errorf("need at least 2 candles for indicators, have %d", len(mkt.Candles))
	}

	closes := make([]float64, len(mkt.Candles))
	for i, c := range mkt.Candles {
		closes[i] = c.Close
	}

	out := IndicatorsOutput{
		SMA:     sma(closes, smaPeriod),
		EMAFast: ema(closes, emaFastPeriod),
		EMASlow: ema(closes, emaSlowPeriod),
		RSI:     rsi(closes, rsiPeriod),
		ATR:     atr(mkt.Candles, atrPeriod),
		Samples: len(closes),
	}

	st.SetOutput(IndicatorsID, out)
	return st, nil
}

// sma is the arithmetic mean of the last period values.
func sma(values []float64, period int) float64 {
	if period > len(values) {
		period = len(values)
	}
	if period == 0 {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// ema is the exponential moving average, seeded with the SMA of the first
// period values.
func ema(values []float64, period int) float64 {
	if period > len(values) {
		period = len(values)
	}
	if period == 0 {
		return 0
	}

	avg := sma(values[:period], period)
	k := 2.0 / (float64(period) + 1)
	for _, v := range values[period:] {
		avg = v*k + avg*(1-k)
	}
	return avg
}

// rsi is the relative strength index with Wilder smoothing.
//
// Flat series come back as 50 (no strength either way), and a window with
// no losses saturates at 100.
func rsi(closes []float64, period int) float64 {
	if len(closes) < 2 {
		return 50
	}
	if period > len(closes)-1 {
		period = len(closes) - 1
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// atr is the mean true range over the last period bars.
func atr(candles []marketdata.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if period > len(candles) {
		period = len(candles)
	}

	window := candles[len(candles)-period:]
	var sum float64
	for i, c := range window {
		tr := c.High - c.Low
		if i > 0 {
			prevClose := window[i-1].Close
			tr = math.Max(tr, math.Abs(c.High-prevClose))
			tr = math.Max(tr, math.Abs(c.Low-prevClose))
		}
		sum += tr
	}
	return sum / float64(period)
}
