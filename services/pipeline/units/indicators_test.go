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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	assert.Equal(t, 4.0, sma(values, 3))
	assert.Equal(t, 3.0, sma(values, 10), "period larger than series shrinks to fit")
	assert.Equal(t, 0.0, sma(nil, 3))
}

func TestEMA(t *testing.T) {
	// Seed = SMA(1,2,3) = 2, k = 0.5, then 4 -> 3, then 5 -> 4.
	assert.Equal(t, 4.0, ema([]float64{1, 2, 3, 4, 5}, 3))

	// Period larger than the series degenerates to the SMA.
	assert.Equal(t, 1.5, ema([]float64{1, 2}, 5))

	assert.Equal(t, 0.0, ema(nil, 12))
}

func TestRSI(t *testing.T) {
	t.Run("all gains saturates at 100", func(t *testing.T) {
		assert.Equal(t, 100.0, rsi([]float64{1, 2, 3, 4, 5, 6}, 5))
	})

	t.Run("all losses bottoms at 0", func(t *testing.T) {
		assert.Equal(t, 0.0, rsi([]float64{6, 5, 4, 3, 2, 1}, 5))
	})

	t.Run("flat series is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, rsi([]float64{3, 3, 3, 3}, 3))
	})

	t.Run("mixed series", func(t *testing.T) {
		// Deltas: +0.5, -0.25, +0.5, +0.25 over period 4.
		// avgGain = 1.25/4, avgLoss = 0.25/4, RS = 5, RSI = 100 - 100/6.
		closes := []float64{44, 44.5, 44.25, 44.75, 45}
		assert.InDelta(t, 100-100.0/6, rsi(closes, 4), 1e-9)
	})

	t.Run("period shrinks to available deltas", func(t *testing.T) {
		closes := []float64{44, 44.5, 44.25, 44.75, 45}
		assert.InDelta(t, rsi(closes, 4), rsi(closes, 14), 1e-9)
	})

	t.Run("too short is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, rsi([]float64{42}, 14))
	})
}

func TestATR(t *testing.T) {
	t.Run("plain ranges", func(t *testing.T) {
		candles := []marketdata.Candle{
			{High: 10, Low: 8, Close: 9},
			{High: 11, Low: 9, Close: 10.5},
			{High: 12, Low: 10, Close: 11},
		}
		assert.Equal(t, 2.0, atr(candles, 3))
	})

	t.Run("gap widens the true range", func(t *testing.T) {
		candles := []marketdata.Candle{
			{High: 10, Low: 9, Close: 10},
			{High: 15, Low: 14, Close: 14.5}, // gaps above the prior close
		}
		assert.Equal(t, 3.0, atr(candles, 2))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0.0, atr(nil, 14))
	})
}

func TestTechIndicators_Execute(t *testing.T) {
	unit := NewTechIndicators(testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		ContextID: ContextOutput{Symbol: "AAPL", Candles: risingCandles(30, 100)},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	out, err := outputAs[IndicatorsOutput](st, IndicatorsID)
	require.NoError(t, err)

	// Closes run 101..130: the last-20 mean is 120.5, every bar spans 2
	// points, and a monotone climb pegs RSI at 100.
	assert.Equal(t, 120.5, out.SMA)
	assert.Equal(t, 100.0, out.RSI)
	assert.Equal(t, 2.0, out.ATR)
	assert.Equal(t, 30, out.Samples)
	assert.Greater(t, out.EMAFast, out.EMASlow, "fast average should lead in an uptrend")
}

func TestTechIndicators_TooFewCandles(t *testing.T) {
	unit := NewTechIndicators(testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		ContextID: ContextOutput{Symbol: "AAPL", Candles: risingCandles(1, 100)},
	})

	_, err := unit.Execute(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need at least 2 candles")
}

func TestTechIndicators_RequiresContext(t *testing.T) {
	unit := NewTechIndicators(testLogger())

	_, err := unit.Execute(context.Background(), stateWith(t, testSignal(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market_context")
}

func TestIndicatorsOutput_Map(t *testing.T) {
	m := IndicatorsOutput{SMA: 1, EMAFast: 2, EMASlow: 3, RSI: 4, ATR: 5}.Map()

	assert.Equal(t, map[string]float64{
		"sma":      1,
		"ema_fast": 2,
		"ema_slow": 3,
		"rsi":      4,
		"atr":      5,
	}, m)
}
