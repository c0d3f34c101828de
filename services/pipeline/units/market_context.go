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

	"github.com/AleutianAI/Tideflow/pkg/validation"
	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
)

// defaultCandleWindow is the number of bars pulled when the node's run
// config does not override it.
const defaultCandleWindow = 50

// ContextOutput is the market snapshot the enrichment units work from.
type ContextOutput struct {
	Symbol      string              `json:"symbol"`
	Candles     []marketdata.Candle `json:"candles"`
	Quote       float64             `json:"quote"`
	QuoteAt     time.Time           `json:"quoteAt"`
	SessionHigh float64             `json:"sessionHigh"`
	SessionLow  float64             `json:"sessionLow"`
	AvgVolume   float64             `json:"avgVolume"`
	Change      float64             `json:"change"`
}

// MarketContext pulls the candle window and latest quote for the signal's
// symbol.
//
// Description:
//
//	Runs at level 0 alongside the source, so it reads the symbol from the
//	raw payload rather than the ingress output. The candle window size is
//	configurable per node via the "window" run config key. A failed quote
//	lookup falls back to the last candle close; a missing candle history
//	fails the unit, since everything downstream needs it.
type MarketContext struct {
	pipeline.BaseUnit
	market MarketStore
	logger *slog.Logger
}

// NewMarketContext creates the market context unit.
func NewMarketContext(market MarketStore, logger *slog.Logger) *MarketContext {
	return &MarketContext{
		BaseUnit: pipeline.BaseUnit{
			UnitID:       ContextID,
			UnitCategory: pipeline.CategoryRequired,
			UnitParallel: true,
			UnitTimeout:  10 * time.Second,
		},
		market: market,
		logger: logger,
	}
}

// Execute loads candles and the latest quote into the state.
func (u *MarketContext) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if u.market == nil {
		return st, fmt.Errorf("market data store not configured")
	}

	sig, err := signalFromRaw(st.Raw)
	if err != nil {
		return st, err
	}
	symbol, err := validation.SanitizeTicker(sig.Symbol)
	if err != nil {
		return st, fmt.Errorf("invalid symbol: %w", err)
	}

	window := intFromRunConfig(st.RunConfig(ContextID), "window", defaultCandleWindow)
	candles, err := u.market.RecentCandles(ctx, symbol, window)
	if err != nil {
		return st, fmt.Errorf("load candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return st, fmt.Errorf("no candle history for %s", symbol)
	}

	out := ContextOutput{Symbol: symbol, Candles: candles}

	quote, quoteAt, err := u.market.LastQuote(ctx, symbol)
	if err != nil {
		last := candles[len(candles)-1]
		quote, quoteAt = last.Close, last.At
		u.logger.Debug("quote lookup failed, using last close",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}
	out.Quote = quote
	out.QuoteAt = quoteAt

	out.SessionHigh = candles[0].High
	out.SessionLow = candles[0].Low
	var volume float64
	for _, c := range candles {
		if c.High > out.SessionHigh {
			out.SessionHigh = c.High
		}
		if c.Low < out.SessionLow {
			out.SessionLow = c.Low
		}
		volume += c.Volume
	}
	out.AvgVolume = volume / float64(len(candles))
	if first := candles[0].Close; first != 0 {
		out.Change = (quote - first) / first
	}

	st.SetOutput(ContextID, out)
	return st, nil
}

// intFromRunConfig reads an integer run config value, tolerating the
// numeric types YAML and JSON decoding produce.
func intFromRunConfig(cfg map[string]any, key string, fallback int) int {
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}
