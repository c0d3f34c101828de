// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FromTradingView Tests
// =============================================================================

func TestFromTradingView_Success(t *testing.T) {
	sig, err := FromTradingView(TradingViewAlert{
		Ticker:    "aapl",
		Action:    "BUY",
		Price:     187.42,
		Contracts: 10,
		Strategy:  "momentum-breakout",
		Interval:  "60",
		Time:      "2025-06-02T14:30:00Z",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "AAPL", sig.Symbol, "ticker should be sanitized to uppercase")
	assert.Equal(t, SideBuy, sig.Side)
	assert.Equal(t, 187.42, sig.Price)
	assert.Equal(t, 10.0, sig.Quantity)
	assert.Equal(t, "momentum-breakout", sig.Strategy)
	assert.Equal(t, "1h", sig.Timeframe, "TradingView interval 60 should normalize to 1h")
	assert.Equal(t, "tradingview", sig.Source)

	want, _ := time.Parse(time.RFC3339, "2025-06-02T14:30:00Z")
	assert.True(t, sig.ReceivedAt.Equal(want))
}

func TestFromTradingView_Defaults(t *testing.T) {
	sig, err := FromTradingView(TradingViewAlert{
		Ticker: "SPY",
		Action: "sell",
		Price:  512.10,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, sig.Quantity, "zero contracts defaults to 1")
	assert.Empty(t, sig.Timeframe)
	assert.WithinDuration(t, time.Now().UTC(), sig.ReceivedAt, 5*time.Second)
}

func TestFromTradingView_FieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		alert     TradingViewAlert
		wantField string
	}{
		{
			name:      "bad ticker",
			alert:     TradingViewAlert{Ticker: `SPY") |> drop()`, Action: "buy", Price: 1},
			wantField: "ticker",
		},
		{
			name:      "unknown action",
			alert:     TradingViewAlert{Ticker: "SPY", Action: "yolo", Price: 1},
			wantField: "action",
		},
		{
			name:      "zero price",
			alert:     TradingViewAlert{Ticker: "SPY", Action: "buy", Price: 0},
			wantField: "price",
		},
		{
			name:      "negative contracts",
			alert:     TradingViewAlert{Ticker: "SPY", Action: "buy", Price: 1, Contracts: -2},
			wantField: "contracts",
		},
		{
			name:      "bad interval",
			alert:     TradingViewAlert{Ticker: "SPY", Action: "buy", Price: 1, Interval: "fortnight"},
			wantField: "interval",
		},
		{
			name:      "bad time",
			alert:     TradingViewAlert{Ticker: "SPY", Action: "buy", Price: 1, Time: "yesterday"},
			wantField: "time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := FromTradingView(tt.alert)
			require.Error(t, err)
			assert.Nil(t, sig)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)

			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestFromTradingView_CollectsAllFieldErrors(t *testing.T) {
	_, err := FromTradingView(TradingViewAlert{
		Ticker: "bad ticker!",
		Action: "hold-my-beer",
		Price:  -5,
	})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Fields), 3, "all field failures should be reported together")
}

// =============================================================================
// FromGeneric Tests
// =============================================================================

func TestFromGeneric_Success(t *testing.T) {
	sig, err := FromGeneric(GenericSignal{
		Symbol:    "brk.a",
		Side:      "sell",
		Price:     612000,
		Quantity:  2,
		Strategy:  "mean-reversion",
		Timeframe: "1d",
		Headlines: []string{"Berkshire trims position", "Rates steady"},
	})
	require.NoError(t, err)

	assert.Equal(t, "BRK.A", sig.Symbol)
	assert.Equal(t, SideSell, sig.Side)
	assert.Equal(t, 2.0, sig.Quantity)
	assert.Equal(t, "1d", sig.Timeframe)
	assert.Equal(t, "generic", sig.Source)
	assert.Len(t, sig.Headlines, 2)
}

func TestFromGeneric_FieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		dto       GenericSignal
		wantField string
	}{
		{
			name:      "bad symbol",
			dto:       GenericSignal{Symbol: "", Side: "buy", Price: 1},
			wantField: "symbol",
		},
		{
			name:      "unknown side",
			dto:       GenericSignal{Symbol: "SPY", Side: "short-squeeze", Price: 1},
			wantField: "side",
		},
		{
			name:      "negative price",
			dto:       GenericSignal{Symbol: "SPY", Side: "buy", Price: -1},
			wantField: "price",
		},
		{
			name:      "bad timeframe",
			dto:       GenericSignal{Symbol: "SPY", Side: "buy", Price: 1, Timeframe: "eon"},
			wantField: "timeframe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromGeneric(tt.dto)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)

			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

// =============================================================================
// Model Tests
// =============================================================================

func TestSide_Valid(t *testing.T) {
	assert.True(t, SideBuy.Valid())
	assert.True(t, SideSell.Valid())
	assert.True(t, SideFlat.Valid())
	assert.False(t, Side("long").Valid())
	assert.False(t, Side("").Valid())
}

func TestSignal_DedupeKey(t *testing.T) {
	a, err := FromGeneric(GenericSignal{Symbol: "SPY", Side: "buy", Price: 512.1, Timeframe: "1h"})
	require.NoError(t, err)
	b, err := FromGeneric(GenericSignal{Symbol: "SPY", Side: "buy", Price: 512.1, Timeframe: "1h"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID, "each mapping gets its own identity")
	assert.Equal(t, a.DedupeKey(), b.DedupeKey(), "retransmissions share a dedupe key")

	c, err := FromGeneric(GenericSignal{Symbol: "SPY", Side: "sell", Price: 512.1, Timeframe: "1h"})
	require.NoError(t, err)
	assert.NotEqual(t, a.DedupeKey(), c.DedupeKey())
}
