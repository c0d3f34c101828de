// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signals defines the normalized trading signal model and the
// mappers that convert inbound webhook payloads into it.
//
// Every ingest surface (TradingView webhooks, the generic JSON endpoint,
// the CLI one-shot runner) converges on Signal; the pipeline only ever
// sees the normalized form.
package signals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side is the direction a signal proposes.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideFlat Side = "flat"
)

// Valid reports whether the side is one of the known directions.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideFlat:
		return true
	}
	return false
}

// Signal is the normalized inbound trading signal.
//
// Description:
//
//	A Signal is immutable once mapped: work units read it from the
//	pipeline state's raw payload and write derived data under their own
//	output keys, never back into the signal.
type Signal struct {
	// ID is assigned at mapping time and carried through the pipeline.
	ID string `json:"id"`

	// Symbol is the validated, uppercase ticker.
	Symbol string `json:"symbol"`

	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`

	// Strategy names the emitting strategy, when the source provides one.
	Strategy string `json:"strategy,omitempty"`

	// Timeframe is the canonical bar interval the signal was computed on
	// (1m..1w), empty when the source did not say.
	Timeframe string `json:"timeframe,omitempty"`

	// Headlines are optional news snippets attached by the source, scored
	// by the sentiment stage.
	Headlines []string `json:"headlines,omitempty"`

	// Source identifies the ingest surface ("tradingview", "generic", "cli").
	Source string `json:"source"`

	ReceivedAt time.Time `json:"received_at"`
}

// DedupeKey returns a stable key identifying retransmissions of the same
// signal: same symbol, side, strategy, timeframe, and price bucket.
func (s *Signal) DedupeKey() string {
	return fmt.Sprintf("%s:%s:%s:%s:%.4f", s.Symbol, s.Side, s.Strategy, s.Timeframe, s.Price)
}

// newSignal stamps identity and receipt time onto a mapped signal.
func newSignal(source string) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
}

// Verdict is the pipeline's final judgement on a signal.
type Verdict struct {
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol"`

	// Action is the recommended disposition: "buy", "sell", or "hold".
	Action string `json:"action"`

	// Confidence is the blended score in [0, 1].
	Confidence float64 `json:"confidence"`

	// Scores holds the per-component contributions (indicators, patterns,
	// sentiment, model) that produced the blend.
	Scores map[string]float64 `json:"scores,omitempty"`

	// Rationale is a short human-readable explanation.
	Rationale string `json:"rationale,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
