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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/Tideflow/pkg/validation"
)

// ========== INBOUND DTO SHAPES ==========

// TradingViewAlert is the JSON body TradingView alert webhooks post.
// Field names follow TradingView's alert placeholder conventions.
type TradingViewAlert struct {
	Ticker    string  `json:"ticker" binding:"required"`
	Action    string  `json:"action" binding:"required"`
	Price     float64 `json:"price" binding:"required,gt=0"`
	Contracts float64 `json:"contracts" binding:"omitempty,gte=0"`
	Strategy  string  `json:"strategy" binding:"omitempty,max=64"`

	// Interval is TradingView notation: bare minutes ("60") or "D"/"W".
	Interval string `json:"interval" binding:"omitempty,max=8"`

	// Time is the alert fire time, RFC3339. Empty means receipt time.
	Time string `json:"time" binding:"omitempty"`
}

// GenericSignal is the JSON body for the provider-agnostic ingest endpoint.
type GenericSignal struct {
	Symbol    string   `json:"symbol" binding:"required"`
	Side      string   `json:"side" binding:"required,oneof=buy sell flat"`
	Price     float64  `json:"price" binding:"required,gt=0"`
	Quantity  float64  `json:"quantity" binding:"omitempty,gte=0"`
	Strategy  string   `json:"strategy" binding:"omitempty,max=64"`
	Timeframe string   `json:"timeframe" binding:"omitempty,max=8"`
	Headlines []string `json:"headlines" binding:"omitempty,max=32,dive,max=512"`
}

// ========== FIELD-LEVEL ERRORS ==========

// FieldError pins a mapping failure to the offending input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError aggregates every field failure from one mapping pass,
// so a caller can report them all in one response.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return "invalid signal: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ========== MAPPERS ==========

// FromTradingView converts a TradingView alert into a normalized Signal.
//
// Description:
//
//	Both mapping and validation: the ticker is sanitized, the action is
//	normalized to a Side, TradingView interval notation becomes the
//	canonical timeframe, and a zero contract count defaults to 1. All
//	field failures are collected into one *ValidationError.
func FromTradingView(dto TradingViewAlert) (*Signal, error) {
	verr := &ValidationError{}

	sig := newSignal("tradingview")
	sig.Price = dto.Price
	sig.Strategy = strings.TrimSpace(dto.Strategy)

	symbol, err := validation.SanitizeTicker(dto.Ticker)
	if err != nil {
		verr.add("ticker", err.Error())
	}
	sig.Symbol = symbol

	side := Side(strings.ToLower(strings.TrimSpace(dto.Action)))
	if !side.Valid() {
		verr.add("action", fmt.Sprintf("unknown action %q (want buy, sell, or flat)", dto.Action))
	}
	sig.Side = side

	if dto.Price <= 0 {
		verr.add("price", "must be greater than zero")
	}

	sig.Quantity = dto.Contracts
	if sig.Quantity < 0 {
		verr.add("contracts", "must not be negative")
	}
	if sig.Quantity == 0 {
		sig.Quantity = 1
	}

	if dto.Interval != "" {
		tf, err := validation.NormalizeTimeframe(dto.Interval)
		if err != nil {
			verr.add("interval", err.Error())
		}
		sig.Timeframe = tf
	}

	if dto.Time != "" {
		at, err := time.Parse(time.RFC3339, dto.Time)
		if err != nil {
			verr.add("time", "must be RFC3339")
		} else {
			sig.ReceivedAt = at.UTC()
		}
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return &sig, nil
}

// FromGeneric converts a provider-agnostic payload into a normalized Signal.
func FromGeneric(dto GenericSignal) (*Signal, error) {
	verr := &ValidationError{}

	sig := newSignal("generic")
	sig.Price = dto.Price
	sig.Strategy = strings.TrimSpace(dto.Strategy)
	sig.Headlines = dto.Headlines

	symbol, err := validation.SanitizeTicker(dto.Symbol)
	if err != nil {
		verr.add("symbol", err.Error())
	}
	sig.Symbol = symbol

	side := Side(strings.ToLower(strings.TrimSpace(dto.Side)))
	if !side.Valid() {
		verr.add("side", fmt.Sprintf("unknown side %q (want buy, sell, or flat)", dto.Side))
	}
	sig.Side = side

	if dto.Price <= 0 {
		verr.add("price", "must be greater than zero")
	}

	sig.Quantity = dto.Quantity
	if sig.Quantity < 0 {
		verr.add("quantity", "must not be negative")
	}
	if sig.Quantity == 0 {
		sig.Quantity = 1
	}

	if dto.Timeframe != "" {
		tf, err := validation.NormalizeTimeframe(dto.Timeframe)
		if err != nil {
			verr.add("timeframe", err.Error())
		}
		sig.Timeframe = tf
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return &sig, nil
}
