// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package units provides the built-in work units for the trading pipeline.
//
// Each unit reads the outputs of its upstream nodes from the pipeline
// state and writes exactly one output under its own unit ID. The default
// wiring shipped in pipeline.yaml runs them as:
//
//	signal_ingress ─┐
//	market_context ─┼─> tech_indicators ──> ml_predict ──────> composite_score ─┬─> persist_verdict
//	                ├─> pattern_scan ───────────────────────────^               └─> notify_stream
//	                └─> news_sentiment ──> ml_predict
//
// Units that need external services receive them through Deps; everything
// else is pure computation over the candle window carried in the state.
package units

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/scoring"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// Unit IDs double as the state output keys each unit writes.
const (
	IngressID    = "signal_ingress"
	ContextID    = "market_context"
	IndicatorsID = "tech_indicators"
	PatternsID   = "pattern_scan"
	SentimentID  = "news_sentiment"
	PredictID    = "ml_predict"
	CompositeID  = "composite_score"
	PersistID    = "persist_verdict"
	NotifyID     = "notify_stream"
)

// MarketStore is the slice of the market data store the units consume.
type MarketStore interface {
	RecentCandles(ctx context.Context, symbol string, n int) ([]marketdata.Candle, error)
	LastQuote(ctx context.Context, symbol string) (float64, time.Time, error)
	WriteVerdictPoint(ctx context.Context, v *signals.Verdict) error
}

// VerdictStore persists verdict documents.
type VerdictStore interface {
	Put(ctx context.Context, v *signals.Verdict) error
}

// Publisher pushes verdicts to live execution-stream subscribers.
type Publisher interface {
	Publish(stateID string, v *signals.Verdict)
}

// Deps carries the external services the built-in units depend on.
//
// Market, Scorer, and Verdicts are required by the units that use them;
// Stream is optional and notify_stream degrades to a no-op without it.
type Deps struct {
	Market   MarketStore
	Scorer   scoring.Client
	Verdicts VerdictStore
	Stream   Publisher
	Logger   *slog.Logger
}

// Builtins returns the full built-in unit set, ready for
// Registry.AutoDiscover.
func Builtins(deps Deps) []pipeline.WorkUnit {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return []pipeline.WorkUnit{
		NewSignalIngress(logger),
		NewMarketContext(deps.Market, logger),
		NewTechIndicators(logger),
		NewPatternScan(logger),
		NewNewsSentiment(logger),
		NewMLPredict(deps.Scorer, logger),
		NewCompositeScore(logger),
		NewPersistVerdict(deps.Verdicts, deps.Market, logger),
		NewNotifyStream(deps.Stream, logger),
	}
}

// DefaultPipeline returns the built-in nine-node wiring, identical to
// the pipeline.yaml shipped with the service. Callers may adjust the
// returned config before handing it to a Builder.
func DefaultPipeline() *pipeline.PipelineConfig {
	return &pipeline.PipelineConfig{
		OwnerID: "tideflow-default",
		Version: "1",
		Nodes: []pipeline.NodeSpec{
			{ID: IngressID, Category: pipeline.CategorySource, Ref: IngressID, Enabled: true},
			{ID: ContextID, Category: pipeline.CategoryRequired, Ref: ContextID, Enabled: true},
			{ID: IndicatorsID, Category: pipeline.CategoryEnrichment, Ref: IndicatorsID, Enabled: true, Parallel: true, DependsOn: []string{ContextID}},
			{ID: PatternsID, Category: pipeline.CategoryEnrichment, Ref: PatternsID, Enabled: true, Parallel: true, DependsOn: []string{ContextID}},
			{ID: SentimentID, Category: pipeline.CategoryEnrichment, Ref: SentimentID, Enabled: true, Parallel: true, DependsOn: []string{ContextID}},
			{ID: PredictID, Category: pipeline.CategoryScoring, Ref: PredictID, Enabled: true, DependsOn: []string{IndicatorsID, SentimentID}},
			{ID: CompositeID, Category: pipeline.CategoryScoring, Ref: CompositeID, Enabled: true, DependsOn: []string{PredictID, PatternsID}},
			{ID: PersistID, Category: pipeline.CategorySink, Ref: PersistID, Enabled: true, DependsOn: []string{CompositeID}},
			{ID: NotifyID, Category: pipeline.CategorySink, Ref: NotifyID, Enabled: true, Optional: true, DependsOn: []string{CompositeID}},
		},
	}
}

// outputAs fetches a typed upstream output from the state.
func outputAs[T any](st *pipeline.State, key string) (T, error) {
	var zero T
	v, ok := st.Output(key)
	if !ok {
		return zero, fmt.Errorf("missing %q output", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("output %q has unexpected type %T", key, v)
	}
	return t, nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
