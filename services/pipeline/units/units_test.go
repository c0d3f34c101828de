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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketdata "github.com/AleutianAI/Tideflow/services/market_data"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/scoring"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// ==========================================================================
// Fakes and fixtures
// ==========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarket struct {
	mu         sync.Mutex
	candles    []marketdata.Candle
	candlesErr error
	lastN      int
	quote      float64
	quoteAt    time.Time
	quoteErr   error
	points     []*signals.Verdict
	pointErr   error
}

func (f *fakeMarket) RecentCandles(_ context.Context, _ string, n int) ([]marketdata.Candle, error) {
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	f.mu.Lock()
	f.lastN = n
	f.mu.Unlock()
	if n > 0 && n < len(f.candles) {
		return f.candles[len(f.candles)-n:], nil
	}
	return f.candles, nil
}

func (f *fakeMarket) LastQuote(_ context.Context, _ string) (float64, time.Time, error) {
	if f.quoteErr != nil {
		return 0, time.Time{}, f.quoteErr
	}
	return f.quote, f.quoteAt, nil
}

func (f *fakeMarket) WriteVerdictPoint(_ context.Context, v *signals.Verdict) error {
	if f.pointErr != nil {
		return f.pointErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, v)
	return nil
}

type fakeVerdicts struct {
	mu    sync.Mutex
	saved []*signals.Verdict
	err   error
}

func (f *fakeVerdicts) Put(_ context.Context, v *signals.Verdict) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, v)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	stateIDs []string
	verdicts []*signals.Verdict
}

func (f *fakePublisher) Publish(stateID string, v *signals.Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateIDs = append(f.stateIDs, stateID)
	f.verdicts = append(f.verdicts, v)
}

type fakeScorer struct {
	mu   sync.Mutex
	resp scoring.ScoreResponse
	err  error
	got  scoring.ScoreRequest
}

func (f *fakeScorer) Score(_ context.Context, req scoring.ScoreRequest) (scoring.ScoreResponse, error) {
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()
	if f.err != nil {
		return scoring.ScoreResponse{}, f.err
	}
	return f.resp, nil
}

func testSignal() signals.Signal {
	return signals.Signal{
		ID:        "sig-1",
		Symbol:    "AAPL",
		Side:      signals.SideBuy,
		Price:     190.5,
		Quantity:  2,
		Strategy:  "breakout",
		Timeframe: "1h",
		Headlines: []string{"AAPL beats earnings, shares rally"},
		Source:    "test",
	}
}

// risingCandles builds n bars climbing one point per bar.
func risingCandles(n int, start float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, n)
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	for i := range candles {
		open := start + float64(i)
		candles[i] = marketdata.Candle{
			Open:   open,
			High:   open + 1.5,
			Low:    open - 0.5,
			Close:  open + 1,
			Volume: 1000 + float64(i)*10,
			At:     at.Add(time.Duration(i) * time.Hour),
		}
	}
	return candles
}

func stateWith(t *testing.T, sig signals.Signal, outputs map[string]any) *pipeline.State {
	t.Helper()
	st := pipeline.NewState(sig)
	for k, v := range outputs {
		st.SetOutput(k, v)
	}
	return st
}

// ==========================================================================
// signal_ingress
// ==========================================================================

func TestSignalIngress_Normalizes(t *testing.T) {
	unit := NewSignalIngress(testLogger())

	sig := testSignal()
	sig.ID = ""
	sig.Symbol = "aapl"
	sig.Quantity = 0
	sig.Timeframe = "60"

	st, err := unit.Execute(context.Background(), pipeline.NewState(sig))
	require.NoError(t, err)

	out, err := outputAs[IngressOutput](st, IngressID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", out.Signal.Symbol)
	assert.Equal(t, 1.0, out.Signal.Quantity)
	assert.Equal(t, "1h", out.Signal.Timeframe)
	assert.NotEmpty(t, out.Signal.ID)
	assert.False(t, out.Signal.ReceivedAt.IsZero())
	assert.NotEmpty(t, out.DedupeKey)
}

func TestSignalIngress_DefaultsSideAndTimeframe(t *testing.T) {
	unit := NewSignalIngress(testLogger())

	sig := testSignal()
	sig.Side = ""
	sig.Timeframe = ""

	st, err := unit.Execute(context.Background(), pipeline.NewState(sig))
	require.NoError(t, err)

	out, err := outputAs[IngressOutput](st, IngressID)
	require.NoError(t, err)
	assert.Equal(t, signals.SideFlat, out.Signal.Side)
	assert.Equal(t, defaultTimeframe, out.Signal.Timeframe)
}

func TestSignalIngress_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*signals.Signal)
		wantErr string
	}{
		{"bad symbol", func(s *signals.Signal) { s.Symbol = "no$good" }, "invalid symbol"},
		{"bad side", func(s *signals.Signal) { s.Side = "short" }, "invalid side"},
		{"zero price", func(s *signals.Signal) { s.Price = 0 }, "price must be positive"},
		{"bad timeframe", func(s *signals.Signal) { s.Timeframe = "fortnight" }, "invalid timeframe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := NewSignalIngress(testLogger())
			sig := testSignal()
			tt.mutate(&sig)

			_, err := unit.Execute(context.Background(), pipeline.NewState(sig))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSignalIngress_RejectsNonSignalPayload(t *testing.T) {
	unit := NewSignalIngress(testLogger())

	_, err := unit.Execute(context.Background(), pipeline.NewState("just a string"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a signal")
}

func TestSignalIngress_AcceptsPointerPayload(t *testing.T) {
	unit := NewSignalIngress(testLogger())
	sig := testSignal()

	st, err := unit.Execute(context.Background(), pipeline.NewState(&sig))
	require.NoError(t, err)

	out, err := outputAs[IngressOutput](st, IngressID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", out.Signal.Symbol)
}

// ==========================================================================
// market_context
// ==========================================================================

func TestMarketContext_LoadsSnapshot(t *testing.T) {
	market := &fakeMarket{
		candles: risingCandles(10, 100),
		quote:   111.5,
		quoteAt: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC),
	}
	unit := NewMarketContext(market, testLogger())

	st, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.NoError(t, err)

	out, err := outputAs[ContextOutput](st, ContextID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Len(t, out.Candles, 10)
	assert.Equal(t, 111.5, out.Quote)
	assert.Equal(t, 110.5, out.SessionHigh) // last bar open 109 + 1.5
	assert.Equal(t, 99.5, out.SessionLow)   // first bar open 100 - 0.5
	assert.InDelta(t, 1045, out.AvgVolume, 0.001)
	assert.InDelta(t, (111.5-101)/101, out.Change, 1e-9)
}

func TestMarketContext_QuoteFallsBackToLastClose(t *testing.T) {
	market := &fakeMarket{
		candles:  risingCandles(5, 100),
		quoteErr: marketdata.ErrNoData,
	}
	unit := NewMarketContext(market, testLogger())

	st, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.NoError(t, err)

	out, err := outputAs[ContextOutput](st, ContextID)
	require.NoError(t, err)
	last := out.Candles[len(out.Candles)-1]
	assert.Equal(t, last.Close, out.Quote)
	assert.Equal(t, last.At, out.QuoteAt)
}

func TestMarketContext_CandleErrorFailsUnit(t *testing.T) {
	market := &fakeMarket{candlesErr: marketdata.ErrNoData}
	unit := NewMarketContext(market, testLogger())

	_, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.Error(t, err)
	assert.ErrorIs(t, err, marketdata.ErrNoData)
}

func TestMarketContext_NilStore(t *testing.T) {
	unit := NewMarketContext(nil, testLogger())

	_, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestIntFromRunConfig(t *testing.T) {
	assert.Equal(t, 50, intFromRunConfig(nil, "window", 50))
	assert.Equal(t, 20, intFromRunConfig(map[string]any{"window": 20}, "window", 50))
	assert.Equal(t, 20, intFromRunConfig(map[string]any{"window": int64(20)}, "window", 50))
	assert.Equal(t, 20, intFromRunConfig(map[string]any{"window": 20.0}, "window", 50))
	assert.Equal(t, 50, intFromRunConfig(map[string]any{"window": -3}, "window", 50))
	assert.Equal(t, 50, intFromRunConfig(map[string]any{"window": "many"}, "window", 50))
}

// ==========================================================================
// ml_predict
// ==========================================================================

func TestMLPredict_AssemblesRequest(t *testing.T) {
	scorer := &fakeScorer{resp: scoring.ScoreResponse{Score: 0.4, Confidence: 0.8, Provider: "fake"}}
	unit := NewMLPredict(scorer, testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		IngressID:    IngressOutput{Signal: sig, DedupeKey: sig.DedupeKey()},
		IndicatorsID: IndicatorsOutput{RSI: 30, EMAFast: 105, EMASlow: 100, Samples: 10},
		PatternsID:   PatternsOutput{Flags: []string{PatternHammer}, Bias: 0.25},
		SentimentID:  SentimentOutput{Score: 0.5, Chunks: 1},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", scorer.got.Symbol)
	assert.Equal(t, "buy", scorer.got.Side)
	assert.Equal(t, 190.5, scorer.got.Price)
	assert.Equal(t, 30.0, scorer.got.Indicators["rsi"])
	assert.Equal(t, []string{PatternHammer}, scorer.got.Patterns)
	assert.Equal(t, 0.5, scorer.got.Sentiment)

	out, err := outputAs[scoring.ScoreResponse](st, PredictID)
	require.NoError(t, err)
	assert.Equal(t, 0.4, out.Score)
	assert.Equal(t, "fake", out.Provider)
}

func TestMLPredict_OptionalInputsMayBeAbsent(t *testing.T) {
	scorer := &fakeScorer{resp: scoring.ScoreResponse{Score: 0.1, Confidence: 0.4}}
	unit := NewMLPredict(scorer, testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		IngressID: IngressOutput{Signal: sig},
	})

	_, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Nil(t, scorer.got.Indicators)
	assert.Nil(t, scorer.got.Patterns)
	assert.Zero(t, scorer.got.Sentiment)
}

func TestMLPredict_RequiresIngress(t *testing.T) {
	unit := NewMLPredict(&fakeScorer{}, testLogger())

	_, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal_ingress")
}

func TestMLPredict_ScorerFailure(t *testing.T) {
	scorer := &fakeScorer{err: assert.AnError}
	unit := NewMLPredict(scorer, testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{IngressID: IngressOutput{Signal: sig}})

	_, err := unit.Execute(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model scoring failed")
}

func TestMLPredict_NilScorer(t *testing.T) {
	unit := NewMLPredict(nil, testLogger())

	_, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

// ==========================================================================
// composite_score
// ==========================================================================

func TestCompositeScore_BullishBlend(t *testing.T) {
	unit := NewCompositeScore(testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		IngressID:    IngressOutput{Signal: sig},
		IndicatorsID: IndicatorsOutput{RSI: 25, EMAFast: 110, EMASlow: 100},
		PatternsID:   PatternsOutput{Flags: []string{PatternBullishEngulfing}, Bias: 0.3},
		SentimentID:  SentimentOutput{Score: 0.6},
		PredictID:    scoring.ScoreResponse{Score: 0.7, Confidence: 0.9},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	verdict, err := outputAs[*signals.Verdict](st, CompositeID)
	require.NoError(t, err)
	assert.Equal(t, "buy", verdict.Action)
	assert.Equal(t, "sig-1", verdict.SignalID)
	assert.Equal(t, "AAPL", verdict.Symbol)
	assert.Greater(t, verdict.Scores["composite"], actionThreshold)
	assert.Greater(t, verdict.Confidence, 0.5)
	assert.Contains(t, verdict.Rationale, "weighted blend")
	assert.Contains(t, verdict.Rationale, "model")
}

func TestCompositeScore_BearishBlend(t *testing.T) {
	unit := NewCompositeScore(testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		IngressID:    IngressOutput{Signal: sig},
		IndicatorsID: IndicatorsOutput{RSI: 80, EMAFast: 95, EMASlow: 100},
		PatternsID:   PatternsOutput{Flags: []string{PatternShootingStar}, Bias: -0.25},
		SentimentID:  SentimentOutput{Score: -0.5},
		PredictID:    scoring.ScoreResponse{Score: -0.6, Confidence: 0.8},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	verdict, err := outputAs[*signals.Verdict](st, CompositeID)
	require.NoError(t, err)
	assert.Equal(t, "sell", verdict.Action)
	assert.Less(t, verdict.Scores["composite"], -actionThreshold)
}

func TestCompositeScore_NeutralHolds(t *testing.T) {
	unit := NewCompositeScore(testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		IngressID:   IngressOutput{Signal: sig},
		SentimentID: SentimentOutput{Score: 0.05},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	verdict, err := outputAs[*signals.Verdict](st, CompositeID)
	require.NoError(t, err)
	assert.Equal(t, "hold", verdict.Action)
}

func TestCompositeScore_RenormalizesOverPresentComponents(t *testing.T) {
	unit := NewCompositeScore(testLogger())

	// Only the model score is present: a 0.5 model score must come
	// through at full weight, not scaled down by absent components.
	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		IngressID: IngressOutput{Signal: sig},
		PredictID: scoring.ScoreResponse{Score: 0.5, Confidence: 0.9},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	verdict, err := outputAs[*signals.Verdict](st, CompositeID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, verdict.Scores["composite"], 1e-9)
	assert.Equal(t, "buy", verdict.Action)
}

func TestCompositeScore_NoComponents(t *testing.T) {
	unit := NewCompositeScore(testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{IngressID: IngressOutput{Signal: sig}})

	_, err := unit.Execute(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no component scores")
}

func TestWeightsFromRunConfig(t *testing.T) {
	weights := weightsFromRunConfig(nil)
	assert.Equal(t, defaultWeights, weights)

	weights = weightsFromRunConfig(map[string]any{"weight_model": 0.9, "weight_sentiment": 0})
	assert.Equal(t, 0.9, weights["model"])
	assert.Equal(t, 0.0, weights["sentiment"])
	assert.Equal(t, defaultWeights["patterns"], weights["patterns"])
}

// ==========================================================================
// Sinks
// ==========================================================================

func TestPersistVerdict_WritesBothStores(t *testing.T) {
	verdicts := &fakeVerdicts{}
	market := &fakeMarket{}
	unit := NewPersistVerdict(verdicts, market, testLogger())

	sig := testSignal()
	verdict := &signals.Verdict{SignalID: sig.ID, Symbol: sig.Symbol, Action: "buy"}
	st := stateWith(t, sig, map[string]any{CompositeID: verdict})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, verdicts.saved, 1)
	require.Len(t, market.points, 1)
	assert.Same(t, verdict, verdicts.saved[0])

	out, err := outputAs[PersistOutput](st, PersistID)
	require.NoError(t, err)
	assert.True(t, out.Stored)
	assert.True(t, out.PointWritten)
}

func TestPersistVerdict_PointFailureIsTolerated(t *testing.T) {
	verdicts := &fakeVerdicts{}
	market := &fakeMarket{pointErr: assert.AnError}
	unit := NewPersistVerdict(verdicts, market, testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		CompositeID: &signals.Verdict{SignalID: sig.ID, Symbol: sig.Symbol},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	out, err := outputAs[PersistOutput](st, PersistID)
	require.NoError(t, err)
	assert.True(t, out.Stored)
	assert.False(t, out.PointWritten)
}

func TestPersistVerdict_StoreFailureFailsUnit(t *testing.T) {
	verdicts := &fakeVerdicts{err: assert.AnError}
	unit := NewPersistVerdict(verdicts, &fakeMarket{}, testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		CompositeID: &signals.Verdict{SignalID: sig.ID},
	})

	_, err := unit.Execute(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store verdict")
}

func TestPersistVerdict_RequiresComposite(t *testing.T) {
	unit := NewPersistVerdict(&fakeVerdicts{}, &fakeMarket{}, testLogger())

	_, err := unit.Execute(context.Background(), pipeline.NewState(testSignal()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composite_score")
}

func TestNotifyStream_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	unit := NewNotifyStream(pub, testLogger())

	sig := testSignal()
	verdict := &signals.Verdict{SignalID: sig.ID, Symbol: sig.Symbol, Action: "buy"}
	st := stateWith(t, sig, map[string]any{CompositeID: verdict})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, pub.verdicts, 1)
	assert.Same(t, verdict, pub.verdicts[0])
	assert.Equal(t, st.ID, pub.stateIDs[0])

	out, err := outputAs[NotifyOutput](st, NotifyID)
	require.NoError(t, err)
	assert.True(t, out.Published)
}

func TestNotifyStream_NoPublisherIsNoop(t *testing.T) {
	unit := NewNotifyStream(nil, testLogger())

	sig := testSignal()
	st := stateWith(t, sig, map[string]any{
		CompositeID: &signals.Verdict{SignalID: sig.ID},
	})

	st, err := unit.Execute(context.Background(), st)
	require.NoError(t, err)

	out, err := outputAs[NotifyOutput](st, NotifyID)
	require.NoError(t, err)
	assert.False(t, out.Published)
}

// ==========================================================================
// Builtins
// ==========================================================================

func TestBuiltins_FullSet(t *testing.T) {
	deps := Deps{
		Market:   &fakeMarket{},
		Scorer:   &fakeScorer{},
		Verdicts: &fakeVerdicts{},
		Stream:   &fakePublisher{},
		Logger:   testLogger(),
	}

	built := Builtins(deps)
	require.Len(t, built, 9)

	wantCategories := map[string]pipeline.Category{
		IngressID:    pipeline.CategorySource,
		ContextID:    pipeline.CategoryRequired,
		IndicatorsID: pipeline.CategoryEnrichment,
		PatternsID:   pipeline.CategoryEnrichment,
		SentimentID:  pipeline.CategoryEnrichment,
		PredictID:    pipeline.CategoryScoring,
		CompositeID:  pipeline.CategoryScoring,
		PersistID:    pipeline.CategorySink,
		NotifyID:     pipeline.CategorySink,
	}

	seen := map[string]bool{}
	for _, u := range built {
		assert.Equal(t, wantCategories[u.ID()], u.Category(), "category for %s", u.ID())
		assert.True(t, u.ParallelSafe(), "parallel safety for %s", u.ID())
		seen[u.ID()] = true
	}
	assert.Len(t, seen, 9)
}

func TestBuiltins_RegisterCleanly(t *testing.T) {
	reg := pipeline.NewRegistry()
	report := reg.AutoDiscover(Builtins(Deps{Logger: testLogger()})...)

	assert.Equal(t, 9, report.Discovered)
	assert.Equal(t, 9, report.Registered)
	assert.Equal(t, 0, report.Failed)
}
