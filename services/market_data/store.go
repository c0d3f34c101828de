// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package marketdata provides the InfluxDB-backed market data store the
// pipeline reads candles and quotes from and writes verdict points to.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/Tideflow/pkg/validation"
	"github.com/AleutianAI/Tideflow/services/signals"
)

const (
	candleMeasurement  = "candles"
	verdictMeasurement = "verdicts"

	// candleLookback bounds every candle query; signals on dead symbols
	// should fail fast rather than scan the whole bucket.
	candleLookback = "-30d"
)

// ErrNoData is returned when a query matches no points.
var ErrNoData = errors.New("no market data for symbol")

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Candle is one OHLCV bar.
type Candle struct {
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	At     time.Time `json:"at"`
}

// Store reads and writes market data in InfluxDB.
//
// Description:
//
//	Writes go through the blocking write API (callers already run inside
//	worker goroutines with their own deadlines). Reads are deduplicated
//	with singleflight: a level of parallel enrichment units asking for the
//	same symbol's candles triggers exactly one Flux query.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	logger   *slog.Logger

	candleGroup singleflight.Group
	quoteGroup  singleflight.Group
}

// NewStore connects to InfluxDB.
//
// Inputs:
//
//	cfg - Connection settings. URL, Org, and Bucket are required.
//	logger - Structured logger. If nil, uses slog.Default().
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx url is required")
	}
	if cfg.Org == "" {
		return nil, fmt.Errorf("influx org is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("influx bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// Close releases the underlying HTTP client.
func (s *Store) Close() {
	s.client.Close()
}

// WriteCandle persists one OHLCV bar for a symbol.
func (s *Store) WriteCandle(ctx context.Context, symbol string, c Candle) error {
	safe, err := validation.SanitizeTicker(symbol)
	if err != nil {
		return fmt.Errorf("invalid symbol: %w", err)
	}
	return s.writeAPI.WritePoint(ctx, candlePoint(safe, c))
}

// WriteVerdictPoint persists a pipeline verdict as a measurement point,
// so verdict confidence can be charted against price history.
func (s *Store) WriteVerdictPoint(ctx context.Context, v *signals.Verdict) error {
	if v == nil {
		return fmt.Errorf("verdict must not be nil")
	}
	safe, err := validation.SanitizeTicker(v.Symbol)
	if err != nil {
		return fmt.Errorf("invalid symbol: %w", err)
	}
	return s.writeAPI.WritePoint(ctx, verdictPoint(safe, v))
}

// candlePoint builds the line-protocol point for one bar.
func candlePoint(symbol string, c Candle) *write.Point {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return influxdb2.NewPoint(
		candleMeasurement,
		map[string]string{"symbol": symbol},
		map[string]interface{}{
			"open":   c.Open,
			"high":   c.High,
			"low":    c.Low,
			"close":  c.Close,
			"volume": c.Volume,
		},
		at,
	)
}

// verdictPoint builds the line-protocol point for one verdict.
func verdictPoint(symbol string, v *signals.Verdict) *write.Point {
	at := v.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	fields := map[string]interface{}{
		"confidence": v.Confidence,
	}
	for name, score := range v.Scores {
		fields["score_"+name] = score
	}
	return influxdb2.NewPoint(
		verdictMeasurement,
		map[string]string{
			"symbol": symbol,
			"action": v.Action,
		},
		fields,
		at,
	)
}

// recentCandlesQuery renders the Flux query for the last n bars of a
// symbol. The symbol must already be sanitized.
func recentCandlesQuery(bucket, symbol string, n int) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.symbol == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: true)
		  |> limit(n: %d)
	`, bucket, candleLookback, candleMeasurement, symbol, n)
}

// lastQuoteQuery renders the Flux query for a symbol's latest close.
func lastQuoteQuery(bucket, symbol string) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.symbol == "%s")
		  |> filter(fn: (r) => r._field == "close")
		  |> last()
	`, bucket, candleLookback, candleMeasurement, symbol)
}

// RecentCandles returns the last n bars for a symbol in chronological
// order.
//
// Description:
//
//	Concurrent callers asking for the same symbol and window share one
//	Flux query via singleflight; each caller gets its own copy of the
//	result slice.
//
// Outputs:
//
//	[]Candle - Oldest first. ErrNoData if the symbol has no points in
//	  the lookback window.
func (s *Store) RecentCandles(ctx context.Context, symbol string, n int) ([]Candle, error) {
	safe, err := validation.SanitizeTicker(symbol)
	if err != nil {
		return nil, fmt.Errorf("invalid symbol: %w", err)
	}
	if n <= 0 {
		n = 100
	}

	key := fmt.Sprintf("candles:%s:%d", safe, n)
	v, err, _ := s.candleGroup.Do(key, func() (interface{}, error) {
		return s.queryCandles(ctx, safe, n)
	})
	if err != nil {
		return nil, err
	}
	candles, ok := v.([]Candle)
	if !ok {
		return nil, fmt.Errorf("unexpected type from singleflight group 'candleGroup': got %T", v)
	}

	// Copy: singleflight shares one result across callers.
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (s *Store) queryCandles(ctx context.Context, symbol string, n int) ([]Candle, error) {
	result, err := s.queryAPI.Query(ctx, recentCandlesQuery(s.bucket, symbol, n))
	if err != nil {
		s.logger.Error("candle query failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("candle query failed: %w", err)
	}
	if result == nil {
		return nil, ErrNoData
	}

	var candles []Candle
	for result.Next() {
		record := result.Record()
		c := Candle{At: record.Time()}
		if val, ok := record.ValueByKey("open").(float64); ok {
			c.Open = val
		}
		if val, ok := record.ValueByKey("high").(float64); ok {
			c.High = val
		}
		if val, ok := record.ValueByKey("low").(float64); ok {
			c.Low = val
		}
		if val, ok := record.ValueByKey("close").(float64); ok {
			c.Close = val
		}
		if val, ok := record.ValueByKey("volume").(float64); ok {
			c.Volume = val
		}
		candles = append(candles, c)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("candle query failed: %w", result.Err())
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	// The query sorts newest-first so limit() keeps the latest bars;
	// callers want them chronological.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// LastQuote returns a symbol's most recent close and its timestamp.
func (s *Store) LastQuote(ctx context.Context, symbol string) (float64, time.Time, error) {
	safe, err := validation.SanitizeTicker(symbol)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid symbol: %w", err)
	}

	type quote struct {
		price float64
		at    time.Time
	}
	v, err, _ := s.quoteGroup.Do("quote:"+safe, func() (interface{}, error) {
		result, err := s.queryAPI.Query(ctx, lastQuoteQuery(s.bucket, safe))
		if err != nil {
			s.logger.Error("quote query failed", "symbol", safe, "error", err)
			return nil, fmt.Errorf("quote query failed: %w", err)
		}
		if result == nil || !result.Next() {
			return nil, fmt.Errorf("%w: %s", ErrNoData, safe)
		}
		record := result.Record()
		price, ok := record.Value().(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoData, safe)
		}
		if result.Err() != nil {
			return nil, fmt.Errorf("quote query failed: %w", result.Err())
		}
		return quote{price: price, at: record.Time()}, nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	q, ok := v.(quote)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unexpected type from singleflight group 'quoteGroup': got %T", v)
	}
	return q.price, q.at, nil
}
