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

	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/signals"
)

// PersistOutput is the receipt persist_verdict writes.
type PersistOutput struct {
	Stored       bool `json:"stored"`
	PointWritten bool `json:"pointWritten"`
}

// PersistVerdict writes the verdict document to the embedded store and a
// measurement point to the time-series store.
//
// Description:
//
//	The document write is the contract: its failure fails the unit. The
//	time-series point is best effort; a failure there is logged and
//	reflected in the receipt but does not fail the run.
type PersistVerdict struct {
	pipeline.BaseUnit
	verdicts VerdictStore
	market   MarketStore
	logger   *slog.Logger
}

// NewPersistVerdict creates the verdict persistence sink.
func NewPersistVerdict(verdicts VerdictStore, market MarketStore, logger *slog.Logger) *PersistVerdict {
	return &PersistVerdict{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           PersistID,
			UnitCategory:     pipeline.CategorySink,
			UnitDependencies: []string{CompositeID},
			UnitParallel:     true,
			UnitTimeout:      10 * time.Second,
		},
		verdicts: verdicts,
		market:   market,
		logger:   logger,
	}
}

// Execute persists the verdict.
func (u *PersistVerdict) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if u.verdicts == nil {
		return st, fmt.Errorf("verdict store not configured")
	}

	verdict, err := outputAs[*signals.Verdict](st, CompositeID)
	if err != nil {
		return st, err
	}

	if err := u.verdicts.Put(ctx, verdict); err != nil {
		return st, fmt.Errorf("store verdict: %w", err)
	}

	out := PersistOutput{Stored: true}
	if u.market != nil {
		if err := u.market.WriteVerdictPoint(ctx, verdict); err != nil {
			u.logger.Warn("verdict point write failed",
				slog.String("symbol", verdict.Symbol),
				slog.String("error", err.Error()))
		} else {
			out.PointWritten = true
		}
	}

	st.SetOutput(PersistID, out)
	return st, nil
}

// NotifyOutput is the receipt notify_stream writes.
type NotifyOutput struct {
	Published bool `json:"published"`
}

// NotifyStream publishes the verdict to live stream subscribers.
//
// The unit is wired optional in the default pipeline and degrades to a
// no-op when no publisher is configured (one-shot CLI runs).
type NotifyStream struct {
	pipeline.BaseUnit
	stream Publisher
	logger *slog.Logger
}

// NewNotifyStream creates the stream notification sink.
func NewNotifyStream(stream Publisher, logger *slog.Logger) *NotifyStream {
	return &NotifyStream{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           NotifyID,
			UnitCategory:     pipeline.CategorySink,
			UnitDependencies: []string{CompositeID},
			UnitParallel:     true,
			UnitTimeout:      5 * time.Second,
		},
		stream: stream,
		logger: logger,
	}
}

// Execute publishes the verdict to the stream hub.
func (u *NotifyStream) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	verdict, err := outputAs[*signals.Verdict](st, CompositeID)
	if err != nil {
		return st, err
	}

	if u.stream == nil {
		u.logger.Debug("no stream publisher configured, skipping notify")
		st.SetOutput(NotifyID, NotifyOutput{Published: false})
		return st, nil
	}

	u.stream.Publish(st.ID, verdict)
	st.SetOutput(NotifyID, NotifyOutput{Published: true})
	return st, nil
}
