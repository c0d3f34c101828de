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
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/Tideflow/services/pipeline"
)

const (
	sentimentChunkSize    = 240
	sentimentChunkOverlap = sentimentChunkSize / 10
)

var headlineSeparators = []string{"\n", ". ", " ", ""}

// positiveTerms and negativeTerms are the finance lexicon. Scores count
// term hits per chunk, so multi-hit headlines weigh more.
var (
	positiveTerms = map[string]struct{}{
		"beat": {}, "beats": {}, "surge": {}, "surges": {}, "rally": {},
		"rallies": {}, "upgrade": {}, "upgraded": {}, "record": {},
		"growth": {}, "bullish": {}, "strong": {}, "buyback": {},
		"outperform": {}, "profit": {}, "profits": {}, "gain": {},
		"gains": {}, "soar": {}, "soars": {},
	}
	negativeTerms = map[string]struct{}{
		"miss": {}, "misses": {}, "plunge": {}, "plunges": {},
		"selloff": {}, "downgrade": {}, "downgraded": {}, "lawsuit": {},
		"bearish": {}, "weak": {}, "recall": {}, "fraud": {},
		"bankruptcy": {}, "layoffs": {}, "cut": {}, "cuts": {},
		"warning": {}, "loss": {}, "losses": {}, "slump": {},
	}
)

// SentimentOutput carries the aggregate headline sentiment in [-1, 1].
type SentimentOutput struct {
	Score    float64 `json:"score"`
	Chunks   int     `json:"chunks"`
	Positive int     `json:"positive"`
	Negative int     `json:"negative"`
}

// NewsSentiment scores the headlines attached to the signal.
//
// Description:
//
//	Headlines are joined, split into overlapping chunks, and scored
//	against the lexicon; the output is the mean chunk score. A signal
//	without headlines produces a neutral score rather than an error.
type NewsSentiment struct {
	pipeline.BaseUnit
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
}

// NewNewsSentiment creates the headline sentiment unit.
func NewNewsSentiment(logger *slog.Logger) *NewsSentiment {
	return &NewsSentiment{
		BaseUnit: pipeline.BaseUnit{
			UnitID:           SentimentID,
			UnitCategory:     pipeline.CategoryEnrichment,
			UnitDependencies: []string{ContextID},
			UnitParallel:     true,
			UnitTimeout:      5 * time.Second,
		},
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(sentimentChunkSize),
			textsplitter.WithChunkOverlap(sentimentChunkOverlap),
			textsplitter.WithSeparators(headlineSeparators),
		),
		logger: logger,
	}
}

// Execute scores the signal's headlines.
func (u *NewsSentiment) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if err := ctx.Err(); err != nil {
		return st, err
	}

	ing, err := outputAs[IngressOutput](st, IngressID)
	if err != nil {
		return st, err
	}

	if len(ing.Signal.Headlines) == 0 {
		st.SetOutput(SentimentID, SentimentOutput{})
		return st, nil
	}

	chunks, err := u.splitter.SplitText(strings.Join(ing.Signal.Headlines, "\n"))
	if err != nil {
		return st, fmt.Errorf("split headlines: %w", err)
	}

	out := SentimentOutput{Chunks: len(chunks)}
	var total float64
	for _, chunk := range chunks {
		pos, neg := countTerms(chunk)
		out.Positive += pos
		out.Negative += neg
		if pos+neg > 0 {
			total += float64(pos-neg) / float64(pos+neg)
		}
	}
	if len(chunks) > 0 {
		out.Score = clamp(total/float64(len(chunks)), -1, 1)
	}

	u.logger.Debug("headline sentiment scored",
		slog.Int("chunks", out.Chunks),
		slog.Int("positive", out.Positive),
		slog.Int("negative", out.Negative),
		slog.Float64("score", out.Score))

	st.SetOutput(SentimentID, out)
	return st, nil
}

// countTerms tallies lexicon hits in one chunk.
func countTerms(text string) (positive, negative int) {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?:;()'\"")
		if _, ok := positiveTerms[word]; ok {
			positive++
			continue
		}
		if _, ok := negativeTerms[word]; ok {
			negative++
		}
	}
	return positive, negative
}
