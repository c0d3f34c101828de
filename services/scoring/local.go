package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// LocalClient is the zero-dependency fallback scorer: a deterministic
// heuristic over the same inputs the model adapters see. It keeps the
// pipeline fully functional with no provider configured.
type LocalClient struct{}

// NewLocalClient creates the heuristic scorer.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

// bullishPatterns and bearishPatterns weight the pattern-scan flags.
var bullishPatterns = map[string]float64{
	"bullish_engulfing": 0.3,
	"hammer":            0.25,
}

var bearishPatterns = map[string]float64{
	"bearish_engulfing": 0.3,
	"shooting_star":     0.25,
}

// Score implements the Client interface.
//
// Description:
//
//	Blends three evidence sources into a directional score in [-1, 1]:
//	RSI mean-reversion distance, the fast/slow moving-average trend, and
//	pattern plus sentiment contributions. Identical requests always yield
//	identical responses.
func (c *LocalClient) Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	if err := ctx.Err(); err != nil {
		return ScoreResponse{}, err
	}

	var score float64
	components := 0
	var notes []string

	if rsi, ok := req.Indicators["rsi"]; ok {
		// Oversold reads bullish, overbought bearish.
		rsiLean := (50 - rsi) / 50
		score += 0.4 * clamp(rsiLean, -1, 1)
		components++
		notes = append(notes, fmt.Sprintf("rsi %.1f", rsi))
	}

	fast, fok := req.Indicators["ema_fast"]
	slow, sok := req.Indicators["ema_slow"]
	if !fok || !sok {
		fast, fok = req.Indicators["sma_fast"]
		slow, sok = req.Indicators["sma_slow"]
	}
	if fok && sok && slow != 0 {
		trend := math.Tanh((fast - slow) / slow * 25)
		score += 0.3 * trend
		components++
		if trend > 0 {
			notes = append(notes, "uptrend")
		} else if trend < 0 {
			notes = append(notes, "downtrend")
		}
	}

	for _, p := range req.Patterns {
		if w, ok := bullishPatterns[p]; ok {
			score += w
			components++
			notes = append(notes, p)
		}
		if w, ok := bearishPatterns[p]; ok {
			score -= w
			components++
			notes = append(notes, p)
		}
	}

	if req.Sentiment != 0 {
		score += 0.3 * clamp(req.Sentiment, -1, 1)
		components++
		notes = append(notes, fmt.Sprintf("sentiment %.2f", req.Sentiment))
	}

	score = clamp(score, -1, 1)

	// Confidence grows with corroborating evidence and signal strength.
	confidence := clamp(0.2+0.1*float64(components)+0.3*math.Abs(score), 0, 1)

	rationale := "no supporting evidence"
	if len(notes) > 0 {
		rationale = "heuristic blend of " + strings.Join(notes, ", ")
	}

	return ScoreResponse{
		Score:      score,
		Confidence: confidence,
		Rationale:  rationale,
		Provider:   "local",
		Model:      "heuristic-v1",
	}, nil
}
