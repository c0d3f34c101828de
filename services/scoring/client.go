// Package scoring provides model-backed directional scoring for trading
// signals. Adapters share one interface so the pipeline's scoring stage
// can switch providers per run configuration.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ScoreRequest carries everything the enrichment stages learned about a
// signal, condensed for the model.
type ScoreRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Timeframe string  `json:"timeframe,omitempty"`

	// Indicators holds named indicator values (rsi, ema_fast/ema_slow or
	// sma_fast/sma_slow, sma, atr) from the technical stage.
	Indicators map[string]float64 `json:"indicators,omitempty"`

	// Patterns lists candlestick pattern flags from the pattern stage.
	Patterns []string `json:"patterns,omitempty"`

	// Sentiment is the aggregate headline sentiment in [-1, 1].
	Sentiment float64 `json:"sentiment"`

	Headlines []string `json:"headlines,omitempty"`
}

// ScoreResponse is a provider's directional judgement.
type ScoreResponse struct {
	// Score is directional agreement in [-1, 1]: positive favors the
	// bullish case, negative the bearish one.
	Score float64 `json:"score"`

	// Confidence is the provider's self-assessed certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	Rationale string `json:"rationale,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Client scores a signal using some model backend.
type Client interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error)
}

var (
	// ErrEmptyReply is returned when a provider answers with no content.
	ErrEmptyReply = errors.New("provider returned an empty reply")

	// ErrUnknownProvider is returned by NewFromEnv for an unrecognized
	// provider name.
	ErrUnknownProvider = errors.New("unknown scoring provider")
)

// NewFromEnv selects a scoring client from TIDEFLOW_SCORING_PROVIDER:
// "openai", "ollama", or "local". Empty defaults to the local heuristic.
func NewFromEnv() (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("TIDEFLOW_SCORING_PROVIDER")))
	switch provider {
	case "", "local":
		return NewLocalClient(), nil
	case "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// buildPrompt renders the request as a compact instruction asking for a
// strict JSON reply, shared by the remote adapters.
func buildPrompt(req ScoreRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate this trading signal and reply with JSON only, shaped as "+
		`{"score": <float -1..1, positive=bullish>, "confidence": <float 0..1>, "rationale": "<one sentence>"}.`+"\n")
	fmt.Fprintf(&b, "Signal: %s %s at %.4f", strings.ToUpper(req.Side), req.Symbol, req.Price)
	if req.Timeframe != "" {
		fmt.Fprintf(&b, " on the %s timeframe", req.Timeframe)
	}
	b.WriteString(".\n")
	if len(req.Indicators) > 0 {
		data, _ := json.Marshal(req.Indicators)
		fmt.Fprintf(&b, "Indicators: %s\n", data)
	}
	if len(req.Patterns) > 0 {
		fmt.Fprintf(&b, "Patterns: %s\n", strings.Join(req.Patterns, ", "))
	}
	fmt.Fprintf(&b, "Headline sentiment: %.2f\n", req.Sentiment)
	for _, h := range req.Headlines {
		fmt.Fprintf(&b, "Headline: %s\n", h)
	}
	return b.String()
}

// parseModelReply extracts a ScoreResponse from a model's text reply,
// tolerating markdown code fences around the JSON.
func parseModelReply(text string) (ScoreResponse, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ScoreResponse{}, ErrEmptyReply
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var resp ScoreResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return ScoreResponse{}, fmt.Errorf("failed to parse provider reply as JSON: %w", err)
	}
	resp.Score = clamp(resp.Score, -1, 1)
	resp.Confidence = clamp(resp.Confidence, 0, 1)
	return resp, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
