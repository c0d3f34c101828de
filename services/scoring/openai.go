package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const openaiScoringSystemPrompt = "You are a quantitative trading analyst. " +
	"You judge whether the evidence supports a proposed trade and answer in strict JSON."

// OpenAIClient scores signals through the OpenAI chat completion API (or
// any OpenAI-compatible endpoint via TIDEFLOW_OPENAI_BASE_URL).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the environment.
//
// The API key comes from TIDEFLOW_OPENAI_API_KEY or OPENAI_API_KEY, with a
// /run/secrets/openai_api_key fallback for containerized deployments.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("TIDEFLOW_OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OpenAI API key not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := os.Getenv("TIDEFLOW_OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("TIDEFLOW_OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("TIDEFLOW_OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	slog.Info("Initializing OpenAI scoring client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Score implements the Client interface.
func (o *OpenAIClient) Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	slog.Debug("Scoring signal via OpenAI", "model", o.model, "symbol", req.Symbol)

	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openaiScoringSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return ScoreResponse{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return ScoreResponse{}, ErrEmptyReply
	}

	out, err := parseModelReply(resp.Choices[0].Message.Content)
	if err != nil {
		return ScoreResponse{}, err
	}
	out.Provider = "openai"
	out.Model = o.model
	return out, nil
}
