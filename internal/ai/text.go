// Package ai wraps the text and vision AI providers behind narrow
// interfaces. Both fail closed on timeout and normalize provider errors
// into the failure taxonomy so the caller can pick a fallback.
package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/failure"
	"github.com/ecobot-id/ecobot/internal/models"
)

// TextGenerator produces a free-form reply from assembled context.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt string, turns []*models.ConversationTurn, userMessage string) (string, error)
}

const textTimeout = 30 * time.Second

type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
	MaxTokens   int
	Temperature float64
}

type GPTText struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

func NewGPTText(cfg Config, logger *zap.Logger) *GPTText {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &GPTText{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.TextModel,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}
}

func (g *GPTText) Generate(ctx context.Context, systemPrompt string, turns []*models.ConversationTurn, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, textTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		if turn.Speaker == models.SpeakerAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		g.logger.Error("Text generation failed", zap.Error(err))
		return "", wrapProviderError("ai.generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", failure.New(failure.AdapterPermanent, "ai.generate",
			errors.New("empty completion response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapProviderError classifies a go-openai error into the failure
// taxonomy. Timeouts and 5xx are transient; auth and request errors are
// permanent.
func wrapProviderError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return failure.New(failure.AdapterTransient, op, err)
		}
		return failure.New(failure.AdapterPermanent, op, err)
	}
	// Network error or context deadline.
	return failure.New(failure.AdapterTransient, op, err)
}
