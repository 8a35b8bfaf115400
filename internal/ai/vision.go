package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/failure"
	"github.com/ecobot-id/ecobot/internal/models"
)

// VisionAnalysis is the normalized result of one image classification.
type VisionAnalysis struct {
	Category    models.WasteCategory `json:"category"`
	Confidence  float64              `json:"confidence"`
	Description string               `json:"description"`
}

// VisionClassifier identifies the waste category in an image.
type VisionClassifier interface {
	Classify(ctx context.Context, image []byte) (*VisionAnalysis, error)
}

const visionTimeout = 45 * time.Second

const visionPrompt = `Kamu adalah EcoBot, asisten identifikasi sampah. Analisis gambar dan
identifikasi jenis sampah yang terlihat.

Balas HANYA dengan objek JSON berstruktur:
{
    "category": "ORGANIK" | "ANORGANIK" | "B3",
    "confidence": 0.0-1.0,
    "description": "deskripsi singkat apa yang terlihat dan cara pengelolaannya"
}`

type GPTVision struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

func NewGPTVision(cfg Config, logger *zap.Logger) *GPTVision {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &GPTVision{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.VisionModel,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}
}

func (g *GPTVision) Classify(ctx context.Context, image []byte) (*VisionAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, visionTimeout)
	defer cancel()

	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: visionPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Tolong identifikasi jenis sampah dalam gambar ini.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		g.logger.Error("Vision classification failed", zap.Error(err))
		return nil, wrapProviderError("ai.classify", err)
	}
	if len(resp.Choices) == 0 {
		return nil, failure.New(failure.AdapterPermanent, "ai.classify",
			errors.New("empty completion response"))
	}

	return parseVisionResponse(resp.Choices[0].Message.Content)
}

func parseVisionResponse(raw string) (*VisionAnalysis, error) {
	// Models sometimes fence the JSON in markdown.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var analysis VisionAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &analysis); err != nil {
		return nil, failure.New(failure.AdapterPermanent, "ai.classify",
			fmt.Errorf("unparseable response %q: %w", raw, err))
	}

	switch analysis.Category {
	case models.WasteOrganik, models.WasteAnorganik, models.WasteB3:
	default:
		return nil, failure.New(failure.AdapterPermanent, "ai.classify",
			fmt.Errorf("unknown category %q", analysis.Category))
	}
	if analysis.Confidence < 0 || analysis.Confidence > 1 {
		return nil, failure.New(failure.AdapterPermanent, "ai.classify",
			fmt.Errorf("confidence %v out of range", analysis.Confidence))
	}
	return &analysis, nil
}
