package ai

import (
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobot-id/ecobot/internal/failure"
	"github.com/ecobot-id/ecobot/internal/models"
)

func TestParseVisionResponse(t *testing.T) {
	raw := `{"category": "ORGANIK", "confidence": 0.87, "description": "Sisa sayuran."}`
	analysis, err := parseVisionResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.WasteOrganik, analysis.Category)
	assert.InDelta(t, 0.87, analysis.Confidence, 1e-9)
	assert.Equal(t, "Sisa sayuran.", analysis.Description)
}

func TestParseVisionResponseStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"category\": \"B3\", \"confidence\": 0.7, \"description\": \"Baterai bekas.\"}\n```"
	analysis, err := parseVisionResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.WasteB3, analysis.Category)
}

func TestParseVisionResponseRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "ini bukan json"},
		{"unknown category", `{"category": "LOGAM", "confidence": 0.5}`},
		{"confidence out of range", `{"category": "ORGANIK", "confidence": 1.4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseVisionResponse(tt.raw)
			require.Error(t, err)
			assert.Equal(t, failure.AdapterPermanent, failure.KindOf(err))
		})
	}
}

func TestWrapProviderError(t *testing.T) {
	serverErr := &openai.APIError{HTTPStatusCode: http.StatusBadGateway}
	assert.Equal(t, failure.AdapterTransient, failure.KindOf(wrapProviderError("ai.generate", serverErr)))

	rateLimited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
	assert.Equal(t, failure.AdapterTransient, failure.KindOf(wrapProviderError("ai.generate", rateLimited)))

	badKey := &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}
	assert.Equal(t, failure.AdapterPermanent, failure.KindOf(wrapProviderError("ai.generate", badKey)))

	network := errors.New("dial tcp: connection refused")
	assert.Equal(t, failure.AdapterTransient, failure.KindOf(wrapProviderError("ai.generate", network)))
}
