package decision

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
)

func TestParseProfile(t *testing.T) {
	raw := "Here you go:\n```json\n" + `{
  "name": "Stadium Parking Co",
  "description": "Parking spots near the downtown stadium",
  "services": ["parking", "valet"],
  "pricing": {"min": 20, "max": 45},
  "location": "Downtown"
}` + "\n```"

	p, err := ParseProfile(raw)
	require.NoError(t, err)
	assert.Equal(t, "Stadium Parking Co", p.Name)
	assert.Equal(t, "Parking spots near the downtown stadium", p.Description)
	assert.Equal(t, []string{"parking", "valet"}, p.Services)
	assert.Equal(t, map[string]float64{"min": 20, "max": 45}, p.Pricing)
	assert.Equal(t, "Downtown", p.Location)
	assert.Empty(t, p.ContactInfo)
}

func TestParseProfileRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "This agent sells parking."},
		{"broken json", `{"description": "parking", `},
		{"missing description", `{"services":["parking"]}`},
		{"blank description", `{"description":"   "}`},
		{"services not a list", `{"description":"parking","services":"parking"}`},
		{"price as string", `{"description":"parking","pricing":{"min":"20"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrExtractionFailed))
			assert.Equal(t, domain.CodeExtractionFailed, domain.ErrorCodeOf(err))
		})
	}
}

func TestExtractorExtract(t *testing.T) {
	var got domain.ChatRequest
	provider := &mockProvider{chatFunc: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		got = req
		return reply(`{"description":"Two hockey tickets, section 108","services":["tickets"],"pricing":{"per_ticket":275}}`)(ctx, req)
	}}

	e := NewExtractor(provider, slog.Default(), WithModel("claude"))
	p, err := e.Extract(context.Background(), "selling 2 hockey tix sec 108, 275 each")
	require.NoError(t, err)
	assert.Equal(t, "Two hockey tickets, section 108", p.Description)
	assert.Equal(t, []string{"tickets"}, p.Services)
	assert.InDelta(t, 275, p.Pricing["per_ticket"], 1e-9)

	assert.Equal(t, "claude", got.Model)
	assert.Equal(t, extractMaxTokens, got.MaxTokens)
	assert.InDelta(t, extractTemperature, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, domain.RoleUser, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, `"selling 2 hockey tix sec 108, 275 each"`)
}

func TestExtractorProviderError(t *testing.T) {
	provider := &mockProvider{chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, domain.ErrRateLimit
	}}

	_, err := NewExtractor(provider, slog.Default()).Extract(context.Background(), "parking")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExtractionFailed))
	assert.True(t, errors.Is(err, domain.ErrRateLimit))
}

func TestExtractorBlankDescription(t *testing.T) {
	provider := &mockProvider{chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		t.Fatal("provider must not be called")
		return nil, nil
	}}

	_, err := NewExtractor(provider, slog.Default()).Extract(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
