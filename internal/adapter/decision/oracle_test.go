package decision

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
)

type mockProvider struct {
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return "mock" }

func reply(content string) func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: content}}, nil
	}
}

func samplePrompt() domain.NegotiationPrompt {
	return domain.NegotiationPrompt{
		AgentID:     "tickets_seller",
		Role:        domain.RoleSeller,
		Description: "Two hockey tickets, section 108",
		Services:    []string{"tickets"},
		Pricing:     map[string]float64{"per_ticket": 275},
		History: []domain.NegotiationMessage{
			{Role: domain.RoleInitiator, Content: "Would you take 200?"},
			{Role: domain.RoleSeller, Content: "I could do 260."},
		},
		Incoming: "How about 230?",
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		action domain.Action
		price  float64
		msg    string
	}{
		{
			name:   "plain",
			raw:    `{"message":"Deal at 240","action":"accept","price":240,"reasoning":"fair"}`,
			action: domain.ActionAccept, price: 240, msg: "Deal at 240",
		},
		{
			name:   "legacy field names",
			raw:    `{"response":"Counter at 260","action":"counter","price_per_ticket":260,"reasoning":"value"}`,
			action: domain.ActionCounter, price: 260, msg: "Counter at 260",
		},
		{
			name:   "code fence",
			raw:    "```json\n{\"message\":\"No\",\"action\":\"reject\",\"price\":0,\"reasoning\":\"too low\"}\n```",
			action: domain.ActionReject, price: 0, msg: "No",
		},
		{
			name:   "surrounding prose",
			raw:    "Sure, here is my answer:\n{\"message\":\"250 works\",\"action\":\"counter\",\"price\":250,\"reasoning\":\"meets halfway\"}\nThanks!",
			action: domain.ActionCounter, price: 250, msg: "250 works",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDecision(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.action, d.Action)
			assert.InDelta(t, tt.price, d.Price, 1e-9)
			assert.Equal(t, tt.msg, d.Message)
			assert.False(t, d.Fallback)
		})
	}
}

func TestParseDecisionRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "I think we should counter."},
		{"broken json", `{"message": "hi", "action": `},
		{"missing action", `{"message":"hi","price":10}`},
		{"unknown action", `{"message":"hi","action":"haggle","price":10}`},
		{"missing price", `{"message":"hi","action":"counter"}`},
		{"missing message", `{"action":"counter","price":10}`},
		{"negative price", `{"message":"hi","action":"counter","price":-5}`},
		{"price as string", `{"message":"hi","action":"counter","price":"10"}`},
		{"missing reasoning", `{"message":"hi","action":"counter","price":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDecision(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrOracleFailed))
			assert.True(t, errors.Is(err, domain.ErrMalformedDecision))
		})
	}
}

func TestOracleDecide(t *testing.T) {
	var got domain.ChatRequest
	provider := &mockProvider{chatFunc: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		got = req
		return reply(`{"message":"Let's meet at 250","action":"counter","price":250,"reasoning":"close"}`)(ctx, req)
	}}

	o := NewOracle(provider, slog.Default(), WithModel("claude"), WithMaxTokens(321), WithTemperature(0.5))
	d, err := o.Decide(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCounter, d.Action)
	assert.InDelta(t, 250, d.Price, 1e-9)

	assert.Equal(t, "claude", got.Model)
	assert.Equal(t, 321, got.MaxTokens)
	assert.InDelta(t, 0.5, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "selling")

	user := got.Messages[1].Content
	assert.Contains(t, user, "initiator: Would you take 200?\nseller: I could do 260.")
	assert.Contains(t, user, "INCOMING MESSAGE FROM BUYER:\nHow about 230?")
	assert.Contains(t, user, "Your Pricing: {per_ticket: 275}")
}

func TestOracleDecideBuyerFraming(t *testing.T) {
	var got domain.ChatRequest
	provider := &mockProvider{chatFunc: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		got = req
		return reply(`{"message":"ok","action":"accept","price":230,"reasoning":"under budget"}`)(ctx, req)
	}}

	p := samplePrompt()
	p.AgentID = "fan_buyer"
	p.Role = domain.RoleBuyer

	_, err := NewOracle(provider, slog.Default()).Decide(context.Background(), p)
	require.NoError(t, err)
	assert.Contains(t, got.Messages[0].Content, "buying")
	assert.Contains(t, got.Messages[1].Content, "INCOMING MESSAGE FROM SELLER:")
	assert.Contains(t, got.Messages[1].Content, "Your Budget:")
}

func TestOracleDecideProviderError(t *testing.T) {
	provider := &mockProvider{chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, domain.ErrRateLimit
	}}

	_, err := NewOracle(provider, slog.Default()).Decide(context.Background(), samplePrompt())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOracleFailed))
	assert.True(t, errors.Is(err, domain.ErrRateLimit))
	assert.False(t, errors.Is(err, domain.ErrMalformedDecision))
}

func TestOracleDecideTimeout(t *testing.T) {
	provider := &mockProvider{chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := NewOracle(provider, slog.Default(), WithTimeout(10*time.Millisecond)).
		Decide(context.Background(), samplePrompt())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOracleFailed))
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, domain.CodeOracleFailed, domain.ErrorCodeOf(err))
}

func TestComposeOpening(t *testing.T) {
	var got domain.ChatRequest
	provider := &mockProvider{chatFunc: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		got = req
		return reply(`  "Hi! I saw your section 108 seats."  `)(ctx, req)
	}}

	self := &domain.AgentProfile{AgentID: "fan_buyer", Description: "Hockey fan", Pricing: map[string]float64{"max": 240}}
	other := &domain.AgentProfile{AgentID: "seller", Description: "Section 108 seats", Services: []string{"tickets"}}

	text, err := NewOracle(provider, slog.Default()).ComposeOpening(context.Background(), self, other, domain.RoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, "Hi! I saw your section 108 seats.", text)
	assert.Equal(t, openingMaxTokens, got.MaxTokens)
	assert.True(t, strings.Contains(got.Messages[0].Content, "SELLER PROFILE (Target)"))
	assert.Contains(t, got.Messages[0].Content, "Section 108 seats")
}

func TestComposeOpeningSellerAndEmpty(t *testing.T) {
	provider := &mockProvider{chatFunc: reply("   ")}

	_, err := NewOracle(provider, slog.Default()).ComposeOpening(context.Background(),
		&domain.AgentProfile{Description: "seats"}, nil, domain.RoleSeller)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOracleFailed))

	prompt := renderOpening(&domain.AgentProfile{Description: "seats"}, nil, domain.RoleSeller)
	assert.Contains(t, prompt, "Your offering: seats")
}
