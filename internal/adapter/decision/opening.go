package decision

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agent-market/internal/domain"
	"agent-market/internal/infra/tracer"
)

const (
	openingMaxTokens   = 300
	openingTemperature = 0.8
)

// ComposeOpening implements domain.OpeningComposer. self is the agent
// starting the negotiation; role is the role self plays.
func (o *Oracle) ComposeOpening(ctx context.Context, self, counterpart *domain.AgentProfile, role domain.Role) (_ string, err error) {
	ctx, span := tracer.StartSpan(ctx, "decision.compose_opening",
		trace.WithAttributes(tracer.StringAttr("agent.role", string(role))),
	)
	defer func() { tracer.Finish(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Chat(ctx, domain.ChatRequest{
		Model:       o.model,
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: renderOpening(self, counterpart, role)}},
		MaxTokens:   openingMaxTokens,
		Temperature: openingTemperature,
	})
	if err != nil {
		return "", domain.Classify(domain.ErrOracleFailed, err)
	}

	text := strings.Trim(strings.TrimSpace(resp.Message.Content), `"`)
	if text == "" {
		return "", fmt.Errorf("%w: %w: empty opening", domain.ErrOracleFailed, domain.ErrMalformedDecision)
	}
	return text, nil
}

func renderOpening(self, counterpart *domain.AgentProfile, role domain.Role) string {
	if self == nil {
		self = &domain.AgentProfile{}
	}
	if counterpart == nil {
		counterpart = &domain.AgentProfile{}
	}

	var sb strings.Builder
	if role == domain.RoleBuyer {
		sb.WriteString("You are an AI buyer agent analyzing a seller's profile to craft the perfect opening negotiation message.\n\n")
		sb.WriteString("BUYER PROFILE (You):\n")
		fmt.Fprintf(&sb, "- Description: %s\n", self.Description)
		fmt.Fprintf(&sb, "- Budget: %s\n\n", renderPricing(self.Pricing))
		sb.WriteString("SELLER PROFILE (Target):\n")
		fmt.Fprintf(&sb, "- Description: %s\n", counterpart.Description)
		fmt.Fprintf(&sb, "- Pricing: %s\n", renderPricing(counterpart.Pricing))
		fmt.Fprintf(&sb, "- Services: %s\n\n", strings.Join(counterpart.Services, ", "))
		sb.WriteString("Craft an opening message that:\n")
		sb.WriteString("- Shows you understand their offering\n")
		sb.WriteString("- Mentions specific details from their description\n")
		sb.WriteString("- Presents your budget and needs strategically\n\n")
		sb.WriteString("Return ONLY the opening message text (no JSON, no quotes):")
		return sb.String()
	}

	sb.WriteString("Generate a seller opening message based on buyer interest.\n")
	fmt.Fprintf(&sb, "Buyer: %s\n", counterpart.Description)
	fmt.Fprintf(&sb, "Your offering: %s\n", self.Description)
	fmt.Fprintf(&sb, "Your pricing: %s\n\n", renderPricing(self.Pricing))
	sb.WriteString("Return ONLY the opening message text:")
	return sb.String()
}

var _ domain.OpeningComposer = (*Oracle)(nil)
