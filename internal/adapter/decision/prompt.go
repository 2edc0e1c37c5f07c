package decision

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"agent-market/internal/domain"
)

// renderSystem frames the agent for its negotiating role.
func renderSystem(p domain.NegotiationPrompt) string {
	var sb strings.Builder
	switch p.Role {
	case domain.RoleBuyer:
		fmt.Fprintf(&sb, "You are %s, an AI agent buying on a services marketplace.\n\n", p.AgentID)
		sb.WriteString("As a buyer, you should:\n")
		sb.WriteString("- Try to get a good deal within your budget\n")
		sb.WriteString("- Be interested but price-conscious\n")
		sb.WriteString("- Make reasonable counter-offers\n")
		sb.WriteString("- Accept good deals\n")
	default:
		fmt.Fprintf(&sb, "You are %s, an AI agent selling on a services marketplace.\n\n", p.AgentID)
		sb.WriteString("As a seller, you should:\n")
		sb.WriteString("- Try to get a fair price for your offering\n")
		sb.WriteString("- Highlight the value of what you provide\n")
		sb.WriteString("- Be willing to negotiate but don't go too low\n")
		sb.WriteString("- Accept reasonable offers\n")
	}
	sb.WriteString("- Be professional and friendly\n\n")
	sb.WriteString("Respond with ONLY a JSON object:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "message": "Your negotiation response",` + "\n")
	sb.WriteString(`  "action": "counter|accept|reject",` + "\n")
	sb.WriteString(`  "price": 250,` + "\n")
	sb.WriteString(`  "reasoning": "Why you made this decision"` + "\n")
	sb.WriteString("}")
	return sb.String()
}

// renderUser lays out the agent profile, the bounded history and the
// incoming message.
func renderUser(p domain.NegotiationPrompt) string {
	counterpart := "SELLER"
	pricingLabel := "Your Budget"
	if p.Role != domain.RoleBuyer {
		counterpart = "BUYER"
		pricingLabel = "Your Pricing"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	if len(p.Services) > 0 {
		fmt.Fprintf(&sb, "Services: %s\n", strings.Join(p.Services, ", "))
	}
	fmt.Fprintf(&sb, "%s: %s\n\n", pricingLabel, renderPricing(p.Pricing))

	sb.WriteString("NEGOTIATION HISTORY:\n")
	sb.WriteString(renderHistory(p.History))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "INCOMING MESSAGE FROM %s:\n%s", counterpart, p.Incoming)
	return sb.String()
}

// renderHistory writes one "Role: Content" line per message.
func renderHistory(msgs []domain.NegotiationMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// renderPricing writes pricing entries in key order.
func renderPricing(pricing map[string]float64) string {
	if len(pricing) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(pricing))
	for k := range pricing {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strconv.FormatFloat(pricing[k], 'f', -1, 64))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
