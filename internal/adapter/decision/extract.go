package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agent-market/internal/domain"
	"agent-market/internal/infra/tracer"
)

const (
	extractMaxTokens   = 500
	extractTemperature = 0.3
)

const profileSchema = `{
  "type": "object",
  "properties": {
    "name":         {"type": "string"},
    "description":  {"type": "string", "minLength": 1},
    "services":     {"type": "array", "items": {"type": "string"}},
    "pricing":      {"type": "object", "additionalProperties": {"type": "number"}},
    "location":     {"type": "string"},
    "contact_info": {"type": "string"}
  },
  "required": ["description"]
}`

var compiledProfileSchema = mustCompileSchema(profileSchema)

// Extractor implements domain.ProfileExtractor over an LLM provider.
type Extractor struct {
	callConfig
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewExtractor creates a profile extractor backed by provider.
func NewExtractor(provider domain.LLMProvider, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		callConfig: callConfig{
			maxTokens:   extractMaxTokens,
			temperature: extractTemperature,
			timeout:     defaultTimeout,
		},
		provider: provider,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(&e.callConfig)
	}
	return e
}

// Extract implements domain.ProfileExtractor.
func (e *Extractor) Extract(ctx context.Context, description string) (_ *domain.ExtractedProfile, err error) {
	ctx, span := tracer.StartSpan(ctx, "decision.extract_profile",
		trace.WithAttributes(tracer.IntAttr("description.len", len(description))),
	)
	defer func() { tracer.Finish(span, err) }()

	if strings.TrimSpace(description) == "" {
		return nil, domain.NewDomainError("Extractor.Extract", domain.ErrInvalidInput, "description is required")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.provider.Chat(ctx, domain.ChatRequest{
		Model:       e.model,
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: renderExtraction(description)}},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		return nil, domain.Classify(domain.ErrExtractionFailed, err)
	}

	p, err := ParseProfile(resp.Message.Content)
	if err != nil {
		e.logger.Debug("profile reply rejected", "error", err)
		return nil, err
	}
	e.logger.Debug("profile extracted",
		"services", len(p.Services),
		"pricing", len(p.Pricing),
		"duration", time.Since(start),
	)
	span.SetAttributes(tracer.IntAttr("profile.services", len(p.Services)))
	return p, nil
}

// ParseProfile extracts and validates a profile from raw LLM output.
func ParseProfile(raw string) (*domain.ExtractedProfile, error) {
	obj := objectRe.FindString(stripCodeFences(raw))
	if obj == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", domain.ErrExtractionFailed)
	}

	var parsed any
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if result := compiledProfileSchema.Validate(parsed); !result.IsValid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrExtractionFailed, result.Error())
	}

	var p domain.ExtractedProfile
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	p.Description = strings.TrimSpace(p.Description)
	if p.Description == "" {
		return nil, fmt.Errorf("%w: blank description", domain.ErrExtractionFailed)
	}
	return &p, nil
}

func renderExtraction(description string) string {
	var sb strings.Builder
	sb.WriteString("Extract structured information from this agent description:\n\n")
	fmt.Fprintf(&sb, "%q\n\n", description)
	sb.WriteString("Return ONLY a JSON object with these fields:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "name": "extracted name or generate one",` + "\n")
	sb.WriteString(`  "description": "clean description",` + "\n")
	sb.WriteString(`  "services": ["list", "of", "services"],` + "\n")
	sb.WriteString(`  "pricing": {"min": 200, "max": 400},` + "\n")
	sb.WriteString(`  "location": "extracted location",` + "\n")
	sb.WriteString(`  "contact_info": "extracted contact or empty"` + "\n")
	sb.WriteString("}\n")
	sb.WriteString("Pricing values must be numbers.")
	return sb.String()
}

var _ domain.ProfileExtractor = (*Extractor)(nil)
