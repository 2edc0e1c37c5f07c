// Package decision turns negotiation context into structured decisions by
// prompting an LLM and validating its JSON reply.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"agent-market/internal/domain"
	"agent-market/internal/infra/tracer"
)

// Defaults used when the corresponding option is not set.
const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
)

// decisionSchema accepts both the current field names and the legacy
// "response"/"price_per_ticket" names some prompts still produce.
const decisionSchema = `{
  "type": "object",
  "properties": {
    "message":          {"type": "string", "minLength": 1},
    "response":         {"type": "string", "minLength": 1},
    "action":           {"type": "string", "enum": ["counter", "accept", "reject"]},
    "price":            {"type": "number", "minimum": 0},
    "price_per_ticket": {"type": "number", "minimum": 0},
    "reasoning":        {"type": "string"}
  },
  "required": ["action", "reasoning"],
  "allOf": [
    {"anyOf": [{"required": ["message"]}, {"required": ["response"]}]},
    {"anyOf": [{"required": ["price"]}, {"required": ["price_per_ticket"]}]}
  ]
}`

var compiledSchema = mustCompileSchema(decisionSchema)

func mustCompileSchema(s string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("decision: compile schema: %v", err))
	}
	return schema
}

// callConfig holds the completion settings shared by Oracle and Extractor.
type callConfig struct {
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// Option configures an Oracle or Extractor.
type Option func(*callConfig)

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(c *callConfig) { c.model = model }
}

// WithMaxTokens sets the completion budget per call.
func WithMaxTokens(n int) Option {
	return func(c *callConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *callConfig) { c.temperature = t }
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Oracle implements domain.DecisionOracle over an LLM provider.
type Oracle struct {
	callConfig
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewOracle creates a decision oracle backed by provider.
func NewOracle(provider domain.LLMProvider, logger *slog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		callConfig: callConfig{
			maxTokens:   defaultMaxTokens,
			temperature: defaultTemperature,
			timeout:     defaultTimeout,
		},
		provider: provider,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(&o.callConfig)
	}
	return o
}

// Decide implements domain.DecisionOracle. Provider failures and
// timeouts wrap ErrOracleFailed; replies that do not yield a valid
// decision additionally wrap ErrMalformedDecision.
func (o *Oracle) Decide(ctx context.Context, prompt domain.NegotiationPrompt) (_ *domain.Decision, err error) {
	ctx, span := tracer.StartSpan(ctx, "decision.decide",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", prompt.AgentID),
			tracer.StringAttr("agent.role", string(prompt.Role)),
			tracer.IntAttr("history.len", len(prompt.History)),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Chat(ctx, domain.ChatRequest{
		Model: o.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: renderSystem(prompt)},
			{Role: domain.RoleUser, Content: renderUser(prompt)},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return nil, domain.Classify(domain.ErrOracleFailed, err)
	}

	d, err := ParseDecision(resp.Message.Content)
	if err != nil {
		o.logger.Debug("decision reply rejected", "agent_id", prompt.AgentID, "error", err)
		return nil, err
	}
	span.SetAttributes(
		tracer.StringAttr("decision.action", string(d.Action)),
		tracer.Float64Attr("decision.price", d.Price),
	)
	return d, nil
}

// wireDecision is the JSON shape produced by the LLM.
type wireDecision struct {
	Message        string   `json:"message"`
	Response       string   `json:"response"`
	Action         string   `json:"action"`
	Price          *float64 `json:"price"`
	PricePerTicket *float64 `json:"price_per_ticket"`
	Reasoning      string   `json:"reasoning"`
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile("(?si)^```(?:json)?\\s*(.*?)\\s*```$")

// objectRe extracts the outermost brace-delimited span.
var objectRe = regexp.MustCompile(`(?s)\{.*\}`)

// stripCodeFences removes markdown code fences if the LLM wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseDecision extracts and validates a decision from raw LLM output.
func ParseDecision(raw string) (*domain.Decision, error) {
	raw = stripCodeFences(raw)
	obj := objectRe.FindString(raw)
	if obj == "" {
		return nil, fmt.Errorf("%w: %w: no JSON object in reply", domain.ErrOracleFailed, domain.ErrMalformedDecision)
	}

	var parsed any
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrOracleFailed, domain.ErrMalformedDecision, err)
	}
	if result := compiledSchema.Validate(parsed); !result.IsValid() {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrOracleFailed, domain.ErrMalformedDecision, result.Error())
	}

	var w wireDecision
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrOracleFailed, domain.ErrMalformedDecision, err)
	}

	d := &domain.Decision{
		Message:   w.Message,
		Action:    domain.Action(w.Action),
		Reasoning: w.Reasoning,
	}
	if d.Message == "" {
		d.Message = w.Response
	}
	switch {
	case w.Price != nil:
		d.Price = *w.Price
	case w.PricePerTicket != nil:
		d.Price = *w.PricePerTicket
	}
	return d, nil
}

var _ domain.DecisionOracle = (*Oracle)(nil)
