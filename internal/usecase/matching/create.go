package matching

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agent-market/internal/domain"
	"agent-market/internal/infra/tracer"
)

// CreateRequest registers an agent from a free-text description.
type CreateRequest struct {
	AgentID     string
	Description string
	Role        domain.Role
}

// CreateResult pairs the extracted profile with where it was indexed.
type CreateResult struct {
	Profile      *domain.ExtractedProfile `json:"profile"`
	Registration *RegisterResult          `json:"registration"`
}

// Create extracts a structured profile from the description and
// registers it. Nothing is stored when extraction fails.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (_ *CreateResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "matching.create",
		trace.WithAttributes(tracer.StringAttr("agent.id", req.AgentID)),
	)
	defer func() { tracer.Finish(span, err) }()

	if e.deps.Extractor == nil {
		return nil, domain.NewDomainError("Matching.Create", domain.ErrProviderUnavail, "profile extraction is not configured")
	}
	if err := validateRegister(RegisterRequest{AgentID: req.AgentID, Description: req.Description, Role: req.Role}); err != nil {
		return nil, err
	}

	profile, err := e.deps.Extractor.Extract(ctx, req.Description)
	if err != nil {
		return nil, domain.Classify(domain.ErrExtractionFailed, err)
	}

	reg, err := e.Register(ctx, RegisterRequest{
		AgentID:     req.AgentID,
		Description: profile.Description,
		Services:    profile.Services,
		Pricing:     profile.Pricing,
		Role:        req.Role,
	})
	if err != nil {
		return nil, err
	}
	e.deps.Logger.Info("agent created from description",
		"agent_id", req.AgentID,
		"name", strings.TrimSpace(profile.Name),
		"services", len(profile.Services),
	)
	return &CreateResult{Profile: profile, Registration: reg}, nil
}
