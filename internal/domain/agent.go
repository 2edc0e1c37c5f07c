package domain

import (
	"context"
	"strings"
	"time"
)

// AgentStatus is the lifecycle state of a marketplace profile.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// Role is the side an agent plays in a negotiation.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Valid reports whether r is a known negotiating role.
func (r Role) Valid() bool { return r == RoleBuyer || r == RoleSeller }

// AgentProfile is a registered marketplace participant.
type AgentProfile struct {
	AgentID      string             `json:"agent_id"`
	Description  string             `json:"description"`
	Services     []string           `json:"services,omitempty"`
	Pricing      map[string]float64 `json:"pricing,omitempty"`
	Role         Role               `json:"role,omitempty"` // empty = derived by the RoleResolver
	Status       AgentStatus        `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IsActive reports whether the profile may appear in match results.
func (p *AgentProfile) IsActive() bool { return p.Status == AgentActive }

// AgentRegistry persists agent profiles keyed by agent ID.
//
// Rows returns profiles in index row order: the binding for row i is
// written only after the vector at row i was saved, so a row without a
// binding (divergence) is simply absent from the result. Only an agent's
// newest row resolves; rows left by earlier registrations are absent too.
type AgentRegistry interface {
	Upsert(ctx context.Context, profile *AgentProfile) error
	Get(ctx context.Context, agentID string) (*AgentProfile, error)
	SetStatus(ctx context.Context, agentID string, status AgentStatus) error
	// List enumerates every profile ordered by first-registration sequence.
	List(ctx context.Context) ([]*AgentProfile, error)
	// BindRow records that index row belongs to agentID.
	BindRow(ctx context.Context, row int, agentID string) error
	// Rows resolves index rows to their bound profiles, newest row per agent only.
	Rows(ctx context.Context, rows []int) (map[int]*AgentProfile, error)
	// Reset removes all profiles and row bindings and returns the number of profiles removed.
	Reset(ctx context.Context) (int, error)
}

// ExtractedProfile is the structured form of a free-text agent description.
type ExtractedProfile struct {
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description"`
	Services    []string           `json:"services,omitempty"`
	Pricing     map[string]float64 `json:"pricing,omitempty"`
	Location    string             `json:"location,omitempty"`
	ContactInfo string             `json:"contact_info,omitempty"`
}

// ProfileExtractor turns a free-text description into a structured profile.
// Failures wrap ErrExtractionFailed.
type ProfileExtractor interface {
	Extract(ctx context.Context, description string) (*ExtractedProfile, error)
}

// RoleResolver decides the negotiating role of an agent.
type RoleResolver interface {
	Resolve(profile *AgentProfile) Role
}

// SuffixRoleResolver derives the role from a suffix on the agent ID:
// IDs ending in Suffix are buyers, everything else sells. An explicit
// Role on the profile wins over the suffix.
type SuffixRoleResolver struct {
	Suffix string
}

// Resolve implements RoleResolver.
func (r SuffixRoleResolver) Resolve(profile *AgentProfile) Role {
	if profile == nil {
		return RoleSeller
	}
	if profile.Role.Valid() {
		return profile.Role
	}
	if r.Suffix != "" && strings.HasSuffix(profile.AgentID, r.Suffix) {
		return RoleBuyer
	}
	return RoleSeller
}

// RoleResolverFunc adapts a plain function to RoleResolver.
type RoleResolverFunc func(profile *AgentProfile) Role

// Resolve implements RoleResolver.
func (f RoleResolverFunc) Resolve(profile *AgentProfile) Role { return f(profile) }
