package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuffixRoleResolver(t *testing.T) {
	r := SuffixRoleResolver{Suffix: "_buyer"}

	tests := []struct {
		name    string
		profile *AgentProfile
		want    Role
	}{
		{"nil profile", nil, RoleSeller},
		{"plain id sells", &AgentProfile{AgentID: "V"}, RoleSeller},
		{"suffix buys", &AgentProfile{AgentID: "U_buyer"}, RoleBuyer},
		{"suffix must be at the end", &AgentProfile{AgentID: "U_buyer_x"}, RoleSeller},
		{"explicit role wins", &AgentProfile{AgentID: "U_buyer", Role: RoleSeller}, RoleSeller},
		{"invalid role ignored", &AgentProfile{AgentID: "V", Role: "broker"}, RoleSeller},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.profile))
		})
	}
}

func TestSuffixRoleResolverEmptySuffix(t *testing.T) {
	r := SuffixRoleResolver{}
	assert.Equal(t, RoleSeller, r.Resolve(&AgentProfile{AgentID: "U_buyer"}))
}

func TestRoleResolverFunc(t *testing.T) {
	var r RoleResolver = RoleResolverFunc(func(*AgentProfile) Role { return RoleBuyer })
	assert.Equal(t, RoleBuyer, r.Resolve(&AgentProfile{AgentID: "V"}))
}

func TestAgentProfileIsActive(t *testing.T) {
	assert.True(t, (&AgentProfile{Status: AgentActive}).IsActive())
	assert.False(t, (&AgentProfile{Status: AgentInactive}).IsActive())
	assert.False(t, (&AgentProfile{}).IsActive())
}

func TestAgentProfileJSON(t *testing.T) {
	p := AgentProfile{
		AgentID:      "A",
		Description:  "Parking spot downtown",
		Services:     []string{"parking"},
		Pricing:      map[string]float64{"hourly": 5},
		Status:       AgentActive,
		RegisteredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"agent_id":"A"`)
	assert.Contains(t, string(data), `"status":"active"`)
	assert.NotContains(t, string(data), `"role"`)
}
