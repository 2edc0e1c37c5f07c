package gateway

import (
	"crypto/subtle"

	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name  string
	Admin bool
}

// Authenticator validates incoming gateway requests.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.GatewayToken) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, len(tokens))}
	for i, t := range tokens {
		a.entries[i] = authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name, Admin: t.Admin},
		}
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrUnauthorized
}

// OpenAuth admits every request as an anonymous admin. It is used when no
// tokens are configured.
type OpenAuth struct{}

// Authenticate implements Authenticator.
func (OpenAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous", Admin: true}, nil
}

// NewAuthenticator returns StaticTokenAuth, or OpenAuth when tokens is empty.
func NewAuthenticator(tokens []config.GatewayToken) Authenticator {
	if len(tokens) == 0 {
		return OpenAuth{}
	}
	return NewStaticTokenAuth(tokens)
}
