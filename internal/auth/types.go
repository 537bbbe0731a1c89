package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern limits operator usernames and API client names to
// alphanumerics, dots, hyphens and underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username or client name meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// PrincipalKind says which regime authenticated a Principal.
type PrincipalKind string

const (
	// KindOperator is a human signed in through the interactive console.
	// Operators are bound to a server-side session.
	KindOperator PrincipalKind = "operator"

	// KindAPIClient is a machine caller validated on every request.
	KindAPIClient PrincipalKind = "api_client"
)

// Principal is the resolved identity attached to a request after authentication.
type Principal struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      PrincipalKind `json:"kind"`
	Roles     []Role        `json:"roles"`
	SessionID string        `json:"-"`
}

// HasRole reports whether the principal carries the given capability.
func (p *Principal) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Operator is an interactive console account.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"` // never serialised
	Roles        []Role    `json:"roles"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal returns the request identity for a signed-in operator.
func (o *Operator) Principal(sessionID string) *Principal {
	return &Principal{
		ID:        o.ID,
		Name:      o.Username,
		Kind:      KindOperator,
		Roles:     append([]Role(nil), o.Roles...),
		SessionID: sessionID,
	}
}

// APIClient is a machine credential for the programmatic chain.
type APIClient struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"` // never serialised
	Roles      []Role     `json:"roles"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Principal returns the request identity for an authenticated API client.
func (c *APIClient) Principal() *Principal {
	return &Principal{
		ID:    c.ID,
		Name:  c.Name,
		Kind:  KindAPIClient,
		Roles: append([]Role(nil), c.Roles...),
	}
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnsupportedScheme  = errors.New("unsupported authorization scheme")
	ErrOperatorNotFound   = errors.New("operator not found")
	ErrOperatorInactive   = errors.New("operator account is inactive")
	ErrClientNotFound     = errors.New("api client not found")
	ErrClientInactive     = errors.New("api client is inactive")
	ErrNameExists         = errors.New("name already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrTokenInvalid       = errors.New("invalid token")
)
