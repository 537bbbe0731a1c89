package auth

import (
	"fmt"
	"strings"
)

// Role is a capability name granted to operators and API clients.
type Role string

const (
	// RoleAdmin grants the operator console and every manager operation.
	RoleAdmin Role = "ADMIN"

	// RoleUser is a plain signed-in identity. It can sign out and call
	// authenticated API endpoints but cannot reach the console.
	RoleUser Role = "USER"
)

// ValidRoles is the set of roles accepted on stored accounts.
var ValidRoles = []Role{RoleAdmin, RoleUser}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRoles splits a comma-separated role list, as stored in the database.
// Blank entries are skipped; unknown roles are rejected with ErrInvalidRole.
func ParseRoles(s string) ([]Role, error) {
	var roles []Role
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		r := Role(part)
		if !IsValidRole(r) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, part)
		}
		if !containsRole(roles, r) {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

// FormatRoles joins roles for storage.
func FormatRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func containsRole(roles []Role, r Role) bool {
	for _, v := range roles {
		if v == r {
			return true
		}
	}
	return false
}
