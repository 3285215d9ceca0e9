package auth

import "strings"

// Role names recognized by the ownership checks.
const (
	RoleAdmin    = "admin"
	RoleAssessor = "assessor"
	RoleViewer   = "viewer"
	defaultRole  = RoleAssessor
)

// Identity describes the authenticated caller as extracted from a backend token.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

// IsAdmin reports whether the identity bypasses tenant ownership checks.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Normalized returns a copy with trimmed fields and a defaulted role.
func (i Identity) Normalized() Identity {
	normalized := Identity{
		UserID:   strings.TrimSpace(i.UserID),
		TenantID: strings.TrimSpace(i.TenantID),
		Role:     strings.TrimSpace(i.Role),
	}
	if normalized.Role == "" {
		normalized.Role = defaultRole
	}
	return normalized
}
