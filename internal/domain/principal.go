package domain

import "strings"

// Role is an authorization role asserted by the upstream gateway.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleOperations Role = "OPERATIONS"
	RoleViewer     Role = "VIEWER"
)

// Principal is the caller on whose behalf an operation runs.
type Principal struct {
	Username string
	Roles    []Role
}

func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanMutate reports whether the caller may retry, acknowledge, resolve or cancel.
func (p Principal) CanMutate() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleOperations)
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// ParseRoles parses a comma separated role list, dropping unknown entries.
func ParseRoles(raw string) []Role {
	parts := strings.Split(raw, ",")
	roles := make([]Role, 0, len(parts))
	for _, part := range parts {
		role := Role(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(part)), "ROLE_"))
		switch role {
		case RoleAdmin, RoleOperations, RoleViewer:
			roles = append(roles, role)
		}
	}
	return roles
}
