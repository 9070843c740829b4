package authguard

// Role is the access level derived from a user's profile metadata.
type Role string

const (
	// RoleUser is the baseline role every authenticated user has.
	RoleUser Role = "user"
	// RoleUnderwriter can access underwriting views plus everything a user can.
	RoleUnderwriter Role = "underwriter"
	// RoleAdmin can access every protected view.
	RoleAdmin Role = "admin"
)

var roleHierarchy = map[Role]int{
	RoleUser:        0,
	RoleUnderwriter: 1,
	RoleAdmin:       2,
}

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level.
// Unknown roles never satisfy anything and are never satisfied.
func (r Role) IsAtLeast(minRole Role) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

func (r Role) String() string {
	return string(r)
}

// AllRoles returns all predefined roles in hierarchical order
func AllRoles() []Role {
	return []Role{
		RoleUser,
		RoleUnderwriter,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}

// ResolveRole derives the role for a user from its profile metadata.
// Missing or unrecognized values resolve to RoleUser.
func ResolveRole(user *User) Role {
	if user == nil {
		return RoleUser
	}

	if role, ok := ParseRole(user.Metadata.Role); ok {
		return role
	}

	return RoleUser
}

// HasAccess reports whether currentRole satisfies requiredRole.
//
//	admin       -> admin, underwriter, user
//	underwriter -> underwriter, user
//	user        -> user
func HasAccess(currentRole, requiredRole Role) bool {
	return currentRole.IsAtLeast(requiredRole)
}
