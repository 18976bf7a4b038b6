package trust

// UserRole is the user's authorization role
type UserRole string

const (
	// RoleMember is the baseline role assigned when none is set
	RoleMember UserRole = "member"
	// RoleAdmin is the elevated role, bypasses ownership checks
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is one of the predefined roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsElevated reports whether the role skips resource ownership checks
func (r UserRole) IsElevated() bool {
	return r == RoleAdmin
}

func (r UserRole) String() string {
	return string(r)
}

// ParseRole safely parses a string into a UserRole
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}

func roleOrDefault(r UserRole) UserRole {
	if r == "" {
		return RoleMember
	}
	return r
}
