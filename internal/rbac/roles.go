package rbac

import "support-calls/internal/auth"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCustomer = auth.RoleCustomer
	RoleSupport  = auth.RoleSupport
)

func IsSupport(role auth.Role) bool { return role == RoleSupport }

// ParseRole maps a wire role to a known role. Unknown roles are rejected.
func ParseRole(s string) (auth.Role, bool) {
	switch auth.Role(s) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleSupport:
		return RoleSupport, true
	default:
		return "", false
	}
}
