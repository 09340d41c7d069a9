package auth

import "strings"

// Role is the storefront role relevant to support calls.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSupport  Role = "support"
)

// SupportIdentity is the shared mailbox name of the support side. Every support
// principal sends and drains as this identity.
const SupportIdentity = "support"

// Principal is the authenticated caller. It is passed explicitly to every
// signaling and chat operation instead of being read from ambient state.
type Principal struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Identity is the signaling identity: the customer's email or SupportIdentity.
func (p Principal) Identity() string {
	if p.Role == RoleSupport {
		return SupportIdentity
	}
	return NormalizeEmail(p.Email)
}

func (p Principal) IsSupport() bool { return p.Role == RoleSupport }

// Valid reports whether the principal carries the fields signaling needs.
func (p Principal) Valid() bool {
	if p.Role != RoleCustomer && p.Role != RoleSupport {
		return false
	}
	return NormalizeEmail(p.Email) != ""
}

// NormalizeEmail lowercases and trims an email so identities compare reliably.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
