// Copyright 2025 AidTrace Project
//
// Principal identity as seen by the core. Authentication itself lives
// at the transport boundary; the core only consumes the resolved
// identity and role.

package principal

// Roles recognized by the core.
const (
	RoleAdmin       = "Admin"
	RoleCoordinator = "Coordinator"
	RoleRecipient   = "Recipient"
	RoleValidator   = "Validator"
)

// Principal is a resolved, authenticated actor.
type Principal struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicKey string `json:"public_key,omitempty"`
}

// HasRole reports whether the principal holds one of the given roles.
func (p *Principal) HasRole(roles ...string) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}
