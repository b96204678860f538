// Package app holds the session components that sit between the domain
// and the orchestrator: identity resolution, relay credentials, local
// media control and the observable state store.
package app

import "github.com/dkeye/televisit/internal/domain"

// IdentityResolver maps a session and a role to signaling addresses. Both
// parties recompute the same pair independently, so no lookup is needed.
type IdentityResolver struct{}

// Resolve returns the local address for role and the address the other
// party registers under.
func (IdentityResolver) Resolve(id domain.SessionID, role domain.Role) (local, remote domain.Address) {
	return addressOf(id, role), addressOf(id, role.Other())
}

func addressOf(id domain.SessionID, role domain.Role) domain.Address {
	return domain.Address(string(id) + ":" + string(role))
}
