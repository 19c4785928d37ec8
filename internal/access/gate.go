// Package access centralizes per-user data isolation for the shared chat.
// Every pill and dose operation takes an Actor; ownership checks happen in
// one place instead of being re-implemented per command.
package access

import "github.com/nakedarizona/Pills-bot/internal/domain"

// Actor identifies who is performing an operation: a registered user or
// the system scope used by the reminder clock to iterate across users.
type Actor struct {
	userID int64
	system bool
}

// User returns an actor scoped to one registered user id.
func User(id int64) Actor {
	return Actor{userID: id}
}

// System returns the elevated scope. It is granted only to the reminder
// clock; derived operations still carry the owning user id.
func System() Actor {
	return Actor{system: true}
}

// UserID returns the acting user id (0 for the system scope).
func (a Actor) UserID() int64 { return a.userID }

// IsSystem reports whether the actor runs with elevated scope.
func (a Actor) IsSystem() bool { return a.system }

// Gate enforces that an actor only touches data it owns.
type Gate struct{}

// NewGate returns the isolation gate. It is stateless; having an explicit
// value keeps the dependency injectable and visible in constructors.
func NewGate() *Gate { return &Gate{} }

// Allow returns domain.ErrPermissionDenied unless the actor is the owner
// or runs with system scope.
func (g *Gate) Allow(a Actor, ownerID int64) error {
	if a.system || a.userID == ownerID {
		return nil
	}
	return domain.ErrPermissionDenied
}
