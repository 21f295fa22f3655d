// Package identity creates and removes consultant accounts in the identity
// provider. AdminClient talks to a Keycloak-style admin REST API;
// MemoryProvider keeps accounts in process for dev mode and tests.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned when the username or email is already taken.
	ErrConflict = errors.New("identity user already exists")
	// ErrNotFound is returned when a user or role does not exist.
	ErrNotFound = errors.New("identity user not found")
	// ErrRoleNotAssigned is returned when a role mapping could not be verified.
	ErrRoleNotAssigned = errors.New("identity role not assigned")
	// ErrInvalidPassword is returned when a password does not match.
	ErrInvalidPassword = errors.New("invalid password")
)

// Attribute keys stored on identity users.
const (
	AttributeTenantID = "tenantId"
)

// User is the account data sent to the identity provider.
type User struct {
	Username   string
	Email      string
	FirstName  string
	LastName   string
	Attributes map[string][]string
}

// Provider manages identity accounts.
type Provider interface {
	// CreateUser creates the account and returns its id. Returns ErrConflict
	// when the username or email is taken.
	CreateUser(ctx context.Context, u *User) (string, error)

	// SetPassword replaces the password of the account.
	SetPassword(ctx context.Context, id, password string) error

	// AssignRole grants a realm role and verifies the mapping.
	AssignRole(ctx context.Context, id, role string) error

	// DeleteUser removes the account. Deleting a missing account succeeds.
	DeleteUser(ctx context.Context, id string) error
}
