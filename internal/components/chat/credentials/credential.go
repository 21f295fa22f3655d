// Package credentials keeps a hot pair of chat sessions per privileged
// account so that callers always find a valid token while the pair rotates.
package credentials

import (
	"errors"
	"time"

	"github.com/MahdiBaghbani/userservice-go/internal/components/chat"
)

// ErrCredentialsUninitialized is returned by Get while both slots of a role are empty.
var ErrCredentialsUninitialized = errors.New("chat credentials not initialized")

// Role names a privileged chat account.
type Role string

const (
	// RoleTechnical adds and removes group members.
	RoleTechnical Role = "technical"
	// RoleSystem reads group membership and manages the technical account.
	RoleSystem Role = "system"
)

// Roles lists every role the pool manages.
var Roles = []Role{RoleTechnical, RoleSystem}

// Slot identifies one half of a slot pair.
type Slot int

const (
	SlotNone Slot = iota
	SlotA
	SlotB
)

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	default:
		return "none"
	}
}

// Credential is an authenticated chat session. It is never mutated after
// construction; rotation swaps whole values.
type Credential struct {
	Token        string
	RemoteUserID string
	Username     string
	CreatedAt    time.Time
}

// Auth returns the session headers for chat calls.
func (c *Credential) Auth() chat.Auth {
	return chat.Auth{UserID: c.RemoteUserID, Token: c.Token}
}

// Newest picks the slot to hand out: the only set slot, or the later
// CreatedAt. Equal timestamps pick B. Returns SlotNone when both are nil.
func Newest(a, b *Credential) Slot {
	switch {
	case a == nil && b == nil:
		return SlotNone
	case a == nil:
		return SlotB
	case b == nil:
		return SlotA
	case a.CreatedAt.After(b.CreatedAt):
		return SlotA
	default:
		return SlotB
	}
}

// Older picks the slot to retire. It returns SlotNone unless both slots are
// set, so retiring never empties a role. Equal timestamps pick A.
func Older(a, b *Credential) Slot {
	if a == nil || b == nil {
		return SlotNone
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return SlotB
	}
	return SlotA
}
