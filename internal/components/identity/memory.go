package identity

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

type memoryUser struct {
	user         User
	passwordHash string
	roles        []string
}

// MemoryProvider is an in-process Provider. Usernames and emails are unique
// case-insensitively.
type MemoryProvider struct {
	mu     sync.RWMutex
	users  map[string]*memoryUser // id -> user
	roles  map[string]bool
	hasher *Hasher
	log    *slog.Logger
}

// NewMemoryProvider creates a provider that knows the given realm roles.
// A nil hasher uses NewHasher.
func NewMemoryProvider(hasher *Hasher, log *slog.Logger, roles ...string) *MemoryProvider {
	if hasher == nil {
		hasher = NewHasher()
	}
	p := &MemoryProvider{
		users:  make(map[string]*memoryUser),
		roles:  make(map[string]bool, len(roles)),
		hasher: hasher,
		log:    logutil.NoopIfNil(log),
	}
	for _, r := range roles {
		p.roles[r] = true
	}
	return p
}

// CreateUser stores u under a new UUIDv7.
func (p *MemoryProvider) CreateUser(ctx context.Context, u *User) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.users {
		if strings.EqualFold(existing.user.Username, u.Username) {
			return "", fmt.Errorf("%w: username %s", ErrConflict, u.Username)
		}
		if u.Email != "" && strings.EqualFold(existing.user.Email, u.Email) {
			return "", fmt.Errorf("%w: email %s", ErrConflict, u.Email)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate user id: %w", err)
	}
	stored := *u
	stored.Attributes = maps.Clone(u.Attributes)
	p.users[id.String()] = &memoryUser{user: stored}
	p.log.Debug("identity user created", "identity_user_id", id.String(), "username", u.Username)
	return id.String(), nil
}

// SetPassword hashes and stores password.
func (p *MemoryProvider) SetPassword(ctx context.Context, id, password string) error {
	hash, err := p.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	mu, ok := p.users[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	mu.passwordHash = hash
	return nil
}

// AssignRole grants a known role.
func (p *MemoryProvider) AssignRole(ctx context.Context, id, role string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mu, ok := p.users[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.roles[role] {
		return fmt.Errorf("%w: role %s does not exist", ErrRoleNotAssigned, role)
	}
	if !slices.Contains(mu.roles, role) {
		mu.roles = append(mu.roles, role)
	}
	return nil
}

// DeleteUser removes the account if present.
func (p *MemoryProvider) DeleteUser(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, id)
	return nil
}

// Authenticate returns the id of the account matching username and password.
func (p *MemoryProvider) Authenticate(ctx context.Context, username, password string) (string, error) {
	p.mu.RLock()
	var id, hash string
	for uid, mu := range p.users {
		if strings.EqualFold(mu.user.Username, username) {
			id, hash = uid, mu.passwordHash
			break
		}
	}
	p.mu.RUnlock()

	if id == "" {
		return "", ErrNotFound
	}
	if err := p.hasher.Verify(hash, password); err != nil {
		return "", err
	}
	return id, nil
}

// User returns a copy of the stored account and its roles.
func (p *MemoryProvider) User(id string) (*User, []string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mu, ok := p.users[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	u := mu.user
	u.Attributes = maps.Clone(mu.user.Attributes)
	return &u, slices.Clone(mu.roles), nil
}

// Len returns the number of stored accounts.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

var _ Provider = (*MemoryProvider)(nil)
