package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/MahdiBaghbani/userservice-go/internal/components/chat"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/metrics"
)

// SessionClient opens and closes chat sessions.
type SessionClient interface {
	Login(ctx context.Context, username, password string, firstLogin bool) (chat.Auth, error)
	Logout(ctx context.Context, auth chat.Auth) (bool, error)
}

// Account is the login of one privileged role.
type Account struct {
	Username string
	Password string
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Client    SessionClient
	Technical Account
	System    Account
	// Clock stamps CreatedAt; defaults to the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// Validate checks that the config is usable.
func (c PoolConfig) Validate() error {
	if c.Client == nil {
		return errors.New("credentials: nil session client")
	}
	if c.Technical.Username == "" {
		return errors.New("credentials: technical username is required")
	}
	if c.System.Username == "" {
		return errors.New("credentials: system username is required")
	}
	return nil
}

// slotPair holds the two slots of a role. seq is odd while a writer is
// changing a slot; readers retry until they see the same even value on
// both sides of their loads.
type slotPair struct {
	a, b atomic.Pointer[Credential]
	seq  atomic.Uint64
}

// load returns a consistent snapshot of both slots.
func (p *slotPair) load() (a, b *Credential) {
	for {
		seq := p.seq.Load()
		if seq&1 == 1 {
			runtime.Gosched()
			continue
		}
		a, b = p.a.Load(), p.b.Load()
		if p.seq.Load() == seq {
			return a, b
		}
	}
}

// set replaces slot s. Only the rotating goroutine of the role writes.
func (p *slotPair) set(s Slot, cred *Credential) *Credential {
	p.seq.Add(1)
	prev := p.slot(s).Swap(cred)
	p.seq.Add(1)
	return prev
}

func (p *slotPair) slot(s Slot) *atomic.Pointer[Credential] {
	if s == SlotA {
		return &p.a
	}
	return &p.b
}

// Pool holds two credential slots per role. Readers never block; Rotate
// calls are serialized among themselves.
type Pool struct {
	client   SessionClient
	accounts map[Role]Account
	pairs    map[Role]*slotPair
	clock    clock.Clock
	logger   *slog.Logger

	rotateMu sync.Mutex
}

// NewPool creates a pool with every slot empty. Call Rotate (or run a
// Rotator) to fill it.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	p := &Pool{
		client: cfg.Client,
		accounts: map[Role]Account{
			RoleTechnical: cfg.Technical,
			RoleSystem:    cfg.System,
		},
		pairs:  make(map[Role]*slotPair, len(Roles)),
		clock:  clk,
		logger: logutil.NoopIfNil(cfg.Logger),
	}
	for _, r := range Roles {
		p.pairs[r] = &slotPair{}
	}
	return p, nil
}

// Get returns the newest credential of role, or ErrCredentialsUninitialized.
func (p *Pool) Get(role Role) (*Credential, error) {
	pair, ok := p.pairs[role]
	if !ok {
		return nil, fmt.Errorf("credentials: unknown role %q", role)
	}
	a, b := pair.load()
	switch Newest(a, b) {
	case SlotA:
		return a, nil
	case SlotB:
		return b, nil
	default:
		return nil, fmt.Errorf("%w: role %s", ErrCredentialsUninitialized, role)
	}
}

// TechnicalUser returns the current technical credential.
func (p *Pool) TechnicalUser() (*Credential, error) {
	return p.Get(RoleTechnical)
}

// SystemUser returns the current system credential.
func (p *Pool) SystemUser() (*Credential, error) {
	return p.Get(RoleSystem)
}

// Rotate refreshes every role concurrently. Per role it retires the older
// credential when both slots are set, then logs in every empty slot one at a
// time. A failed login leaves its slot empty until the next call. The
// returned error joins every failure and is meant for logging.
func (p *Pool) Rotate(ctx context.Context) error {
	p.rotateMu.Lock()
	defer p.rotateMu.Unlock()

	errs := make([]error, len(Roles))
	var g errgroup.Group
	for i, role := range Roles {
		g.Go(func() error {
			errs[i] = p.rotateRole(ctx, role)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Pool) rotateRole(ctx context.Context, role Role) error {
	pair := p.pairs[role]
	log := p.logger.With("role", string(role))

	if old := Older(pair.a.Load(), pair.b.Load()); old != SlotNone {
		// Cleared before logout so no reader picks up a dying token.
		cred := pair.set(old, nil)
		metrics.CredentialSlotsFilled.WithLabelValues(string(role), old.String()).Set(0)
		if cred != nil {
			p.logout(ctx, log, role, old, cred)
		}
	}

	var errs []error
	for _, s := range []Slot{SlotA, SlotB} {
		if pair.slot(s).Load() != nil {
			continue
		}
		cred, err := p.login(ctx, role)
		metrics.CredentialRotations.WithLabelValues(string(role), s.String(), "login", metrics.Outcome(err)).Inc()
		if err != nil {
			log.Warn("chat credential login failed, slot stays empty until next rotation",
				"slot", s.String(), "username", p.accounts[role].Username, "error", err)
			errs = append(errs, fmt.Errorf("role %s slot %s: %w", role, s, err))
			continue
		}
		pair.set(s, cred)
		metrics.CredentialSlotsFilled.WithLabelValues(string(role), s.String()).Set(1)
		log.Debug("chat credential refreshed", "slot", s.String(), "username", cred.Username)
	}
	return errors.Join(errs...)
}

func (p *Pool) login(ctx context.Context, role Role) (*Credential, error) {
	acct := p.accounts[role]
	createdAt := p.clock.Now().UTC()
	auth, err := p.client.Login(ctx, acct.Username, acct.Password, false)
	if err != nil {
		return nil, err
	}
	return &Credential{
		Token:        auth.Token,
		RemoteUserID: auth.UserID,
		Username:     acct.Username,
		CreatedAt:    createdAt,
	}, nil
}

func (p *Pool) logout(ctx context.Context, log *slog.Logger, role Role, s Slot, cred *Credential) {
	ok, err := p.client.Logout(ctx, cred.Auth())
	if err == nil && !ok {
		err = errors.New("logout not confirmed")
	}
	metrics.CredentialRotations.WithLabelValues(string(role), s.String(), "logout", metrics.Outcome(err)).Inc()
	if err != nil {
		log.Warn("chat credential logout failed", "slot", s.String(), "username", cred.Username, "error", err)
	}
}

// SlotStatus describes one slot without its token.
type SlotStatus struct {
	Role         Role       `json:"role"`
	Slot         string     `json:"slot"`
	Filled       bool       `json:"filled"`
	Username     string     `json:"username,omitempty"`
	RemoteUserID string     `json:"remote_user_id,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	Active       bool       `json:"active"`
}

// Status snapshots every slot. Active marks the slot Get would return.
func (p *Pool) Status() []SlotStatus {
	out := make([]SlotStatus, 0, 2*len(Roles))
	for _, role := range Roles {
		a, b := p.pairs[role].load()
		active := Newest(a, b)
		for _, s := range []Slot{SlotA, SlotB} {
			cred := a
			if s == SlotB {
				cred = b
			}
			st := SlotStatus{Role: role, Slot: s.String(), Active: s == active}
			if cred != nil {
				created := cred.CreatedAt
				st.Filled = true
				st.Username = cred.Username
				st.RemoteUserID = cred.RemoteUserID
				st.CreatedAt = &created
			}
			out = append(out, st)
		}
	}
	return out
}
