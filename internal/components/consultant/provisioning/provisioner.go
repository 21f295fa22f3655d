// Package provisioning creates consultants across the identity provider, the
// chat platform, the local store and the scheduling service as one saga.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/MahdiBaghbani/userservice-go/internal/appctx"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant"
	"github.com/MahdiBaghbani/userservice-go/internal/components/identity"
	"github.com/MahdiBaghbani/userservice-go/internal/components/saga"
	"github.com/MahdiBaghbani/userservice-go/internal/components/scheduling"
	"github.com/MahdiBaghbani/userservice-go/internal/components/tenant"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/metrics"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"
)

// SagaName labels the create saga in logs, metrics and errors.
const SagaName = "create_consultant"

// Step names of the create saga.
const (
	StepCreateIdentityAccount     saga.StepName = "CreateIdentityAccount"
	StepSetPassword               saga.StepName = "SetPassword"
	StepAssignRoles               saga.StepName = "AssignRoles"
	StepCreateChatAccount         saga.StepName = "CreateChatAccount"
	StepPersistLocally            saga.StepName = "PersistLocally"
	StepRegisterSchedulingService saga.StepName = "RegisterSchedulingService"
)

// ChatAccounts opens the first session of a new consultant, which creates
// the chat account.
type ChatAccounts interface {
	Login(ctx context.Context, username, password string, firstLogin bool) (chat.Auth, error)
	Logout(ctx context.Context, auth chat.Auth) (bool, error)
}

// SchedulingRegistrar registers consultants with the scheduling service.
type SchedulingRegistrar interface {
	RegisterConsultant(ctx context.Context, s scheduling.ConsultantSummary) error
}

// SeatChecker fails with tenant.ErrSeatLimitExceeded when a tenant is full.
type SeatChecker interface {
	Check(ctx context.Context, tenantID string) error
}

// Config wires a Provisioner.
type Config struct {
	Identity identity.Provider
	Chat     ChatAccounts
	Store    store.ConsultantStore

	// Scheduling is nil when the scheduling integration is disabled.
	Scheduling SchedulingRegistrar

	// Multitenancy enables tenant checks; Seats is required with it.
	Multitenancy bool
	Seats        SeatChecker

	ConsultantRole string
	GroupChatRole  string
	DefaultLocale  string

	CompensationTimeout time.Duration
	Clock               clock.Clock
	Logger              *slog.Logger
}

// Validate checks required collaborators and applies defaults.
func (c *Config) Validate() error {
	if c.Identity == nil || c.Chat == nil || c.Store == nil {
		return errors.New("provisioning: identity, chat and store are required")
	}
	if c.Multitenancy && c.Seats == nil {
		return errors.New("provisioning: multitenancy requires a seat checker")
	}
	if c.ConsultantRole == "" {
		c.ConsultantRole = "consultant"
	}
	if c.GroupChatRole == "" {
		c.GroupChatRole = "group-chat-consultant"
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "de"
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	return nil
}

// CreateRequest is the admin input for a new consultant.
type CreateRequest struct {
	Username              string   `json:"username"`
	FirstName             string   `json:"first_name"`
	LastName              string   `json:"last_name"`
	Email                 string   `json:"email"`
	TenantID              string   `json:"tenant_id,omitempty"`
	Absent                bool     `json:"absent"`
	AbsenceMessage        string   `json:"absence_message,omitempty"`
	FormalLanguage        bool     `json:"formal_language"`
	Languages             []string `json:"languages,omitempty"`
	Locale                string   `json:"locale,omitempty"`
	IsGroupchatConsultant bool     `json:"is_groupchat_consultant"`
}

// Result describes a provisioned consultant.
type Result struct {
	ConsultantID   string          `json:"id"`
	Username       string          `json:"username"`
	ChatUserID     string          `json:"chat_user_id"`
	TenantID       string          `json:"tenant_id,omitempty"`
	CompletedSteps []saga.StepName `json:"completed_steps"`
}

// state is the per-request provisioning context.
type state struct {
	IdentityUserID string
	ChatUserID     string
	PersistedID    string
	Password       string
}

// Provisioner runs the create saga.
type Provisioner struct {
	cfg    Config
	runner *saga.Runner
	log    *slog.Logger
}

// New creates a Provisioner.
func New(cfg Config) (*Provisioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logutil.NoopIfNil(cfg.Logger)
	return &Provisioner{
		cfg: cfg,
		runner: saga.NewRunner(saga.Config{
			Name:                SagaName,
			CompensationTimeout: cfg.CompensationTimeout,
			Logger:              log,
		}),
		log: log.With("saga", SagaName),
	}, nil
}

// CreateConsultant validates req for caller and runs the saga. Validation
// failures are *consultant.ValidationError and happen before any external
// mutation. Step failures are *saga.DistributedTransactionError after the
// completed steps were compensated.
func (p *Provisioner) CreateConsultant(ctx context.Context, req CreateRequest, caller appctx.Tenant) (*Result, error) {
	tenantID, err := p.checkPreconditions(ctx, req, caller)
	if err != nil {
		if _, ok := consultant.AsValidationError(err); ok {
			metrics.SagaRuns.WithLabelValues(SagaName, "validation_failed").Inc()
		}
		return nil, err
	}

	username := consultant.EncodeUsername(req.Username)
	st := &state{}
	log := p.log.With("username", username)

	steps := []saga.Step{
		{
			Name: StepCreateIdentityAccount,
			Action: func(ctx context.Context) error {
				u := &identity.User{
					Username:  username,
					Email:     strings.TrimSpace(req.Email),
					FirstName: strings.TrimSpace(req.FirstName),
					LastName:  strings.TrimSpace(req.LastName),
				}
				if tenantID != "" {
					u.Attributes = map[string][]string{identity.AttributeTenantID: {tenantID}}
				}
				id, err := p.cfg.Identity.CreateUser(ctx, u)
				if err != nil {
					return err
				}
				st.IdentityUserID = id
				log.Info("identity account created", "step", StepCreateIdentityAccount, "identity_user_id", id)
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return p.RollbackCreateConsultant(ctx, st.IdentityUserID)
			},
		},
		{
			Name: StepSetPassword,
			Action: func(ctx context.Context) error {
				pw, err := consultant.GeneratePassword()
				if err != nil {
					return err
				}
				st.Password = pw
				return p.cfg.Identity.SetPassword(ctx, st.IdentityUserID, pw)
			},
		},
		{
			Name: StepAssignRoles,
			Action: func(ctx context.Context) error {
				roles := []string{p.cfg.ConsultantRole}
				if req.IsGroupchatConsultant {
					roles = append(roles, p.cfg.GroupChatRole)
				}
				for _, role := range roles {
					if err := p.cfg.Identity.AssignRole(ctx, st.IdentityUserID, role); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name: StepCreateChatAccount,
			Action: func(ctx context.Context) error {
				auth, err := p.cfg.Chat.Login(ctx, username, st.Password, true)
				if err != nil {
					return err
				}
				st.ChatUserID = auth.UserID
				log.Info("chat account created", "step", StepCreateChatAccount,
					"identity_user_id", st.IdentityUserID, "chat_user_id", auth.UserID)
				if ok, err := p.cfg.Chat.Logout(ctx, auth); err != nil || !ok {
					log.Warn("logout of new chat session failed", "chat_user_id", auth.UserID, "error", err)
				}
				return nil
			},
		},
		{
			Name: StepPersistLocally,
			Action: func(ctx context.Context) error {
				rec := p.record(req, username, tenantID, st)
				if err := p.cfg.Store.SaveConsultant(ctx, rec); err != nil {
					return err
				}
				st.PersistedID = rec.ID
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return p.cfg.Store.DeleteConsultant(ctx, st.PersistedID)
			},
		},
	}

	if p.cfg.Scheduling != nil {
		steps = append(steps, saga.Step{
			Name: StepRegisterSchedulingService,
			Action: func(ctx context.Context) error {
				return p.cfg.Scheduling.RegisterConsultant(ctx, scheduling.ConsultantSummary{
					ID:        st.IdentityUserID,
					Username:  username,
					FirstName: strings.TrimSpace(req.FirstName),
					LastName:  strings.TrimSpace(req.LastName),
					Email:     strings.TrimSpace(req.Email),
					Absent:    req.Absent,
					TenantID:  tenantID,
				})
			},
		})
	}

	completed, err := p.runner.Run(ctx, steps)
	if err != nil {
		if st.ChatUserID != "" {
			log.Warn("chat account left in place after failed provisioning",
				"identity_user_id", st.IdentityUserID, "chat_user_id", st.ChatUserID)
		}
		return nil, err
	}

	log.Info("consultant provisioned", "identity_user_id", st.IdentityUserID, "chat_user_id", st.ChatUserID)
	return &Result{
		ConsultantID:   st.IdentityUserID,
		Username:       username,
		ChatUserID:     st.ChatUserID,
		TenantID:       tenantID,
		CompletedSteps: completed,
	}, nil
}

func (p *Provisioner) record(req CreateRequest, username, tenantID string, st *state) *store.Consultant {
	locale := req.Locale
	if locale == "" {
		locale = p.cfg.DefaultLocale
	}
	languages := req.Languages
	if len(languages) == 0 {
		languages = []string{locale}
	}
	rec := &store.Consultant{
		ID:                    st.IdentityUserID,
		Username:              username,
		FirstName:             strings.TrimSpace(req.FirstName),
		LastName:              strings.TrimSpace(req.LastName),
		Email:                 strings.TrimSpace(req.Email),
		TenantID:              tenantID,
		ChatUserID:            st.ChatUserID,
		Absent:                req.Absent,
		AbsenceMessage:        req.AbsenceMessage,
		LanguageFormal:        req.FormalLanguage,
		Languages:             strings.Join(languages, ","),
		Locale:                locale,
		IsGroupchatConsultant: req.IsGroupchatConsultant,
		Status:                store.StatusInProgress,
		NotificationsEnabled:  true,
	}
	rec.Touch(p.cfg.Clock.Now())
	return rec
}

// RollbackCreateConsultant deletes the identity account created by a failed
// run. Deleting an account that no longer exists succeeds.
func (p *Provisioner) RollbackCreateConsultant(ctx context.Context, identityUserID string) error {
	if identityUserID == "" {
		return nil
	}
	if err := p.cfg.Identity.DeleteUser(ctx, identityUserID); err != nil {
		return fmt.Errorf("failed to roll back identity account %s: %w", identityUserID, err)
	}
	p.log.Info("identity account rolled back", "identity_user_id", identityUserID)
	return nil
}

// checkPreconditions validates req and returns the effective tenant id.
func (p *Provisioner) checkPreconditions(ctx context.Context, req CreateRequest, caller appctx.Tenant) (string, error) {
	for _, f := range []struct{ name, value string }{
		{"username", req.Username},
		{"email", req.Email},
		{"first_name", req.FirstName},
		{"last_name", req.LastName},
	} {
		if strings.TrimSpace(f.value) == "" {
			return "", consultant.Invalid(consultant.ReasonMissingField, "%s is required", f.name)
		}
	}

	plain, err := consultant.DecodeUsername(req.Username)
	if err != nil {
		return "", &consultant.ValidationError{ReasonCode: consultant.ReasonInvalidUsername, Message: "username cannot be decoded", Err: err}
	}
	if n := len([]rune(plain)); n < consultant.UsernameMinLength || n > consultant.UsernameMaxLength {
		return "", consultant.Invalid(consultant.ReasonInvalidUsername,
			"username must be between %d and %d characters", consultant.UsernameMinLength, consultant.UsernameMaxLength)
	}

	tenantID, err := p.effectiveTenant(req, caller)
	if err != nil {
		return "", err
	}

	if p.cfg.Multitenancy {
		if err := p.cfg.Seats.Check(ctx, tenantID); err != nil {
			if errors.Is(err, tenant.ErrSeatLimitExceeded) {
				return "", &consultant.ValidationError{
					ReasonCode: consultant.ReasonSeatLimitExceeded,
					Message:    fmt.Sprintf("tenant %s has no free consultant seat", tenantID),
					Err:        err,
				}
			}
			return "", fmt.Errorf("failed to check seats of tenant %s: %w", tenantID, err)
		}
	}

	if req.Absent && strings.TrimSpace(req.AbsenceMessage) == "" {
		return "", consultant.Invalid(consultant.ReasonMissingAbsenceMessage, "absence message is required for an absent consultant")
	}
	return tenantID, nil
}

func (p *Provisioner) effectiveTenant(req CreateRequest, caller appctx.Tenant) (string, error) {
	if !p.cfg.Multitenancy {
		return "", nil
	}
	requested := strings.TrimSpace(req.TenantID)
	if caller.SuperAdmin {
		if requested == "" {
			return "", consultant.Invalid(consultant.ReasonTenantRequired, "tenant super admin must supply a tenant id")
		}
		return requested, nil
	}
	if caller.ID == "" {
		return "", consultant.Invalid(consultant.ReasonTenantRequired, "caller has no tenant")
	}
	if requested != "" && requested != caller.ID {
		return "", consultant.Invalid(consultant.ReasonTenantMismatch, "tenant id %s does not match caller tenant", requested)
	}
	return caller.ID, nil
}
