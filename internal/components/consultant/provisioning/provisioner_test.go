package provisioning_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/MahdiBaghbani/userservice-go/internal/appctx"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/chattest"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant/provisioning"
	"github.com/MahdiBaghbani/userservice-go/internal/components/identity"
	"github.com/MahdiBaghbani/userservice-go/internal/components/saga"
	"github.com/MahdiBaghbani/userservice-go/internal/components/scheduling"
	"github.com/MahdiBaghbani/userservice-go/internal/components/tenant"
	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"
	storemem "github.com/MahdiBaghbani/userservice-go/internal/platform/store/memory"
)

// faultyIdentity wraps the memory provider with per-operation failures.
type faultyIdentity struct {
	*identity.MemoryProvider
	mu              sync.Mutex
	failSetPassword error
	failAssignRole  error
	deletes         []string
}

func (f *faultyIdentity) SetPassword(ctx context.Context, id, password string) error {
	if f.failSetPassword != nil {
		return f.failSetPassword
	}
	return f.MemoryProvider.SetPassword(ctx, id, password)
}

func (f *faultyIdentity) AssignRole(ctx context.Context, id, role string) error {
	if f.failAssignRole != nil {
		return f.failAssignRole
	}
	return f.MemoryProvider.AssignRole(ctx, id, role)
}

func (f *faultyIdentity) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	f.mu.Unlock()
	return f.MemoryProvider.DeleteUser(ctx, id)
}

type fakeScheduling struct {
	err        error
	registered []scheduling.ConsultantSummary
}

func (s *fakeScheduling) RegisterConsultant(_ context.Context, c scheduling.ConsultantSummary) error {
	if s.err != nil {
		return s.err
	}
	s.registered = append(s.registered, c)
	return nil
}

type fakeSeats struct {
	err     error
	checked []string
}

func (s *fakeSeats) Check(_ context.Context, tenantID string) error {
	s.checked = append(s.checked, tenantID)
	return s.err
}

type env struct {
	idp   *faultyIdentity
	chat  *chattest.Server
	db    *storemem.Driver
	sched *fakeScheduling
	seats *fakeSeats
	cfg   provisioning.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		idp: &faultyIdentity{MemoryProvider: identity.NewMemoryProvider(
			identity.NewHasherFast(), nil, "consultant", "group-chat-consultant")},
		chat:  chattest.NewServer(t),
		db:    storemem.New(),
		sched: &fakeScheduling{},
		seats: &fakeSeats{},
	}
	e.cfg = provisioning.Config{
		Identity: e.idp,
		Chat:     chat.NewClient(e.chat.BaseURL(), httpclient.New(nil), nil),
		Store:    e.db,
		Clock:    testclock.NewClock(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)),
	}
	return e
}

func (e *env) provisioner(t *testing.T) *provisioning.Provisioner {
	t.Helper()
	p, err := provisioning.New(e.cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func validRequest() provisioning.CreateRequest {
	return provisioning.CreateRequest{
		Username:  "ada.lovelace",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.org",
		Languages: []string{"de", "en"},
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := provisioning.New(provisioning.Config{}); err == nil {
		t.Error("expected error without collaborators")
	}
	e := newEnv(t)
	e.cfg.Multitenancy = true
	if _, err := provisioning.New(e.cfg); err == nil {
		t.Error("expected error for multitenancy without seat checker")
	}
}

func TestCreateConsultant_Success(t *testing.T) {
	e := newEnv(t)
	e.cfg.Scheduling = e.sched
	p := e.provisioner(t)
	req := validRequest()
	req.IsGroupchatConsultant = true

	res, err := p.CreateConsultant(context.Background(), req, appctx.Tenant{})
	if err != nil {
		t.Fatalf("CreateConsultant failed: %v", err)
	}

	wantSteps := []saga.StepName{
		provisioning.StepCreateIdentityAccount,
		provisioning.StepSetPassword,
		provisioning.StepAssignRoles,
		provisioning.StepCreateChatAccount,
		provisioning.StepPersistLocally,
		provisioning.StepRegisterSchedulingService,
	}
	if !slices.Equal(res.CompletedSteps, wantSteps) {
		t.Errorf("expected steps %v, got %v", wantSteps, res.CompletedSteps)
	}
	if res.Username != consultant.EncodeUsername("ada.lovelace") {
		t.Errorf("expected encoded username, got %q", res.Username)
	}

	_, roles, err := e.idp.User(res.ConsultantID)
	if err != nil {
		t.Fatalf("identity user missing: %v", err)
	}
	if !slices.Contains(roles, "consultant") || !slices.Contains(roles, "group-chat-consultant") {
		t.Errorf("expected both roles, got %v", roles)
	}

	if got := e.chat.UserID(res.Username); got == "" || got != res.ChatUserID {
		t.Errorf("expected chat account %q, got %q", res.ChatUserID, got)
	}
	if e.chat.ActiveSessions() != 0 {
		t.Errorf("expected the first chat session to be logged out, got %d", e.chat.ActiveSessions())
	}

	rec, err := e.db.GetConsultant(context.Background(), res.ConsultantID)
	if err != nil {
		t.Fatalf("GetConsultant failed: %v", err)
	}
	if rec.Status != store.StatusInProgress || !rec.NotificationsEnabled || rec.Locale != "de" || rec.Languages != "de,en" {
		t.Errorf("unexpected record defaults: %+v", rec)
	}
	if rec.ChatUserID != res.ChatUserID || rec.CreatedAt == 0 {
		t.Errorf("unexpected record: %+v", rec)
	}

	if len(e.sched.registered) != 1 || e.sched.registered[0].ID != res.ConsultantID {
		t.Errorf("expected scheduling registration, got %+v", e.sched.registered)
	}
}

func TestCreateConsultant_SchedulingDisabledSkipsStep(t *testing.T) {
	e := newEnv(t)
	p := e.provisioner(t)

	res, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{})
	if err != nil {
		t.Fatalf("CreateConsultant failed: %v", err)
	}
	if slices.Contains(res.CompletedSteps, provisioning.StepRegisterSchedulingService) {
		t.Errorf("scheduling step must not run when disabled, got %v", res.CompletedSteps)
	}
}

func TestCreateConsultant_PasswordFailureRollsBackIdentity(t *testing.T) {
	e := newEnv(t)
	e.idp.failSetPassword = errors.New("password policy")
	p := e.provisioner(t)

	_, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{})
	dte, ok := saga.AsDistributedTransaction(err)
	if !ok {
		t.Fatalf("expected DistributedTransactionError, got %v", err)
	}
	if !slices.Equal(dte.CompletedSteps, []saga.StepName{provisioning.StepCreateIdentityAccount}) {
		t.Errorf("expected completed [CreateIdentityAccount], got %v", dte.CompletedSteps)
	}
	if dte.FailedStep != provisioning.StepSetPassword {
		t.Errorf("expected failed SetPassword, got %s", dte.FailedStep)
	}
	if e.idp.Len() != 0 || len(e.idp.deletes) != 1 {
		t.Errorf("expected identity account deleted, %d left, deletes %v", e.idp.Len(), e.idp.deletes)
	}
	if len(e.chat.Calls()) != 0 {
		t.Errorf("chat platform must not be touched, got %v", e.chat.Calls())
	}
}

func TestCreateConsultant_SchedulingFailureRollsBackEverything(t *testing.T) {
	e := newEnv(t)
	errDown := errors.New("scheduling down")
	e.sched.err = errDown
	e.cfg.Scheduling = e.sched
	p := e.provisioner(t)

	_, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{})
	dte, ok := saga.AsDistributedTransaction(err)
	if !ok {
		t.Fatalf("expected DistributedTransactionError, got %v", err)
	}
	if dte.FailedStep != provisioning.StepRegisterSchedulingService || len(dte.CompletedSteps) != 5 {
		t.Errorf("unexpected failure record: %+v", dte)
	}
	if !errors.Is(err, errDown) {
		t.Errorf("expected collaborator error in chain, got %v", err)
	}
	if len(dte.CompensationErrors) != 0 {
		t.Errorf("expected clean compensation, got %v", dte.CompensationErrors)
	}

	if e.idp.Len() != 0 {
		t.Errorf("expected identity account deleted, %d left", e.idp.Len())
	}
	if len(e.idp.deletes) != 1 {
		t.Fatalf("expected one identity delete, got %v", e.idp.deletes)
	}
	if _, err := e.db.GetConsultant(context.Background(), e.idp.deletes[0]); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected local record removed, got %v", err)
	}
	// The chat account has no compensation and stays behind.
	if e.chat.UserID(consultant.EncodeUsername("ada.lovelace")) == "" {
		t.Error("expected chat account to be left in place")
	}
}

func TestCreateConsultant_AssignRoleFailure(t *testing.T) {
	e := newEnv(t)
	e.idp.failAssignRole = identity.ErrRoleNotAssigned
	p := e.provisioner(t)

	_, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{})
	dte, ok := saga.AsDistributedTransaction(err)
	if !ok || dte.FailedStep != provisioning.StepAssignRoles || len(dte.CompletedSteps) != 2 {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, identity.ErrRoleNotAssigned) {
		t.Errorf("expected ErrRoleNotAssigned in chain, got %v", err)
	}
}

func TestCreateConsultant_DuplicateUsername(t *testing.T) {
	e := newEnv(t)
	p := e.provisioner(t)
	ctx := context.Background()

	if _, err := p.CreateConsultant(ctx, validRequest(), appctx.Tenant{}); err != nil {
		t.Fatalf("first CreateConsultant failed: %v", err)
	}
	_, err := p.CreateConsultant(ctx, validRequest(), appctx.Tenant{})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	dte, _ := saga.AsDistributedTransaction(err)
	if dte.FailedStep != provisioning.StepCreateIdentityAccount || len(dte.CompletedSteps) != 0 {
		t.Errorf("unexpected failure record: %+v", dte)
	}
	if e.idp.Len() != 1 {
		t.Errorf("existing account must survive, got %d accounts", e.idp.Len())
	}
}

func TestCreateConsultant_ChatFailureRollsBackIdentity(t *testing.T) {
	e := newEnv(t)
	e.chat.FailLogin(consultant.EncodeUsername("ada.lovelace"), true)
	p := e.provisioner(t)

	_, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{})
	dte, ok := saga.AsDistributedTransaction(err)
	if !ok || dte.FailedStep != provisioning.StepCreateChatAccount {
		t.Fatalf("expected chat step failure, got %v", err)
	}
	if !errors.Is(err, chat.ErrLogin) {
		t.Errorf("expected ErrLogin in chain, got %v", err)
	}
	if e.idp.Len() != 0 {
		t.Error("expected identity account deleted")
	}
}

type panickingChat struct{}

func (panickingChat) Login(context.Context, string, string, bool) (chat.Auth, error) {
	panic("chat client crashed")
}

func (panickingChat) Logout(context.Context, chat.Auth) (bool, error) { return true, nil }

func TestCreateConsultant_ChatPanicRollsBackIdentity(t *testing.T) {
	e := newEnv(t)
	e.cfg.Chat = panickingChat{}
	p := e.provisioner(t)

	_, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{})
	dte, ok := saga.AsDistributedTransaction(err)
	if !ok || dte.FailedStep != provisioning.StepCreateChatAccount {
		t.Fatalf("expected chat step failure, got %v", err)
	}
	if e.idp.Len() != 0 {
		t.Errorf("expected identity account deleted, got %d accounts", e.idp.Len())
	}
}

func TestRollbackCreateConsultant_Idempotent(t *testing.T) {
	e := newEnv(t)
	p := e.provisioner(t)
	ctx := context.Background()

	id, err := e.idp.CreateUser(ctx, &identity.User{Username: "x"})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	for i := range 2 {
		if err := p.RollbackCreateConsultant(ctx, id); err != nil {
			t.Fatalf("rollback %d failed: %v", i+1, err)
		}
	}
	if err := p.RollbackCreateConsultant(ctx, ""); err != nil {
		t.Errorf("expected empty id to be a no-op, got %v", err)
	}
}

func TestCreateConsultant_ValidationHappensBeforeMutation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*provisioning.CreateRequest)
		caller appctx.Tenant
		multi  bool
		seats  error
		reason string
	}{
		{"missing email", func(r *provisioning.CreateRequest) { r.Email = " " }, appctx.Tenant{}, false, nil, consultant.ReasonMissingField},
		{"missing last name", func(r *provisioning.CreateRequest) { r.LastName = "" }, appctx.Tenant{}, false, nil, consultant.ReasonMissingField},
		{"short username", func(r *provisioning.CreateRequest) { r.Username = "abc" }, appctx.Tenant{}, false, nil, consultant.ReasonInvalidUsername},
		{"absent without message", func(r *provisioning.CreateRequest) { r.Absent = true }, appctx.Tenant{}, false, nil, consultant.ReasonMissingAbsenceMessage},
		{"super admin without tenant", func(r *provisioning.CreateRequest) {}, appctx.Tenant{SuperAdmin: true}, true, nil, consultant.ReasonTenantRequired},
		{"tenant mismatch", func(r *provisioning.CreateRequest) { r.TenantID = "2" }, appctx.Tenant{ID: "1"}, true, nil, consultant.ReasonTenantMismatch},
		{"seat limit", func(r *provisioning.CreateRequest) {}, appctx.Tenant{ID: "1"}, true,
			fmt.Errorf("%w: full", tenant.ErrSeatLimitExceeded), consultant.ReasonSeatLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.cfg.Multitenancy = tt.multi
			e.cfg.Seats = e.seats
			e.seats.err = tt.seats
			p := e.provisioner(t)

			req := validRequest()
			tt.mutate(&req)
			_, err := p.CreateConsultant(context.Background(), req, tt.caller)

			ve, ok := consultant.AsValidationError(err)
			if !ok || ve.ReasonCode != tt.reason {
				t.Fatalf("expected reason %s, got %v", tt.reason, err)
			}
			if e.idp.Len() != 0 || len(e.chat.Calls()) != 0 {
				t.Error("validation failure must not touch external systems")
			}
		})
	}
}

func TestCreateConsultant_TenantResolution(t *testing.T) {
	tests := []struct {
		name       string
		requested  string
		caller     appctx.Tenant
		wantTenant string
	}{
		{"super admin picks tenant", "7", appctx.Tenant{ID: "1", SuperAdmin: true}, "7"},
		{"caller tenant by default", "", appctx.Tenant{ID: "3"}, "3"},
		{"matching tenant", "3", appctx.Tenant{ID: "3"}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.cfg.Multitenancy = true
			e.cfg.Seats = e.seats
			p := e.provisioner(t)

			req := validRequest()
			req.TenantID = tt.requested
			res, err := p.CreateConsultant(context.Background(), req, tt.caller)
			if err != nil {
				t.Fatalf("CreateConsultant failed: %v", err)
			}
			if res.TenantID != tt.wantTenant || !slices.Equal(e.seats.checked, []string{tt.wantTenant}) {
				t.Errorf("expected tenant %s, got %s (checked %v)", tt.wantTenant, res.TenantID, e.seats.checked)
			}
			u, _, _ := e.idp.User(res.ConsultantID)
			if got := u.Attributes[identity.AttributeTenantID]; !slices.Equal(got, []string{tt.wantTenant}) {
				t.Errorf("expected tenant attribute %s, got %v", tt.wantTenant, got)
			}
		})
	}
}

func TestCreateConsultant_TenantIgnoredWithoutMultitenancy(t *testing.T) {
	e := newEnv(t)
	p := e.provisioner(t)
	req := validRequest()
	req.TenantID = "9"

	res, err := p.CreateConsultant(context.Background(), req, appctx.Tenant{ID: "1"})
	if err != nil {
		t.Fatalf("CreateConsultant failed: %v", err)
	}
	if res.TenantID != "" || len(e.seats.checked) != 0 {
		t.Errorf("expected tenant ignored, got %q", res.TenantID)
	}
}

func TestCreateConsultant_SeatServiceErrorIsNotValidation(t *testing.T) {
	e := newEnv(t)
	e.cfg.Multitenancy = true
	e.cfg.Seats = e.seats
	e.seats.err = tenant.ErrTenantNotFound
	p := e.provisioner(t)

	_, err := p.CreateConsultant(context.Background(), validRequest(), appctx.Tenant{ID: "1"})
	if _, ok := consultant.AsValidationError(err); ok || !errors.Is(err, tenant.ErrTenantNotFound) {
		t.Errorf("expected wrapped ErrTenantNotFound, got %v", err)
	}
}
