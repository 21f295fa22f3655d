package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/userservice-go/internal/appctx"
	"github.com/MahdiBaghbani/userservice-go/internal/components/api"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/credentials"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/rollback"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant/provisioning"
	"github.com/MahdiBaghbani/userservice-go/internal/components/identity"
	"github.com/MahdiBaghbani/userservice-go/internal/components/saga"
)

// ConsultantProvisioner creates consultants.
type ConsultantProvisioner interface {
	CreateConsultant(ctx context.Context, req provisioning.CreateRequest, caller appctx.Tenant) (*provisioning.Result, error)
}

// MembershipRollback restores chat group membership.
type MembershipRollback interface {
	RollbackMembership(ctx context.Context, groupID string, previousMembers []string) []rollback.ReconciliationWarning
}

// CredentialStatus reports the credential pool.
type CredentialStatus interface {
	SystemUser() (*credentials.Credential, error)
	Status() []credentials.SlotStatus
}

// Handlers serves the admin endpoints.
type Handlers struct {
	Provisioner  ConsultantProvisioner
	Rollback     MembershipRollback
	Credentials  CredentialStatus
	MaxBodyBytes int64
}

// TransactionDetail is the JSON form of a failed provisioning saga.
type TransactionDetail struct {
	Saga               string          `json:"saga"`
	CompletedSteps     []saga.StepName `json:"completed_steps"`
	FailedStep         saga.StepName   `json:"failed_step"`
	Cause              string          `json:"cause"`
	CompensationErrors []string        `json:"compensation_errors,omitempty"`
}

// RollbackRequest is the body of the membership rollback endpoint.
type RollbackRequest struct {
	PreviousMembers []string `json:"previous_members"`
}

// RollbackResponse lists the operations that could not be applied.
type RollbackResponse struct {
	GroupID  string          `json:"group_id"`
	Warnings []WarningDetail `json:"warnings"`
}

// WarningDetail is the JSON form of a reconciliation warning.
type WarningDetail struct {
	Step   string `json:"step"`
	UserID string `json:"user_id,omitempty"`
	Error  string `json:"error"`
}

// CredentialsResponse is the body of GET /api/credentials.
type CredentialsResponse struct {
	Slots []credentials.SlotStatus `json:"slots"`
}

// CreateConsultant handles POST /api/consultants.
func (h *Handlers) CreateConsultant(w http.ResponseWriter, r *http.Request) {
	var req provisioning.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, _ := appctx.TenantFromContext(r.Context())
	res, err := h.Provisioner.CreateConsultant(r.Context(), req, caller)
	if err != nil {
		h.writeProvisioningError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, res)
}

// RollbackMembership handles POST /api/groups/{groupID}/membership/rollback.
func (h *Handlers) RollbackMembership(w http.ResponseWriter, r *http.Request) {
	groupID := strings.TrimSpace(chi.URLParam(r, "groupID"))
	if groupID == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "group id is required")
		return
	}

	var req RollbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.Credentials.SystemUser(); err != nil {
		api.WriteServiceUnavailable(w, api.ReasonCredentialsUnavailable, "chat credentials are not initialized")
		return
	}

	warnings := h.Rollback.RollbackMembership(r.Context(), groupID, req.PreviousMembers)

	resp := RollbackResponse{GroupID: groupID, Warnings: make([]WarningDetail, 0, len(warnings))}
	for _, wr := range warnings {
		d := WarningDetail{Step: wr.Step, UserID: wr.UserID}
		if wr.Err != nil {
			d.Error = wr.Err.Error()
		}
		resp.Warnings = append(resp.Warnings, d)
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// CredentialStatus handles GET /api/credentials.
func (h *Handlers) CredentialStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, CredentialsResponse{Slots: h.Credentials.Status()})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.ReasonBadRequest, "request body too large")
			return false
		}
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handlers) writeProvisioningError(w http.ResponseWriter, r *http.Request, err error) {
	log := appctx.GetLogger(r.Context())

	if verr, ok := consultant.AsValidationError(err); ok {
		status := http.StatusBadRequest
		if verr.ReasonCode == consultant.ReasonSeatLimitExceeded {
			status = http.StatusConflict
		}
		api.WriteError(w, status, verr.ReasonCode, verr.Message)
		return
	}

	if dte, ok := saga.AsDistributedTransaction(err); ok {
		status, reason := http.StatusBadGateway, api.ReasonDistributedTransaction
		if errors.Is(err, identity.ErrConflict) {
			status, reason = http.StatusConflict, api.ReasonConflict
		}
		log.Warn("consultant provisioning failed", "failed_step", dte.FailedStep, "error", err)
		api.WriteErrorDetail(w, status, api.ErrorDetail{
			ReasonCode:  reason,
			Message:     dte.Error(),
			Transaction: transactionDetail(dte),
		})
		return
	}

	if errors.Is(err, credentials.ErrCredentialsUninitialized) {
		api.WriteServiceUnavailable(w, api.ReasonCredentialsUnavailable, "chat credentials are not initialized")
		return
	}

	log.Error("consultant provisioning failed unexpectedly", "error", err)
	api.WriteInternalError(w, "consultant provisioning failed")
}

func transactionDetail(dte *saga.DistributedTransactionError) TransactionDetail {
	d := TransactionDetail{
		Saga:           dte.SagaName,
		CompletedSteps: dte.CompletedSteps,
		FailedStep:     dte.FailedStep,
	}
	if d.CompletedSteps == nil {
		d.CompletedSteps = []saga.StepName{}
	}
	if dte.Cause != nil && dte.Cause.Err != nil {
		d.Cause = dte.Cause.Err.Error()
	}
	for _, ce := range dte.CompensationErrors {
		d.CompensationErrors = append(d.CompensationErrors, ce.Error())
	}
	return d
}
