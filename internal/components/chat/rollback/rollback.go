// Package rollback restores chat group membership after a failed
// destructive operation. Restoration is best effort: every failed sub-step
// is reported as a warning and the remaining steps still run.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MahdiBaghbani/userservice-go/internal/components/chat"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/credentials"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/metrics"
)

// Step names used in warnings and metrics.
const (
	StepGetMembers          = "get_members"
	StepAddTechnicalUser    = "add_technical_user"
	StepReaddMember         = "readd_member"
	StepRemoveTechnicalUser = "remove_technical_user"
)

// GroupClient is the subset of the chat API the coordinator needs.
type GroupClient interface {
	GroupMembers(ctx context.Context, auth chat.Auth, groupID string) ([]string, error)
	AddUserToGroup(ctx context.Context, auth chat.Auth, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, auth chat.Auth, userID, groupID string) error
}

// CredentialSource hands out the privileged sessions. *credentials.Pool
// implements it.
type CredentialSource interface {
	TechnicalUser() (*credentials.Credential, error)
	SystemUser() (*credentials.Credential, error)
}

// MembershipSnapshot is the member set of a group at one point in time.
type MembershipSnapshot struct {
	GroupID string   `json:"group_id"`
	Members []string `json:"members"`
}

// ReconciliationWarning records one failed rollback sub-step.
type ReconciliationWarning struct {
	GroupID string
	Step    string
	UserID  string
	Err     error
}

func (w ReconciliationWarning) Error() string {
	if w.UserID != "" {
		return fmt.Sprintf("rollback %s of group %s for user %s: %v", w.Step, w.GroupID, w.UserID, w.Err)
	}
	return fmt.Sprintf("rollback %s of group %s: %v", w.Step, w.GroupID, w.Err)
}

func (w ReconciliationWarning) Unwrap() error { return w.Err }

// Coordinator restores group membership.
type Coordinator struct {
	client GroupClient
	creds  CredentialSource
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(client GroupClient, creds CredentialSource, logger *slog.Logger) *Coordinator {
	return &Coordinator{client: client, creds: creds, logger: logutil.NoopIfNil(logger)}
}

// Snapshot captures the current members of a group.
func (c *Coordinator) Snapshot(ctx context.Context, groupID string) (*MembershipSnapshot, error) {
	sys, err := c.creds.SystemUser()
	if err != nil {
		return nil, err
	}
	members, err := c.client.GroupMembers(ctx, sys.Auth(), groupID)
	if err != nil {
		return nil, fmt.Errorf("snapshot group %s: %w", groupID, err)
	}
	return &MembershipSnapshot{GroupID: groupID, Members: members}, nil
}

// RollbackMembership re-adds every member of previousMembers that is no
// longer in the group. The technical account joins the group for the
// duration of the repair unless it already was a previous member. Members
// already present are left alone. The returned warnings are also logged.
func (c *Coordinator) RollbackMembership(ctx context.Context, groupID string, previousMembers []string) []ReconciliationWarning {
	r := &run{groupID: groupID, log: c.logger.With("group_id", groupID)}
	previousMembers = uniqueMembers(previousMembers)

	var sysAuth *chat.Auth
	if sys, err := c.creds.SystemUser(); err != nil {
		r.warn(StepGetMembers, "", err)
	} else {
		a := sys.Auth()
		sysAuth = &a
	}

	var current []string
	if sysAuth != nil {
		members, err := c.client.GroupMembers(ctx, *sysAuth, groupID)
		if err != nil {
			r.warn(StepGetMembers, "", err)
		} else {
			current = members
		}
	}

	tech, err := c.creds.TechnicalUser()
	if err != nil {
		for _, id := range previousMembers {
			if !slices.Contains(current, id) {
				r.warn(StepReaddMember, id, err)
			}
		}
		return r.warnings
	}
	techID := tech.RemoteUserID

	if !slices.Contains(current, techID) {
		if sysAuth == nil {
			r.warn(StepAddTechnicalUser, techID, credentials.ErrCredentialsUninitialized)
		} else if err := c.client.AddUserToGroup(ctx, *sysAuth, techID, groupID); err != nil {
			r.warn(StepAddTechnicalUser, techID, err)
		}
	}

	for _, id := range previousMembers {
		if slices.Contains(current, id) || id == techID {
			continue
		}
		if err := c.client.AddUserToGroup(ctx, tech.Auth(), id, groupID); err != nil {
			r.warn(StepReaddMember, id, err)
			continue
		}
		r.log.Debug("member restored", "user_id", id)
	}

	if !slices.Contains(previousMembers, techID) {
		if sysAuth == nil {
			r.warn(StepRemoveTechnicalUser, techID, credentials.ErrCredentialsUninitialized)
		} else if err := c.client.RemoveUserFromGroup(ctx, *sysAuth, techID, groupID); err != nil {
			r.warn(StepRemoveTechnicalUser, techID, err)
		}
	}

	if len(r.warnings) > 0 {
		r.log.Warn("group membership rollback incomplete", "warnings", len(r.warnings))
	}
	return r.warnings
}

// uniqueMembers drops repeated and empty ids, keeping first-seen order.
func uniqueMembers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type run struct {
	groupID  string
	log      *slog.Logger
	warnings []ReconciliationWarning
}

func (r *run) warn(step, userID string, err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	w := ReconciliationWarning{GroupID: r.groupID, Step: step, UserID: userID, Err: err}
	r.warnings = append(r.warnings, w)
	metrics.ReconciliationWarnings.WithLabelValues(step).Inc()
	r.log.Warn("group membership rollback step failed", "step", step, "user_id", userID, "error", err)
}
