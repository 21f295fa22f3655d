// Package chat is a client for the Rocket.Chat style REST API of the chat
// platform. Every call takes the credential to act as; the client holds none.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

var (
	// ErrLogin is returned when the platform refuses a login.
	ErrLogin = errors.New("chat login failed")
	// ErrRejected is returned when a 2xx response reports success=false.
	ErrRejected = errors.New("chat platform rejected request")
)

// Auth is a chat session: the remote user id and its auth token.
type Auth struct {
	UserID string
	Token  string
}

// Client talks to the chat platform under BaseURL (which ends in /api/v1).
type Client struct {
	baseURL    string
	httpClient *httpclient.Client
	logger     *slog.Logger
}

// NewClient creates a chat platform client.
func NewClient(baseURL string, httpClient *httpclient.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logutil.NoopIfNil(logger),
	}
}

// statusResponse is the envelope every endpoint shares.
type statusResponse struct {
	Success   *bool  `json:"success,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (s statusResponse) failed() bool {
	return (s.Success != nil && !*s.Success) || s.Status == "error"
}

func (s statusResponse) reason() string {
	for _, v := range []string{s.Error, s.Message, s.ErrorType} {
		if v != "" {
			return v
		}
	}
	return "unspecified"
}

type loginResponse struct {
	statusResponse
	Data struct {
		AuthToken string `json:"authToken"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

type ldapLogin struct {
	LDAP        bool           `json:"ldap"`
	Username    string         `json:"username"`
	LDAPPass    string         `json:"ldapPass"`
	LDAPOptions map[string]any `json:"ldapOptions"`
}

// Login opens a session for username. A first login goes through the LDAP
// login variant, which also creates the chat account.
func (c *Client) Login(ctx context.Context, username, password string, firstLogin bool) (Auth, error) {
	c.logger.Debug("chat login", "username", username, "first_login", firstLogin)

	var out loginResponse
	var err error

	if firstLogin {
		_, err = c.httpClient.SendJSON(ctx, http.MethodPost, c.baseURL+"/login", nil, ldapLogin{
			LDAP:        true,
			Username:    username,
			LDAPPass:    password,
			LDAPOptions: map[string]any{},
		}, &out)
	} else {
		form := url.Values{}
		form.Set("username", username)
		form.Set("password", password)
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
		if rerr != nil {
			return Auth{}, fmt.Errorf("%w: %v", httpclient.ErrInvalidURL, rerr)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		var resp *httpclient.Response
		resp, err = c.httpClient.Send(ctx, req)
		if err == nil {
			err = resp.DecodeJSON(&out)
		}
	}
	if err != nil {
		return Auth{}, fmt.Errorf("%w for %s: %w", ErrLogin, username, err)
	}
	if out.failed() {
		return Auth{}, fmt.Errorf("%w for %s: %s", ErrLogin, username, out.reason())
	}
	if out.Data.UserID == "" || out.Data.AuthToken == "" {
		return Auth{}, fmt.Errorf("%w for %s: response carries no session", ErrLogin, username)
	}

	return Auth{UserID: out.Data.UserID, Token: out.Data.AuthToken}, nil
}

// Logout ends the session. It reports whether the platform confirmed the logout.
func (c *Client) Logout(ctx context.Context, auth Auth) (bool, error) {
	var out statusResponse
	if _, err := c.httpClient.SendJSON(ctx, http.MethodPost, c.baseURL+"/logout", authHeader(auth), nil, &out); err != nil {
		return false, fmt.Errorf("failed to log out chat user %s: %w", auth.UserID, err)
	}
	if out.failed() {
		return false, fmt.Errorf("%w: logout of %s: %s", ErrRejected, auth.UserID, out.reason())
	}
	return true, nil
}

type membersResponse struct {
	statusResponse
	Members []struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
	} `json:"members"`
}

// GroupMembers returns the remote user ids of every member of a private group.
func (c *Client) GroupMembers(ctx context.Context, auth Auth, groupID string) ([]string, error) {
	q := url.Values{}
	q.Set("roomId", groupID)
	q.Set("count", "0")

	var out membersResponse
	if _, err := c.httpClient.SendJSON(ctx, http.MethodGet, c.baseURL+"/groups.members?"+q.Encode(), authHeader(auth), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get members of group %s: %w", groupID, err)
	}
	if out.failed() {
		return nil, fmt.Errorf("%w: members of group %s: %s", ErrRejected, groupID, out.reason())
	}

	ids := make([]string, 0, len(out.Members))
	for _, m := range out.Members {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

type groupUserRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// AddUserToGroup invites userID into the private group.
func (c *Client) AddUserToGroup(ctx context.Context, auth Auth, userID, groupID string) error {
	return c.groupUserOp(ctx, auth, "/groups.invite", userID, groupID)
}

// RemoveUserFromGroup kicks userID out of the private group.
func (c *Client) RemoveUserFromGroup(ctx context.Context, auth Auth, userID, groupID string) error {
	return c.groupUserOp(ctx, auth, "/groups.kick", userID, groupID)
}

func (c *Client) groupUserOp(ctx context.Context, auth Auth, path, userID, groupID string) error {
	var out statusResponse
	body := groupUserRequest{RoomID: groupID, UserID: userID}
	if _, err := c.httpClient.SendJSON(ctx, http.MethodPost, c.baseURL+path, authHeader(auth), body, &out); err != nil {
		return fmt.Errorf("%s user %s group %s: %w", strings.TrimPrefix(path, "/"), userID, groupID, err)
	}
	if out.failed() {
		return fmt.Errorf("%w: %s user %s group %s: %s", ErrRejected, strings.TrimPrefix(path, "/"), userID, groupID, out.reason())
	}
	return nil
}

func authHeader(auth Auth) http.Header {
	h := http.Header{}
	h.Set("X-Auth-Token", auth.Token)
	h.Set("X-User-Id", auth.UserID)
	return h
}
