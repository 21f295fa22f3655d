package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/juju/clock"
	"golang.org/x/sync/singleflight"

	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

const (
	// tokenSkew is subtracted from the token expiry before it is reused,
	// capped at half the token lifetime.
	tokenSkew = 30 * time.Second
	// defaultTokenLifetime applies when the token carries no expiry at all.
	defaultTokenLifetime = time.Minute
)

// Signature algorithms accepted when reading the admin token's claims.
var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.ES256, jose.ES384,
	jose.HS256, jose.HS384, jose.HS512,
}

// AdminClientConfig configures an AdminClient.
type AdminClientConfig struct {
	BaseURL      string
	Realm        string
	AdminRealm   string
	ClientID     string
	ClientSecret string
	HTTPClient   *httpclient.Client
	Clock        clock.Clock
	Logger       *slog.Logger
}

// AdminClient is a Provider backed by a Keycloak-style admin REST API.
// It authenticates with the client credentials grant and caches the token.
type AdminClient struct {
	cfg    AdminClientConfig
	base   string
	http   *httpclient.Client
	clock  clock.Clock
	logger *slog.Logger

	fetch       singleflight.Group
	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAdminClient creates an AdminClient. AdminRealm defaults to Realm.
func NewAdminClient(cfg AdminClientConfig) (*AdminClient, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" {
		return nil, errors.New("identity: base url and realm are required")
	}
	if cfg.AdminRealm == "" {
		cfg.AdminRealm = cfg.Realm
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &AdminClient{
		cfg:    cfg,
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		http:   cfg.HTTPClient,
		clock:  cfg.Clock,
		logger: logutil.NoopIfNil(cfg.Logger),
	}, nil
}

func (c *AdminClient) realmURL(parts ...string) string {
	segs := []string{c.base, "admin", "realms", url.PathEscape(c.cfg.Realm)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *AdminClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiry := c.token, c.tokenExpiry
	c.mu.Unlock()
	if token != "" && c.clock.Now().Before(expiry) {
		return token, nil
	}

	// Concurrent callers share one fetch; each still honours its own ctx.
	ch := c.fetch.DoChan("token", func() (any, error) {
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *AdminClient) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	tokenURL := c.base + "/realms/" + url.PathEscape(c.cfg.AdminRealm) + "/protocol/openid-connect/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", httpclient.ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	now := c.clock.Now()
	resp, err := c.http.Send(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to obtain admin token: %w", err)
	}
	var tr tokenResponse
	if err := resp.DecodeJSON(&tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", errors.New("failed to obtain admin token: empty access_token")
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = reuseUntil(tokenExpiry(tr, now), now)
	c.mu.Unlock()
	return tr.AccessToken, nil
}

// reuseUntil backs the expiry off by tokenSkew, never by more than half
// the remaining lifetime.
func reuseUntil(expiry, now time.Time) time.Time {
	skew := min(tokenSkew, expiry.Sub(now)/2)
	if skew < 0 {
		skew = 0
	}
	return expiry.Add(-skew)
}

// tokenExpiry reads the unverified exp claim, falling back to expires_in
// and then to defaultTokenLifetime.
func tokenExpiry(tr tokenResponse, now time.Time) time.Time {
	if tok, err := jwt.ParseSigned(tr.AccessToken, tokenAlgorithms); err == nil {
		var claims jwt.Claims
		if err := tok.UnsafeClaimsWithoutVerification(&claims); err == nil && claims.Expiry != nil {
			return claims.Expiry.Time()
		}
	}
	if tr.ExpiresIn <= 0 {
		return now.Add(defaultTokenLifetime)
	}
	return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
}

func (c *AdminClient) send(ctx context.Context, method, rawURL string, in, out any) (*httpclient.Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return c.http.SendJSON(ctx, method, rawURL, h, in, out)
}

type userRepresentation struct {
	Username      string              `json:"username"`
	Email         string              `json:"email,omitempty"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// CreateUser creates the account; the id is taken from the Location header.
func (c *AdminClient) CreateUser(ctx context.Context, u *User) (string, error) {
	body := userRepresentation{
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Enabled:       true,
		EmailVerified: true,
		Attributes:    u.Attributes,
	}
	resp, err := c.send(ctx, http.MethodPost, c.realmURL("users"), body, nil)
	if err != nil {
		if httpclient.StatusCode(err) == http.StatusConflict {
			return "", fmt.Errorf("%w: %s", ErrConflict, u.Username)
		}
		return "", fmt.Errorf("failed to create identity user %s: %w", u.Username, err)
	}

	loc := resp.Header.Get("Location")
	id := path.Base(strings.TrimSuffix(loc, "/"))
	if loc == "" || id == "." || id == "/" {
		return "", fmt.Errorf("failed to create identity user %s: no Location header", u.Username)
	}
	c.logger.Debug("identity user created", "identity_user_id", id, "username", u.Username)
	return id, nil
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// SetPassword sets a permanent password.
func (c *AdminClient) SetPassword(ctx context.Context, id, password string) error {
	body := credentialRepresentation{Type: "password", Value: password}
	if _, err := c.send(ctx, http.MethodPut, c.realmURL("users", id, "reset-password"), body, nil); err != nil {
		if httpclient.StatusCode(err) == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to set password of identity user %s: %w", id, err)
	}
	return nil
}

type roleRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssignRole maps a realm role onto the user and reads the mappings back.
func (c *AdminClient) AssignRole(ctx context.Context, id, role string) error {
	var rep roleRepresentation
	if _, err := c.send(ctx, http.MethodGet, c.realmURL("roles", role), nil, &rep); err != nil {
		if httpclient.StatusCode(err) == http.StatusNotFound {
			return fmt.Errorf("%w: role %s does not exist", ErrRoleNotAssigned, role)
		}
		return fmt.Errorf("failed to look up role %s: %w", role, err)
	}

	mappings := c.realmURL("users", id, "role-mappings", "realm")
	if _, err := c.send(ctx, http.MethodPost, mappings, []roleRepresentation{rep}, nil); err != nil {
		return fmt.Errorf("failed to assign role %s to identity user %s: %w", role, id, err)
	}

	var assigned []roleRepresentation
	if _, err := c.send(ctx, http.MethodGet, mappings, nil, &assigned); err != nil {
		return fmt.Errorf("failed to verify role %s of identity user %s: %w", role, id, err)
	}
	if !slices.ContainsFunc(assigned, func(r roleRepresentation) bool { return r.Name == role }) {
		return fmt.Errorf("%w: %s on %s", ErrRoleNotAssigned, role, id)
	}
	return nil
}

// DeleteUser removes the account. A 404 counts as success.
func (c *AdminClient) DeleteUser(ctx context.Context, id string) error {
	if _, err := c.send(ctx, http.MethodDelete, c.realmURL("users", id), nil, nil); err != nil {
		if httpclient.StatusCode(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete identity user %s: %w", id, err)
	}
	c.logger.Debug("identity user deleted", "identity_user_id", id)
	return nil
}

var _ Provider = (*AdminClient)(nil)
