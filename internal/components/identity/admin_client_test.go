package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/juju/clock/testclock"

	"github.com/MahdiBaghbani/userservice-go/internal/components/identity"
)

var signingKey = []byte("0123456789abcdef0123456789abcdef")

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: signingKey}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	raw, err := jwt.Signed(sig).Claims(jwt.Claims{Expiry: jwt.NewNumericDate(exp), Subject: "admin-cli"}).Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	return raw
}

// fakeIDP is a minimal Keycloak-style admin API.
type fakeIDP struct {
	srv     *httptest.Server
	mu      sync.Mutex
	users   map[string]map[string]any
	roles   map[string][]string
	known   map[string]bool
	tokens    int
	tokenFn   func() string
	expiresIn int

	// tokenHeld, when set, is signalled on each token request, which then
	// waits for tokenRelease.
	tokenHeld    chan struct{}
	tokenRelease chan struct{}

	// dropRoles makes role mapping silently do nothing.
	dropRoles bool
	nextID    int
}

func newFakeIDP(t *testing.T, exp time.Time) *fakeIDP {
	f := &fakeIDP{
		users: make(map[string]map[string]any),
		roles: make(map[string][]string),
		known:     map[string]bool{"consultant": true, "group-chat-consultant": true},
		expiresIn: 60,
	}
	f.tokenFn = func() string { return signedToken(t, exp) }
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIDP) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

func (f *fakeIDP) handle(w http.ResponseWriter, r *http.Request) {
	if f.tokenHeld != nil && strings.HasSuffix(r.URL.Path, "/openid-connect/token") {
		f.tokenHeld <- struct{}{}
		<-f.tokenRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/realms/master/protocol/openid-connect/token" {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("client_secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokens++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": f.tokenFn(), "expires_in": f.expiresIn})
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, "/admin/realms/consultants/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case r.Method == http.MethodPost && rest == "users":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		for _, u := range f.users {
			if u["username"] == body["username"] {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		f.nextID++
		id := fmt.Sprintf("kc-%d", f.nextID)
		f.users[id] = body
		w.Header().Set("Location", f.srv.URL+"/admin/realms/consultants/users/"+id)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut && len(parts) == 3 && parts[2] == "reset-password":
		if _, ok := f.users[parts[1]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "roles":
		if !f.known[parts[1]] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "role-" + parts[1], "name": parts[1]})
	case len(parts) == 4 && parts[2] == "role-mappings":
		id := parts[1]
		if r.Method == http.MethodPost {
			var reps []map[string]string
			json.NewDecoder(r.Body).Decode(&reps)
			if !f.dropRoles {
				for _, rep := range reps {
					f.roles[id] = append(f.roles[id], rep["name"])
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		out := []map[string]string{}
		for _, name := range f.roles[id] {
			out = append(out, map[string]string{"id": "role-" + name, "name": name})
		}
		json.NewEncoder(w).Encode(out)
	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "users":
		if _, ok := f.users[parts[1]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.users, parts[1])
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newAdminClient(t *testing.T, f *fakeIDP, clk *testclock.Clock) *identity.AdminClient {
	t.Helper()
	c, err := identity.NewAdminClient(identity.AdminClientConfig{
		BaseURL:      f.srv.URL,
		Realm:        "consultants",
		AdminRealm:   "master",
		ClientID:     "userservice",
		ClientSecret: "s3cret",
		Clock:        clk,
	})
	if err != nil {
		t.Fatalf("NewAdminClient failed: %v", err)
	}
	return c
}

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func TestNewAdminClient_RequiresRealm(t *testing.T) {
	if _, err := identity.NewAdminClient(identity.AdminClientConfig{BaseURL: "http://idp"}); err == nil {
		t.Error("expected error without realm")
	}
}

func TestAdminClient_CreateAssignDelete(t *testing.T) {
	f := newFakeIDP(t, now.Add(5*time.Minute))
	c := newAdminClient(t, f, testclock.NewClock(now))
	ctx := context.Background()

	id, err := c.CreateUser(ctx, &identity.User{
		Username:   "enc.mfzwizq.",
		Email:      "a@example.org",
		Attributes: map[string][]string{identity.AttributeTenantID: {"7"}},
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if id != "kc-1" {
		t.Errorf("expected id from Location header, got %q", id)
	}
	if err := c.SetPassword(ctx, id, "Secret1!"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if err := c.AssignRole(ctx, id, "consultant"); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if err := c.DeleteUser(ctx, id); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	// Retried cleanup of the same id must not fail.
	if err := c.DeleteUser(ctx, id); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
	if f.tokenCount() != 1 {
		t.Errorf("expected a single cached admin token, got %d token requests", f.tokenCount())
	}
}

func TestAdminClient_CreateConflict(t *testing.T) {
	f := newFakeIDP(t, now.Add(5*time.Minute))
	c := newAdminClient(t, f, testclock.NewClock(now))
	ctx := context.Background()

	if _, err := c.CreateUser(ctx, &identity.User{Username: "dup"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	_, err := c.CreateUser(ctx, &identity.User{Username: "dup"})
	if !errors.Is(err, identity.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestAdminClient_SetPasswordMissingUser(t *testing.T) {
	f := newFakeIDP(t, now.Add(5*time.Minute))
	c := newAdminClient(t, f, testclock.NewClock(now))
	if err := c.SetPassword(context.Background(), "nope", "x"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminClient_AssignRoleFailures(t *testing.T) {
	f := newFakeIDP(t, now.Add(5*time.Minute))
	c := newAdminClient(t, f, testclock.NewClock(now))
	ctx := context.Background()
	id, err := c.CreateUser(ctx, &identity.User{Username: "u"})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := c.AssignRole(ctx, id, "unknown"); !errors.Is(err, identity.ErrRoleNotAssigned) {
		t.Errorf("expected ErrRoleNotAssigned for unknown role, got %v", err)
	}

	f.mu.Lock()
	f.dropRoles = true
	f.mu.Unlock()
	if err := c.AssignRole(ctx, id, "consultant"); !errors.Is(err, identity.ErrRoleNotAssigned) {
		t.Errorf("expected ErrRoleNotAssigned when mapping is not visible, got %v", err)
	}
}

func TestAdminClient_TokenRefreshedBeforeExpiry(t *testing.T) {
	f := newFakeIDP(t, now.Add(2*time.Minute))
	clk := testclock.NewClock(now)
	c := newAdminClient(t, f, clk)
	ctx := context.Background()

	if err := c.DeleteUser(ctx, "x"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	clk.Advance(time.Minute)
	if err := c.DeleteUser(ctx, "x"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if f.tokenCount() != 1 {
		t.Fatalf("expected cached token inside validity, got %d requests", f.tokenCount())
	}

	// Inside the 30s skew window of the exp claim.
	clk.Advance(45 * time.Second)
	if err := c.DeleteUser(ctx, "x"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if f.tokenCount() != 2 {
		t.Errorf("expected token refresh near expiry, got %d requests", f.tokenCount())
	}
}

func TestAdminClient_OpaqueTokenUsesExpiresIn(t *testing.T) {
	f := newFakeIDP(t, now)
	f.tokenFn = func() string { return "opaque-token" }
	clk := testclock.NewClock(now)
	c := newAdminClient(t, f, clk)
	ctx := context.Background()

	if err := c.DeleteUser(ctx, "x"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	clk.Advance(20 * time.Second)
	if err := c.DeleteUser(ctx, "x"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if f.tokenCount() != 1 {
		t.Errorf("expected expires_in of 60s to keep the token for 30s, got %d requests", f.tokenCount())
	}
}

func TestAdminClient_OpaqueTokenWithoutLifetimeIsCached(t *testing.T) {
	f := newFakeIDP(t, now)
	f.tokenFn = func() string { return "opaque-token" }
	f.expiresIn = 0
	clk := testclock.NewClock(now)
	c := newAdminClient(t, f, clk)
	ctx := context.Background()

	for range 3 {
		if err := c.DeleteUser(ctx, "x"); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		clk.Advance(5 * time.Second)
	}
	if f.tokenCount() != 1 {
		t.Errorf("expected one token request for a token without expires_in, got %d", f.tokenCount())
	}
}

func TestAdminClient_WaitingCallerNotStuckBehindTokenFetch(t *testing.T) {
	f := newFakeIDP(t, now.Add(time.Hour))
	f.tokenHeld = make(chan struct{}, 1)
	f.tokenRelease = make(chan struct{})
	c := newAdminClient(t, f, testclock.NewClock(now))

	first := make(chan error, 1)
	go func() { first <- c.DeleteUser(context.Background(), "x") }()
	<-f.tokenHeld

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.DeleteUser(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the waiting caller to give up on its own deadline, got %v", err)
	}

	close(f.tokenRelease)
	if err := <-first; err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if f.tokenCount() != 1 {
		t.Errorf("expected a single shared token request, got %d", f.tokenCount())
	}
}

func TestAdminClient_BadClientSecret(t *testing.T) {
	f := newFakeIDP(t, now.Add(time.Hour))
	c, err := identity.NewAdminClient(identity.AdminClientConfig{
		BaseURL:      f.srv.URL,
		Realm:        "consultants",
		AdminRealm:   "master",
		ClientID:     "userservice",
		ClientSecret: "wrong",
	})
	if err != nil {
		t.Fatalf("NewAdminClient failed: %v", err)
	}
	if _, err := c.CreateUser(context.Background(), &identity.User{Username: "u"}); err == nil {
		t.Error("expected token failure")
	}
}
