// Package auth provides the admin bearer-token gate for HTTP servers.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MahdiBaghbani/userservice-go/internal/appctx"
	"github.com/MahdiBaghbani/userservice-go/internal/components/api"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

// AuthGateConfig configures the token gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires the admin token.
	// Built by the server from every service's Unprotected list.
	RequireAuth func(path string) bool

	// Log is the base logger for rejected requests.
	Log *slog.Logger

	// Token is the shared admin API token. An empty token rejects every
	// protected request.
	Token string
}

// NewAuthGate returns a middleware that enforces the admin bearer token.
// Requests for paths where RequireAuth is false pass through untouched.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)
	want := []byte(cfg.Token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			got := extractBearerToken(r)
			if got == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				appctx.GetLogger(r.Context()).Warn("rejected admin request with invalid token")
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer" header.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
