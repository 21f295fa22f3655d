package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MahdiBaghbani/userservice-go/internal/appctx"
)

// Gateway headers identifying the calling tenant.
const (
	HeaderTenantID         = "X-Tenant-ID"
	HeaderTenantSuperAdmin = "X-Tenant-Super-Admin"
)

// TenantMiddleware copies the gateway's tenant headers into the request
// context and tags the request logger with tenant_id when present.
// The headers are trusted as-is; the gateway strips client-supplied copies.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := appctx.Tenant{
			ID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		}
		if v := r.Header.Get(HeaderTenantSuperAdmin); v != "" {
			t.SuperAdmin, _ = strconv.ParseBool(v)
		}

		ctx := appctx.WithTenant(r.Context(), t)
		if t.ID != "" {
			ctx = appctx.WithLogger(ctx, appctx.GetLogger(ctx).With("tenant_id", t.ID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
