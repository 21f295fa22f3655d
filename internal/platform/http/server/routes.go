package server

import (
	"net/http"
	"slices"
	"sort"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/userservice-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/http/auth"
	httpmw "github.com/MahdiBaghbani/userservice-go/internal/platform/http/middleware"
)

// mountOrder lists the services mounted first, in this order. Other
// registered services follow sorted by name.
var mountOrder = []string{"api", "metrics"}

// IsAuthRequired reports whether path needs the admin token. A path is open
// only when a mounted service lists it (relative to its prefix) in
// Unprotected; an empty entry opens the whole service. Unknown paths
// require auth.
func IsAuthRequired(path string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		if svc == nil {
			continue
		}
		svcBase := ""
		if prefix := svc.Prefix(); prefix != "" {
			svcBase = "/" + prefix
		}
		for _, unprotected := range svc.Unprotected() {
			fullPath := svcBase + unprotected
			if fullPath == "" {
				return false
			}
			if pathMatchesPrefix(path, fullPath) {
				return false
			}
		}
	}
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix)] == '/'
	}
	return false
}

// orderedServiceNames returns the keys of services in mount order.
func orderedServiceNames(services map[string]service.Service) []string {
	names := make([]string, 0, len(services))
	for _, name := range mountOrder {
		if _, ok := services[name]; ok {
			names = append(names, name)
		}
	}
	var rest []string
	for name := range services {
		if !slices.Contains(mountOrder, name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service) {
	if svc == nil {
		return
	}

	var handler http.Handler = svc.Handler()
	if prefix := svc.Prefix(); prefix != "" {
		r.Mount("/"+prefix, handler)
	} else {
		r.Mount("/", handler)
	}

	s.mountedServices = append(s.mountedServices, svc)
}

// setupRoutes creates the chi router with every service mounted.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Always-on transport middleware (order is invariant):
	// RequestID -> real IP -> request-scoped logger -> access log ->
	// recoverer -> tenant context -> auth gate
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(httpmw.RequestLoggerMiddleware(s.logger))
	r.Use(httpmw.AccessLogMiddleware(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(httpmw.TenantMiddleware)

	// The closure reads s.mountedServices at request time.
	requireAuth := func(path string) bool {
		return IsAuthRequired(path, s.mountedServices)
	}
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: requireAuth,
		Log:         s.logger,
		Token:       s.cfg.Admin.APIToken,
	}))

	for _, name := range orderedServiceNames(s.services) {
		s.mountService(r, s.services[name])
	}

	return r
}
