// Package admin provides the /api/* endpoints used by the administration
// gateway: consultant provisioning, chat group rollback and credential status.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/userservice-go/internal/components/api"
	"github.com/MahdiBaghbani/userservice-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/userservice-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/deps"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("api", New)
}

// DefaultMaxBodyBytes bounds admin request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Config holds admin service configuration.
type Config struct {
	// MaxBodyBytes limits the size of JSON request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Service is the admin API service.
type Service struct {
	router chi.Router
	conf   *Config
	log    *slog.Logger
}

// New creates the admin service from the shared deps.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "api", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Provisioner == nil || d.Rollback == nil || d.Credentials == nil {
		return nil, errors.New("api: provisioner, rollback coordinator and credential pool are required")
	}

	h := &Handlers{
		Provisioner:  d.Provisioner,
		Rollback:     d.Rollback,
		Credentials:  d.Credentials,
		MaxBodyBytes: c.MaxBodyBytes,
	}

	return &Service{router: newRouter(h), conf: &c, log: log}, nil
}

func newRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()

	// Health endpoint (public)
	r.Get("/healthz", api.HealthHandler)

	r.Post("/consultants", h.CreateConsultant)
	r.Post("/groups/{groupID}/membership/rollback", h.RollbackMembership)
	r.Get("/credentials", h.CredentialStatus)

	return r
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths served without the admin token.
func (s *Service) Unprotected() []string {
	return []string{"/healthz"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
