// Package metrics serves the Prometheus collectors at /metrics.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MahdiBaghbani/userservice-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/userservice-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("metrics", New)
}

// Config holds metrics service configuration.
type Config struct {
	// Public serves the scrape endpoint without the admin token.
	Public bool `mapstructure:"public"`
	// MaxInFlight limits concurrent scrapes; 0 means unlimited.
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service exposes the default Prometheus registry.
type Service struct {
	router chi.Router
	conf   *Config
}

// New creates the metrics service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "metrics", "unused_keys", unused)
	}
	if c.MaxInFlight < 0 {
		return nil, errors.New("metrics: max_in_flight must not be negative")
	}

	return newService(&c, prometheus.DefaultGatherer, slog.NewLogLogger(log.Handler(), slog.LevelWarn)), nil
}

func newService(c *Config, g prometheus.Gatherer, errLog promhttp.Logger) *Service {
	r := chi.NewRouter()
	r.Handle("/", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:            errLog,
		MaxRequestsInFlight: c.MaxInFlight,
	}))
	return &Service{router: r, conf: c}
}

// Handler returns the scrape handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "metrics"
}

// Unprotected returns the whole service when it is configured public.
func (s *Service) Unprotected() []string {
	if s.conf.Public {
		return []string{""}
	}
	return nil
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
