package server

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/MahdiBaghbani/userservice-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/config"
)

// BuildServices constructs every core service plus each service that has an
// [http.services.<name>] table. Call after deps.SetDeps.
func BuildServices(cfg *config.Config, logger *slog.Logger) (map[string]service.Service, error) {
	names := slices.Clone(service.CoreServices)
	configured := make([]string, 0, len(cfg.HTTP.Services))
	for name := range cfg.HTTP.Services {
		if !slices.Contains(names, name) {
			configured = append(configured, name)
		}
	}
	sort.Strings(configured)
	names = append(names, configured...)

	out := make(map[string]service.Service, len(names))
	for _, name := range names {
		newFunc := service.Get(name)
		if newFunc == nil {
			return nil, fmt.Errorf("service %q is not registered", name)
		}
		conf := cfg.BuildServiceConfig(name)
		if conf == nil {
			conf = map[string]any{}
		}
		svc, err := newFunc(conf, logger.With("service", name))
		if err != nil {
			return nil, fmt.Errorf("failed to create service %q: %w", name, err)
		}
		out[name] = svc
	}
	return out, nil
}
