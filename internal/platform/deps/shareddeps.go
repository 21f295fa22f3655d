// Package deps provides shared dependencies for all services.
package deps

import (
	"sync"

	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/credentials"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/rollback"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant/provisioning"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/config"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds the components built once in main and handed to services.
type Deps struct {
	Config *config.Config

	// Credentials is the single credential pool; the rotation worker in main
	// refreshes the same instance.
	Credentials *credentials.Pool
	Provisioner *provisioning.Provisioner
	Rollback    *rollback.Coordinator

	Store store.ConsultantStore
	Cache cache.Cache
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies.
// Returns nil if SetDeps has not been called.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
