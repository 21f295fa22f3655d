// Package memory implements an in-process persistence driver for dev mode and tests.
package memory

import (
	"context"
	"sync"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"
)

func init() {
	store.Register("memory", NewDriver)
}

// Driver keeps consultants in a map. Nothing survives a restart.
type Driver struct {
	mu          sync.RWMutex
	closed      bool
	consultants map[string]*store.Consultant
}

// NewDriver creates a new memory driver instance.
func NewDriver(_ *store.DriverConfig) (store.Driver, error) {
	return New(), nil
}

// New returns an initialized driver.
func New() *Driver {
	return &Driver{consultants: make(map[string]*store.Consultant)}
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "memory"
}

// Init is a no-op; the map is allocated by New.
func (d *Driver) Init(ctx context.Context) error {
	return nil
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SaveConsultant stores a copy of c.
func (d *Driver) SaveConsultant(ctx context.Context, c *store.Consultant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}
	cp := *c
	d.consultants[c.ID] = &cp
	return nil
}

// GetConsultant returns a copy of the stored record.
func (d *Driver) GetConsultant(ctx context.Context, id string) (*store.Consultant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, store.ErrClosed
	}
	c, ok := d.consultants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteConsultant removes the record if present.
func (d *Driver) DeleteConsultant(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}
	delete(d.consultants, id)
	return nil
}

// CountActiveConsultants counts the tenant's consultants that are not deleted.
func (d *Driver) CountActiveConsultants(ctx context.Context, tenantID string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, store.ErrClosed
	}
	var n int64
	for _, c := range d.consultants {
		if c.TenantID == tenantID && c.Status != store.StatusDeleted {
			n++
		}
	}
	return n, nil
}

var (
	_ store.Driver          = (*Driver)(nil)
	_ store.ConsultantStore = (*Driver)(nil)
)
