// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"
)

// DBFile is the database file name inside the data directory.
const DBFile = "userservice.db"

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements store.Driver and store.ConsultantStore using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(d.dataDir, DBFile)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.WithContext(ctx).AutoMigrate(&store.Consultant{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveConsultant inserts the record or replaces every column of an existing one.
func (d *Driver) SaveConsultant(ctx context.Context, c *store.Consultant) error {
	if d.db == nil {
		return store.ErrClosed
	}
	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(c)
	return result.Error
}

// GetConsultant retrieves a consultant by id.
func (d *Driver) GetConsultant(ctx context.Context, id string) (*store.Consultant, error) {
	if d.db == nil {
		return nil, store.ErrClosed
	}
	var c store.Consultant
	result := d.db.WithContext(ctx).First(&c, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &c, nil
}

// DeleteConsultant deletes a consultant. Deleting a missing id succeeds.
func (d *Driver) DeleteConsultant(ctx context.Context, id string) error {
	if d.db == nil {
		return store.ErrClosed
	}
	return d.db.WithContext(ctx).Delete(&store.Consultant{}, "id = ?", id).Error
}

// CountActiveConsultants counts the tenant's consultants that are not deleted.
func (d *Driver) CountActiveConsultants(ctx context.Context, tenantID string) (int64, error) {
	if d.db == nil {
		return 0, store.ErrClosed
	}
	var n int64
	result := d.db.WithContext(ctx).Model(&store.Consultant{}).
		Where("tenant_id = ? AND status <> ?", tenantID, store.StatusDeleted).
		Count(&n)
	return n, result.Error
}

var (
	_ store.Driver          = (*Driver)(nil)
	_ store.ConsultantStore = (*Driver)(nil)
)
