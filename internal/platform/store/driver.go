// Package store provides persistence primitives and driver abstractions.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Consultant statuses.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDeleted    = "DELETED"
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, allocate maps).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (sqlite, memory).
	Name() string
}

// ConsultantStore defines operations for local consultant records.
type ConsultantStore interface {
	// SaveConsultant inserts or replaces the record keyed by its ID.
	SaveConsultant(ctx context.Context, c *Consultant) error
	GetConsultant(ctx context.Context, id string) (*Consultant, error)
	// DeleteConsultant removes the record. A missing record is not an error.
	DeleteConsultant(ctx context.Context, id string) error
	// CountActiveConsultants counts records of a tenant whose status is not DELETED.
	CountActiveConsultants(ctx context.Context, tenantID string) (int64, error)
}

// Consultant is the locally persisted consultant record.
// ID is the identity provider user id.
type Consultant struct {
	ID                    string `json:"id" gorm:"primaryKey"`
	Username              string `json:"username" gorm:"uniqueIndex"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Email                 string `json:"email"`
	TenantID              string `json:"tenant_id" gorm:"index"`
	ChatUserID            string `json:"chat_user_id"`
	Absent                bool   `json:"absent"`
	AbsenceMessage        string `json:"absence_message,omitempty"`
	LanguageFormal        bool   `json:"language_formal"`
	Languages             string `json:"languages"` // comma joined
	Locale                string `json:"locale"`
	IsGroupchatConsultant bool   `json:"is_groupchat_consultant"`
	Status                string `json:"status" gorm:"index"`
	NotificationsEnabled  bool   `json:"notifications_enabled"`
	CreatedAt             int64  `json:"created_at"`
	UpdatedAt             int64  `json:"updated_at"`
}

// Touch sets UpdatedAt, and CreatedAt when unset.
func (c *Consultant) Touch(now time.Time) {
	if c.CreatedAt == 0 {
		c.CreatedAt = now.Unix()
	}
	c.UpdatedAt = now.Unix()
}
