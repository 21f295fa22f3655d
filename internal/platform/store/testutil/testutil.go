// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"
)

// TestConsultant creates a consultant record for tenant.
func TestConsultant(id, tenant string) *store.Consultant {
	c := &store.Consultant{
		ID:                   id,
		Username:             "enc." + id,
		FirstName:            "Ada",
		LastName:             "Lovelace",
		Email:                id + "@example.com",
		TenantID:             tenant,
		ChatUserID:           "rc-" + id,
		Languages:            "de,en",
		Locale:               "de",
		Status:               store.StatusInProgress,
		NotificationsEnabled: true,
	}
	c.Touch(time.Now())
	return c
}

// RunDriverTests runs the standard test suite against a driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	t.Helper()
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	cs, ok := driver.(store.ConsultantStore)
	if !ok {
		t.Fatalf("%s driver does not implement ConsultantStore", driverName)
	}

	t.Run("SaveGet", func(t *testing.T) {
		c := TestConsultant("u-1", "t-1")
		if err := cs.SaveConsultant(ctx, c); err != nil {
			t.Fatalf("SaveConsultant failed: %v", err)
		}
		got, err := cs.GetConsultant(ctx, "u-1")
		if err != nil {
			t.Fatalf("GetConsultant failed: %v", err)
		}
		if got.Username != c.Username || got.Email != c.Email || got.TenantID != "t-1" {
			t.Errorf("unexpected record: %+v", got)
		}
		if !got.NotificationsEnabled {
			t.Error("expected notifications flag to round trip")
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		c := TestConsultant("u-2", "t-1")
		if err := cs.SaveConsultant(ctx, c); err != nil {
			t.Fatalf("SaveConsultant failed: %v", err)
		}
		c.ChatUserID = "rc-updated"
		if err := cs.SaveConsultant(ctx, c); err != nil {
			t.Fatalf("second SaveConsultant failed: %v", err)
		}
		got, err := cs.GetConsultant(ctx, "u-2")
		if err != nil {
			t.Fatalf("GetConsultant failed: %v", err)
		}
		if got.ChatUserID != "rc-updated" {
			t.Errorf("expected replaced chat user id, got %q", got.ChatUserID)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := cs.GetConsultant(ctx, "nope")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := cs.SaveConsultant(ctx, TestConsultant("u-3", "t-1")); err != nil {
			t.Fatal(err)
		}
		if err := cs.DeleteConsultant(ctx, "u-3"); err != nil {
			t.Fatalf("DeleteConsultant failed: %v", err)
		}
		if _, err := cs.GetConsultant(ctx, "u-3"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := cs.DeleteConsultant(ctx, "u-3"); err != nil {
			t.Errorf("expected second delete to succeed, got %v", err)
		}
	})

	t.Run("CountActiveExcludesDeleted", func(t *testing.T) {
		for _, id := range []string{"c-1", "c-2", "c-3"} {
			if err := cs.SaveConsultant(ctx, TestConsultant(id, "t-count")); err != nil {
				t.Fatal(err)
			}
		}
		deleted := TestConsultant("c-4", "t-count")
		deleted.Status = store.StatusDeleted
		if err := cs.SaveConsultant(ctx, deleted); err != nil {
			t.Fatal(err)
		}
		if err := cs.SaveConsultant(ctx, TestConsultant("c-5", "t-other")); err != nil {
			t.Fatal(err)
		}

		n, err := cs.CountActiveConsultants(ctx, "t-count")
		if err != nil {
			t.Fatalf("CountActiveConsultants failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 active consultants, got %d", n)
		}
	})
}
