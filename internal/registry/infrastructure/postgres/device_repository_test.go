package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	registry "beacon-guard/internal/registry/domain"
	"beacon-guard/internal/storage"
)

func openSQLite(t *testing.T) (*sql.DB, storage.Dialect) {
	t.Helper()
	db, dialect, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.MigrateUp(db, dialect, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, dialect
}

func TestDeviceRepositorySQLite(t *testing.T) {
	db, dialect := openSQLite(t)
	exerciseDeviceRepository(t, NewDeviceRepository(db, WithDialect(dialect)))
}

func TestDeviceRepositoryPostgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, dialect, err := storage.Open(context.Background(), "pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := storage.MigrateUp(db, dialect, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, _ = db.Exec("DELETE FROM alerts")
	_, _ = db.Exec("DELETE FROM devices")
	exerciseDeviceRepository(t, NewDeviceRepository(db, WithDialect(dialect)))
}

func exerciseDeviceRepository(t *testing.T, repo *DeviceRepository) {
	t.Helper()
	ctx := context.Background()

	enabled := &registry.Device{MAC: "AA:BB:CC:00:00:01", Name: "Cart 1", Enabled: true, SavedPosition: &registry.Position{X: 1.5, Y: 2.5}}
	disabled := &registry.Device{MAC: "aa:bb:cc:00:00:02", Name: "Cart 2", Enabled: false}
	for _, d := range []*registry.Device{enabled, disabled} {
		if err := repo.Save(ctx, d); err != nil {
			t.Fatalf("save %s: %v", d.MAC, err)
		}
		if d.ID == 0 {
			t.Fatalf("expected id for %s", d.MAC)
		}
	}

	list, err := repo.ListEnabledDevices(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 enabled device, got %d", len(list))
	}
	got := list[0]
	if got.MAC != "aa:bb:cc:00:00:01" || got.Name != "Cart 1" || !got.Enabled {
		t.Fatalf("unexpected device: %+v", got)
	}
	if got.SavedPosition == nil || got.SavedPosition.X != 1.5 || got.SavedPosition.Y != 2.5 {
		t.Fatalf("unexpected saved position: %+v", got.SavedPosition)
	}
	if got.Status != registry.StatusUnknown {
		t.Fatalf("expected unknown status, got %s", got.Status)
	}

	if err := repo.UpdateDeviceStatus(ctx, "AA:BB:CC:00:00:01", registry.StatusMoved); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateSavedPosition(ctx, "aa:bb:cc:00:00:02", registry.Position{X: 3, Y: 4}); err != nil {
		t.Fatalf("update saved position: %v", err)
	}

	all, err := repo.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(all))
	}
	if all[0].Status != registry.StatusMoved {
		t.Fatalf("expected moved status, got %s", all[0].Status)
	}
	if all[1].SavedPosition == nil || all[1].SavedPosition.X != 3 {
		t.Fatalf("expected saved position on disabled device, got %+v", all[1].SavedPosition)
	}

	if err := repo.UpdateDeviceStatus(ctx, "ff:ff", registry.StatusNormal); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.GetByMAC(ctx, "ff:ff"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.UpdateDeviceStatus(ctx, "aa:bb:cc:00:00:01", "bogus"); err == nil {
		t.Fatalf("expected invalid status error")
	}
}
