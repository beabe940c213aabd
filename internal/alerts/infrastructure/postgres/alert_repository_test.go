package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
	registry "beacon-guard/internal/registry/domain"
	registryrepo "beacon-guard/internal/registry/infrastructure/postgres"
	"beacon-guard/internal/storage"
)

func TestAlertRepositorySQLite(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if err := storage.MigrateUp(db, dialect, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	devices := registryrepo.NewDeviceRepository(db, registryrepo.WithDialect(dialect))
	device := &registry.Device{MAC: "aa:bb", Enabled: true}
	if err := devices.Save(ctx, device); err != nil {
		t.Fatalf("save device: %v", err)
	}

	repo := NewAlertRepository(db, dialect)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, kind := range []alerts.Kind{alerts.KindMovement, alerts.KindRecovery, alerts.KindOffline} {
		event := alerts.Event{
			DeviceID:  device.ID,
			Kind:      kind,
			Message:   "event " + string(kind),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.AppendAlert(ctx, event); err != nil {
			t.Fatalf("append %s: %v", kind, err)
		}
	}
	if err := repo.AppendAlert(ctx, alerts.Event{Kind: alerts.KindMovement, Message: "x"}); err == nil {
		t.Fatalf("expected validation error for missing device id")
	}

	list, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(list))
	}
	if list[0].Kind != alerts.KindOffline || list[1].Kind != alerts.KindRecovery {
		t.Fatalf("expected newest first, got %s then %s", list[0].Kind, list[1].Kind)
	}
	if list[0].MAC != "aa:bb" || list[0].ID == "" {
		t.Fatalf("expected joined mac and id, got %+v", list[0])
	}
	if !list[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected created_at %s", list[0].CreatedAt)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 alerts, got %d", count)
	}
}
