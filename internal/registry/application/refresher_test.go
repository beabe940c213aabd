package application

import (
	"context"
	"errors"
	"testing"
	"time"

	registry "beacon-guard/internal/registry/domain"
	"beacon-guard/internal/registry/infrastructure/memory"
)

type recordingLoader struct {
	loads [][]registry.Device
}

func (l *recordingLoader) LoadRegistry(_ context.Context, devices []registry.Device) error {
	l.loads = append(l.loads, devices)
	return nil
}

type failingRegistry struct {
	registry.Registry
}

func (failingRegistry) ListEnabledDevices(context.Context) ([]registry.Device, error) {
	return nil, errors.New("db down")
}

func TestRunOnceLoadsEnabledDevices(t *testing.T) {
	repo := memory.NewDeviceRepository(
		registry.Device{ID: 1, MAC: "aa:bb", Enabled: true},
		registry.Device{ID: 2, MAC: "cc:dd", Enabled: false},
	)
	loader := &recordingLoader{}
	r, err := NewRefresher(repo, loader, time.Minute, nil)
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(loader.loads) != 1 || len(loader.loads[0]) != 1 || loader.loads[0][0].MAC != "aa:bb" {
		t.Fatalf("unexpected loads %+v", loader.loads)
	}
}

func TestRunOnceKeepsSnapshotOnError(t *testing.T) {
	loader := &recordingLoader{}
	r, _ := NewRefresher(failingRegistry{}, loader, time.Minute, nil)
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(loader.loads) != 0 {
		t.Fatalf("expected no load on error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	loader := &recordingLoader{}
	r, _ := NewRefresher(memory.NewDeviceRepository(), loader, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("refresher did not stop")
	}
}

func TestNewRefresherValidation(t *testing.T) {
	if _, err := NewRefresher(nil, &recordingLoader{}, time.Minute, nil); err == nil {
		t.Fatalf("expected nil source error")
	}
	if _, err := NewRefresher(memory.NewDeviceRepository(), &recordingLoader{}, 0, nil); err == nil {
		t.Fatalf("expected interval error")
	}
}
