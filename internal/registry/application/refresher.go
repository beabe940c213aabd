package application

import (
	"context"
	"errors"
	"log"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

// Loader receives registry snapshots.
type Loader interface {
	LoadRegistry(ctx context.Context, devices []registry.Device) error
}

// Refresher reloads the device registry into the engine on a fixed interval.
type Refresher struct {
	source   registry.Registry
	loader   Loader
	interval time.Duration
	logger   *log.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(source registry.Registry, loader Loader, interval time.Duration, logger *log.Logger) (*Refresher, error) {
	if source == nil {
		return nil, errors.New("registry refresher: nil source")
	}
	if loader == nil {
		return nil, errors.New("registry refresher: nil loader")
	}
	if interval <= 0 {
		return nil, errors.New("registry refresher: interval must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Refresher{source: source, loader: loader, interval: interval, logger: logger}, nil
}

// Run loads once immediately, then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if r == nil {
		return
	}
	_ = r.RunOnce(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reload. On failure the previous snapshot stays in place.
func (r *Refresher) RunOnce(ctx context.Context) error {
	devices, err := r.source.ListEnabledDevices(ctx)
	if err != nil {
		r.logger.Printf("registry refresh error: err=%v", err)
		return err
	}
	if err := r.loader.LoadRegistry(ctx, devices); err != nil {
		if ctx.Err() == nil {
			r.logger.Printf("registry load error: devices=%d err=%v", len(devices), err)
		}
		return err
	}
	if len(devices) == 0 {
		r.logger.Printf("registry refresh: no enabled devices")
	}
	return nil
}
