package registry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Status is the device status field kept in the registry.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusNormal    Status = "normal"
	StatusMoved     Status = "moved"
	StatusOffline   Status = "offline"
	StatusNotLocked Status = "not_locked"
	StatusTraining  Status = "training"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusNormal, StatusMoved, StatusOffline, StatusNotLocked, StatusTraining:
		return true
	default:
		return false
	}
}

// Position is a venue-local 2D coordinate in meters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two positions.
func Distance(a, b Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Finite reports whether both coordinates are real numbers.
func (p Position) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Device is a tracked beacon as known to the registry.
type Device struct {
	ID            int64
	MAC           string
	Name          string
	Enabled       bool
	SavedPosition *Position
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if NormalizeMAC(d.MAC) == "" {
		return errors.New("device: empty mac")
	}
	if d.SavedPosition != nil && !d.SavedPosition.Finite() {
		return errors.New("device: saved position not finite")
	}
	if d.Status != "" && !d.Status.Valid() {
		return errors.New("device: invalid status")
	}
	return nil
}

// NormalizeMAC lowercases and trims a MAC address.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// Registry is the device registry consumed by the engine.
type Registry interface {
	ListEnabledDevices(ctx context.Context) ([]Device, error)
	UpdateDeviceStatus(ctx context.Context, mac string, status Status) error
	UpdateSavedPosition(ctx context.Context, mac string, pos Position) error
}

// ErrNotFound indicates a missing device.
var ErrNotFound = errors.New("registry: device not found")
