package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

// Sample is the latest RSSI reading from one anchor.
type Sample struct {
	AnchorID   int
	RSSI       float64
	ObservedAt time.Time
}

// Anchor is a fixed receiver at a known coordinate.
type Anchor struct {
	ID       int
	Position registry.Position
}

// Estimator turns a device's fresh per-anchor samples into a position.
// The bool result is false when no estimate is defined for this update.
type Estimator interface {
	Estimate(mac string, samples []Sample) (registry.Position, bool)
	// Forget drops any per-device state kept by the strategy.
	Forget(mac string)
}

// Kind names an estimator strategy.
type Kind string

const (
	KindCentroid        Kind = "centroid"
	KindMultilateration Kind = "multilateration"
)

// Config selects and tunes a strategy.
type Config struct {
	Kind       Kind
	Anchors    []Anchor
	MinAnchors int
	// Centroid weight divisor k in 10^(rssi/k).
	WeightDivisor float64
	PathLoss      PathLoss
	Kalman        KalmanParams
	Bounds        *Bounds
}

// New builds the configured strategy.
func New(cfg Config) (Estimator, error) {
	switch cfg.Kind {
	case "", KindCentroid:
		return NewWeightedCentroid(cfg.Anchors, cfg.WeightDivisor, cfg.MinAnchors)
	case KindMultilateration:
		return NewMultilateration(cfg.Anchors, cfg.MinAnchors, cfg.PathLoss, cfg.Kalman, cfg.Bounds)
	default:
		return nil, fmt.Errorf("estimator: unknown kind %q", cfg.Kind)
	}
}

func anchorIndex(anchors []Anchor) (map[int]registry.Position, error) {
	if len(anchors) == 0 {
		return nil, errors.New("estimator: no anchors")
	}
	index := make(map[int]registry.Position, len(anchors))
	for _, a := range anchors {
		if !a.Position.Finite() {
			return nil, fmt.Errorf("estimator: anchor %d position not finite", a.ID)
		}
		if _, dup := index[a.ID]; dup {
			return nil, fmt.Errorf("estimator: duplicate anchor %d", a.ID)
		}
		index[a.ID] = a.Position
	}
	return index, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
