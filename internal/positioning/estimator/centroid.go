package estimator

import (
	"errors"
	"math"

	registry "beacon-guard/internal/registry/domain"
)

// WeightedCentroid places the device at the RSSI-weighted mean of the anchors
// that heard it. Weight is 10^(rssi/k).
type WeightedCentroid struct {
	anchors    map[int]registry.Position
	k          float64
	minAnchors int
}

// NewWeightedCentroid constructs the centroid strategy.
func NewWeightedCentroid(anchors []Anchor, k float64, minAnchors int) (*WeightedCentroid, error) {
	index, err := anchorIndex(anchors)
	if err != nil {
		return nil, err
	}
	if !(k > 0) || !finite(k) {
		return nil, errors.New("estimator: weight divisor must be positive")
	}
	if minAnchors < 1 {
		return nil, errors.New("estimator: min anchors must be at least 1")
	}
	return &WeightedCentroid{anchors: index, k: k, minAnchors: minAnchors}, nil
}

// Weight returns the centroid weight for an RSSI value.
func (c *WeightedCentroid) Weight(rssi float64) float64 {
	return math.Pow(10, rssi/c.k)
}

// Estimate implements Estimator.
func (c *WeightedCentroid) Estimate(_ string, samples []Sample) (registry.Position, bool) {
	if c == nil {
		return registry.Position{}, false
	}
	var sumW, sumX, sumY float64
	used := 0
	seen := make(map[int]struct{}, len(samples))
	for _, s := range samples {
		pos, ok := c.anchors[s.AnchorID]
		if !ok || !finite(s.RSSI) {
			continue
		}
		if _, dup := seen[s.AnchorID]; dup {
			continue
		}
		seen[s.AnchorID] = struct{}{}
		w := c.Weight(s.RSSI)
		if !finite(w) {
			continue
		}
		sumW += w
		sumX += w * pos.X
		sumY += w * pos.Y
		used++
	}
	if used < c.minAnchors || sumW == 0 {
		return registry.Position{}, false
	}
	est := registry.Position{X: sumX / sumW, Y: sumY / sumW}
	if !est.Finite() {
		return registry.Position{}, false
	}
	return est, true
}

// Forget implements Estimator. The centroid keeps no per-device state.
func (c *WeightedCentroid) Forget(string) {}
