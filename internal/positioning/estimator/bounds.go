package estimator

import (
	"errors"
	"fmt"
	"math"

	registry "beacon-guard/internal/registry/domain"
)

// BoundsMode controls what happens to an estimate outside the venue.
type BoundsMode string

const (
	BoundsClamp  BoundsMode = "clamp"
	BoundsReject BoundsMode = "reject"
)

// Bounds is the venue rectangle.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
	Mode       BoundsMode
}

// Validate checks that the rectangle is well formed.
func (b Bounds) Validate() error {
	if !finite(b.MinX) || !finite(b.MinY) || !finite(b.MaxX) || !finite(b.MaxY) {
		return errors.New("bounds: not finite")
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return errors.New("bounds: min exceeds max")
	}
	switch b.Mode {
	case "", BoundsClamp, BoundsReject:
		return nil
	default:
		return fmt.Errorf("bounds: unknown mode %q", b.Mode)
	}
}

// Contains reports whether p lies inside the rectangle.
func (b Bounds) Contains(p registry.Position) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Clamp pulls p onto the rectangle.
func (b Bounds) Clamp(p registry.Position) registry.Position {
	return registry.Position{
		X: math.Min(math.Max(p.X, b.MinX), b.MaxX),
		Y: math.Min(math.Max(p.Y, b.MinY), b.MaxY),
	}
}

// Apply clamps or rejects p according to Mode. Clamp is the default.
func (b Bounds) Apply(p registry.Position) (registry.Position, bool) {
	if b.Contains(p) {
		return p, true
	}
	if b.Mode == BoundsReject {
		return registry.Position{}, false
	}
	return b.Clamp(p), true
}

// BoundsOf returns the bounding rectangle of the anchors.
func BoundsOf(anchors []Anchor, mode BoundsMode) Bounds {
	if len(anchors) == 0 {
		return Bounds{Mode: mode}
	}
	b := Bounds{
		MinX: anchors[0].Position.X, MaxX: anchors[0].Position.X,
		MinY: anchors[0].Position.Y, MaxY: anchors[0].Position.Y,
		Mode: mode,
	}
	for _, a := range anchors[1:] {
		b.MinX = math.Min(b.MinX, a.Position.X)
		b.MaxX = math.Max(b.MaxX, a.Position.X)
		b.MinY = math.Min(b.MinY, a.Position.Y)
		b.MaxY = math.Max(b.MaxY, a.Position.Y)
	}
	return b
}
