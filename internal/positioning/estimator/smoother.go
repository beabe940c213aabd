package estimator

import (
	"errors"

	registry "beacon-guard/internal/registry/domain"
)

// Smoother is an exponential moving average over successive estimates.
// The zero value is unusable; construct with NewSmoother.
type Smoother struct {
	alpha  float64
	value  registry.Position
	primed bool
}

// NewSmoother constructs a smoother. alpha must be in (0,1].
func NewSmoother(alpha float64) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, errors.New("estimator: smoothing alpha must be in (0,1]")
	}
	return &Smoother{alpha: alpha}, nil
}

// Update folds a new estimate in and returns the smoothed value.
// The first estimate initializes the state.
func (s *Smoother) Update(est registry.Position) registry.Position {
	if !s.primed {
		s.value = est
		s.primed = true
		return s.value
	}
	s.value = registry.Position{
		X: s.alpha*est.X + (1-s.alpha)*s.value.X,
		Y: s.alpha*est.Y + (1-s.alpha)*s.value.Y,
	}
	return s.value
}

// Value returns the current smoothed estimate.
func (s *Smoother) Value() (registry.Position, bool) {
	return s.value, s.primed
}

// Reset clears the state so the next update re-initializes.
func (s *Smoother) Reset() {
	s.primed = false
	s.value = registry.Position{}
}
