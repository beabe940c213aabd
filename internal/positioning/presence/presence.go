package presence

import (
	"errors"

	registry "beacon-guard/internal/registry/domain"
)

// Phase is a device's position relative to its saved position.
type Phase string

const (
	PhaseUnknown    Phase = "unknown"
	PhaseInPosition Phase = "in_position"
	PhaseViolating  Phase = "violating"
	PhaseAlerted    Phase = "alerted"
)

// Transition is the externally visible outcome of an evaluation.
type Transition int

const (
	None Transition = iota
	Recovered
	Alerted
)

func (t Transition) String() string {
	switch t {
	case Recovered:
		return "recovered"
	case Alerted:
		return "alerted"
	default:
		return "none"
	}
}

// State is the per-device hysteresis state.
type State struct {
	Phase      Phase
	Violations int
}

// Reset returns the state to unknown with a zero counter.
func (s *State) Reset() {
	s.Phase = PhaseUnknown
	s.Violations = 0
}

// Monitor applies the movement hysteresis rule.
type Monitor struct {
	Threshold     float64
	MaxViolations int
}

// NewMonitor validates and returns a monitor.
func NewMonitor(threshold float64, maxViolations int) (Monitor, error) {
	if !(threshold > 0) {
		return Monitor{}, errors.New("presence: threshold must be positive")
	}
	if maxViolations < 1 {
		return Monitor{}, errors.New("presence: max violations must be at least 1")
	}
	return Monitor{Threshold: threshold, MaxViolations: maxViolations}, nil
}

// Evaluate folds one smoothed estimate into state. With no saved position
// the device stays unknown. An alerted device that is still out of bounds
// stays alerted without raising again.
func (m Monitor) Evaluate(state *State, estimate registry.Position, saved *registry.Position) Transition {
	if state.Phase == "" {
		state.Phase = PhaseUnknown
	}
	if saved == nil {
		state.Reset()
		return None
	}
	if registry.Distance(estimate, *saved) <= m.Threshold {
		state.Violations = 0
		if state.Phase == PhaseAlerted {
			state.Phase = PhaseInPosition
			return Recovered
		}
		state.Phase = PhaseInPosition
		return None
	}
	if state.Phase == PhaseAlerted {
		return None
	}
	state.Violations++
	if state.Violations >= m.MaxViolations {
		state.Phase = PhaseAlerted
		state.Violations = 0
		return Alerted
	}
	state.Phase = PhaseViolating
	return None
}
