package estimator

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	registry "beacon-guard/internal/registry/domain"
)

const (
	maxIterations = 25
	stepTolerance = 1e-6
	minRange      = 1e-9
)

type anchorFilter struct {
	kalman *Kalman
	last   time.Time
}

// Multilateration filters RSSI per (device, anchor) with a scalar Kalman
// filter, converts it to range with a path-loss model and solves the 2D
// position by Gauss-Newton least squares over range residuals.
// It is not safe for concurrent use.
type Multilateration struct {
	anchors    map[int]registry.Position
	minAnchors int
	pathLoss   PathLoss
	kalman     KalmanParams
	bounds     *Bounds
	filters    map[string]map[int]*anchorFilter
}

// NewMultilateration constructs the strategy. bounds may be nil.
func NewMultilateration(anchors []Anchor, minAnchors int, pathLoss PathLoss, kalman KalmanParams, bounds *Bounds) (*Multilateration, error) {
	index, err := anchorIndex(anchors)
	if err != nil {
		return nil, err
	}
	if minAnchors < 3 {
		return nil, errors.New("estimator: multilateration needs at least 3 anchors")
	}
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
	}
	return &Multilateration{
		anchors:    index,
		minAnchors: minAnchors,
		pathLoss:   pathLoss.normalized(),
		kalman:     kalman,
		bounds:     bounds,
		filters:    make(map[string]map[int]*anchorFilter),
	}, nil
}

type rangeObs struct {
	anchor registry.Position
	dist   float64
}

// Estimate implements Estimator.
func (m *Multilateration) Estimate(mac string, samples []Sample) (registry.Position, bool) {
	if m == nil {
		return registry.Position{}, false
	}
	filters := m.filters[mac]
	if filters == nil {
		filters = make(map[int]*anchorFilter)
		m.filters[mac] = filters
	}
	obs := make([]rangeObs, 0, len(samples))
	for _, s := range samples {
		pos, ok := m.anchors[s.AnchorID]
		if !ok || !finite(s.RSSI) {
			continue
		}
		f := filters[s.AnchorID]
		if f == nil {
			f = &anchorFilter{kalman: NewKalman(m.kalman)}
			filters[s.AnchorID] = f
		}
		// the same sample is offered again on every re-estimate
		if s.ObservedAt.After(f.last) || f.last.IsZero() {
			f.kalman.Update(s.RSSI)
			f.last = s.ObservedAt
		}
		d := m.pathLoss.Distance(f.kalman.Value())
		if !finite(d) {
			continue
		}
		obs = append(obs, rangeObs{anchor: pos, dist: d})
	}
	if len(obs) < m.minAnchors {
		return registry.Position{}, false
	}
	return m.solve(obs)
}

func (m *Multilateration) solve(obs []rangeObs) (registry.Position, bool) {
	var p registry.Position
	for _, o := range obs {
		p.X += o.anchor.X
		p.Y += o.anchor.Y
	}
	p.X /= float64(len(obs))
	p.Y /= float64(len(obs))

	n := len(obs)
	jac := mat.NewDense(n, 2, nil)
	res := mat.NewVecDense(n, nil)
	for iter := 0; iter < maxIterations; iter++ {
		for i, o := range obs {
			dx, dy := p.X-o.anchor.X, p.Y-o.anchor.Y
			r := math.Hypot(dx, dy)
			if r < minRange {
				r = minRange
			}
			jac.Set(i, 0, dx/r)
			jac.Set(i, 1, dy/r)
			res.SetVec(i, r-o.dist)
		}
		var normal mat.Dense
		normal.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), res)
		grad.ScaleVec(-1, &grad)

		var step mat.VecDense
		if err := step.SolveVec(&normal, &grad); err != nil {
			return registry.Position{}, false
		}
		p.X += step.AtVec(0)
		p.Y += step.AtVec(1)
		if m.bounds != nil {
			p = m.bounds.Clamp(p)
		}
		if !p.Finite() {
			return registry.Position{}, false
		}
		if math.Hypot(step.AtVec(0), step.AtVec(1)) < stepTolerance {
			break
		}
	}
	return p, true
}

// Forget implements Estimator.
func (m *Multilateration) Forget(mac string) {
	if m == nil {
		return
	}
	delete(m.filters, mac)
}
