package estimator

// KalmanParams tunes the scalar RSSI filter. Q is process variance and R is
// measurement variance; stationary anchors want Q much smaller than R.
type KalmanParams struct {
	Q float64
	R float64
}

// DefaultKalman is the filter tuning used when none is configured.
var DefaultKalman = KalmanParams{Q: 0.008, R: 4}

// Kalman is a one-dimensional constant-value Kalman filter.
type Kalman struct {
	params KalmanParams
	x      float64
	p      float64
	primed bool
}

// NewKalman constructs a filter, substituting defaults for non-positive params.
func NewKalman(params KalmanParams) *Kalman {
	if !(params.Q > 0) {
		params.Q = DefaultKalman.Q
	}
	if !(params.R > 0) {
		params.R = DefaultKalman.R
	}
	return &Kalman{params: params}
}

// Update runs one predict/update step and returns the filtered value.
func (k *Kalman) Update(z float64) float64 {
	if !k.primed {
		k.x = z
		k.p = k.params.R
		k.primed = true
		return k.x
	}
	k.p += k.params.Q
	gain := k.p / (k.p + k.params.R)
	k.x += gain * (z - k.x)
	k.p *= 1 - gain
	return k.x
}

// Value returns the current filtered value.
func (k *Kalman) Value() float64 {
	return k.x
}
