package estimator

import "math"

// PathLoss is the log-distance propagation model.
// TxPower is the expected RSSI at one meter.
type PathLoss struct {
	TxPower  float64
	Exponent float64
}

// DefaultPathLoss suits BLE beacons indoors.
var DefaultPathLoss = PathLoss{TxPower: -59, Exponent: 2}

func (p PathLoss) normalized() PathLoss {
	if p.Exponent <= 0 || !finite(p.Exponent) {
		p.Exponent = DefaultPathLoss.Exponent
	}
	if p.TxPower == 0 || !finite(p.TxPower) {
		p.TxPower = DefaultPathLoss.TxPower
	}
	return p
}

// Distance converts RSSI to meters: 10^((TxPower-rssi)/(10n)).
func (p PathLoss) Distance(rssi float64) float64 {
	p = p.normalized()
	return math.Pow(10, (p.TxPower-rssi)/(10*p.Exponent))
}

// RSSI converts meters back to the expected RSSI.
func (p PathLoss) RSSI(distance float64) float64 {
	p = p.normalized()
	if distance <= 0 {
		return p.TxPower
	}
	return p.TxPower - 10*p.Exponent*math.Log10(distance)
}
