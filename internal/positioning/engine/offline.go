package engine

import (
	"fmt"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
)

// sweepOffline checks every tracked device that has been heard at least once.
// Offline alerts repeat on every sweep until the device reports again.
func (e *Engine) sweepOffline() {
	now := e.clock.Now()
	e.table.each(func(d *deviceState) {
		if !d.target || !d.enabled || d.lastSeen.IsZero() {
			return
		}
		silent := now.Sub(d.lastSeen)
		if silent > e.cfg.OfflineTimeout {
			e.dispatch(d.mac, fmt.Sprintf("Device %s is offline (no signal for %s)", d.label(), silent.Truncate(time.Second)), alerts.KindOffline)
			d.offline = true
			d.presence.Reset()
			d.smoother.Reset()
			return
		}
		if d.offline {
			d.offline = false
			e.dispatch(d.mac, fmt.Sprintf("Device %s is back online", d.label()), alerts.KindOnline)
		}
	})
}
