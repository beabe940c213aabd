package engine

import (
	"fmt"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/ingest"
	"beacon-guard/internal/observability/metrics"
	"beacon-guard/internal/positioning/estimator"
	"beacon-guard/internal/positioning/presence"
	registry "beacon-guard/internal/registry/domain"
)

func (e *Engine) handle(msg ingest.Message) {
	switch m := msg.(type) {
	case ingest.RSSIMessage:
		e.handleRSSI(m)
	case ingest.PositionStatusMessage:
		e.handlePositionStatus(m)
	case ingest.TrainingStatusMessage:
		e.handleTrainingStatus(m)
	default:
		metrics.IncIngest(metrics.IngestIgnored)
	}
}

// tracked returns the state for an enabled device in the target set.
func (e *Engine) tracked(mac string) *deviceState {
	d := e.table.get(registry.NormalizeMAC(mac))
	if d == nil || !d.target || !d.enabled {
		return nil
	}
	return d
}

func (e *Engine) handleRSSI(m ingest.RSSIMessage) {
	d := e.tracked(m.MAC)
	if d == nil {
		metrics.IncIngest(metrics.IngestIgnored)
		return
	}
	metrics.IncIngest(metrics.IngestAccepted)

	now := e.clock.Now()
	d.lastSeen = now
	d.samples[m.AnchorID] = estimator.Sample{AnchorID: m.AnchorID, RSSI: m.RSSI, ObservedAt: now}

	fresh := d.freshSamples(now, e.cfg.MaxSampleAge)
	if len(fresh) < e.cfg.MinAnchors {
		return
	}
	est, ok := e.est.Estimate(d.mac, fresh)
	if !ok {
		metrics.IncEstimate(metrics.EstimateNone)
		return
	}
	if e.cfg.Bounds != nil {
		if est, ok = e.cfg.Bounds.Apply(est); !ok {
			metrics.IncEstimate(metrics.EstimateRejected)
			return
		}
	}
	metrics.IncEstimate(metrics.EstimateOK)
	d.raw, d.hasRaw = est, true
	smoothed := d.smoother.Update(est)

	transition := e.monitor.Evaluate(&d.presence, smoothed, d.saved)
	switch transition {
	case presence.Alerted:
		metrics.IncPresenceTransition(transition.String())
		distance := registry.Distance(smoothed, *d.saved)
		e.dispatch(d.mac, fmt.Sprintf("Device %s moved %.2fm from its saved position", d.label(), distance), alerts.KindMovement)
	case presence.Recovered:
		metrics.IncPresenceTransition(transition.String())
		e.dispatch(d.mac, fmt.Sprintf("Device %s is back in its saved position", d.label()), alerts.KindRecovery)
	}
}

// handlePositionStatus dispatches on lock changes only. An initial locked
// report is the normal state and raises nothing.
func (e *Engine) handlePositionStatus(m ingest.PositionStatusMessage) {
	d := e.tracked(m.MAC)
	if d == nil {
		metrics.IncIngest(metrics.IngestIgnored)
		return
	}
	metrics.IncIngest(metrics.IngestAccepted)

	locked := m.Locked()
	if d.lockKnown && d.locked == locked {
		return
	}
	first := !d.lockKnown
	d.lockKnown, d.locked = true, locked
	if locked {
		if first {
			return
		}
		e.dispatch(d.mac, fmt.Sprintf("Device %s position locked", d.label()), alerts.KindLocked)
		return
	}
	e.dispatch(d.mac, fmt.Sprintf("Device %s position not locked (confidence %.2f)", d.label(), m.Confidence), alerts.KindNotLocked)
}

func (e *Engine) handleTrainingStatus(m ingest.TrainingStatusMessage) {
	d := e.tracked(m.MAC)
	if d == nil {
		metrics.IncIngest(metrics.IngestIgnored)
		return
	}
	metrics.IncIngest(metrics.IngestAccepted)
	e.dispatch(d.mac, fmt.Sprintf("Training progress for %s: %.0f%%", d.label(), m.Progress), alerts.KindTrainingProgress)
}
