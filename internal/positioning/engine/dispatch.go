package engine

import (
	"context"

	"github.com/google/uuid"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/alerts/notify"
	"beacon-guard/internal/observability/metrics"
	registry "beacon-guard/internal/registry/domain"
)

// dispatch routes an alert and reports whether it was sent. The active set
// is updated even when the cooldown suppresses the alert.
func (e *Engine) dispatch(mac, message string, kind alerts.Kind) bool {
	mac = registry.NormalizeMAC(mac)
	now := e.clock.Now()

	switch {
	case kind.IsProblem():
		e.activate(mac)
	case kind.IsResolution():
		e.dropActive(mac)
	}

	if !kind.CooldownExempt() {
		if last, ok := e.lastDispatch[mac]; ok && now.Sub(last) < e.cfg.AlertCooldown {
			metrics.IncAlert(string(kind), metrics.AlertSuppressed)
			return false
		}
		e.lastDispatch[mac] = now
	}
	metrics.IncAlert(string(kind), metrics.AlertSent)

	var (
		deviceID   int64
		name       string
		registered bool
	)
	if device, ok := e.snapshot.Lookup(mac); ok {
		deviceID, name, registered = device.ID, device.Name, true
	}

	if status, ok := kind.Status(); ok && registered {
		e.effect("update_status", func(ctx context.Context) error {
			return e.registry.UpdateDeviceStatus(ctx, mac, status)
		})
	}
	if deviceID > 0 {
		event := alerts.Event{
			ID:        uuid.NewString(),
			DeviceID:  deviceID,
			MAC:       mac,
			Kind:      kind,
			Message:   message,
			CreatedAt: now,
		}
		e.effect("append_alert", func(ctx context.Context) error {
			return e.alertLog.AppendAlert(ctx, event)
		})
	}
	e.push(notify.Notification{Kind: kind, MAC: mac, Name: name, Message: message, Timestamp: now})
	return true
}

// push delivers a notification without touching cooldown or persistence.
func (e *Engine) push(note notify.Notification) {
	if e.notifier == nil {
		return
	}
	e.effect("push", func(ctx context.Context) error {
		return e.notifier.Notify(ctx, note)
	})
}

func (e *Engine) activate(mac string) {
	if _, ok := e.active[mac]; !ok {
		e.active[mac] = struct{}{}
		metrics.SetActiveAlerts(len(e.active))
	}
	e.alarm.armIfNeeded(len(e.active))
}
