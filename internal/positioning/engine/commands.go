package engine

import (
	"context"
	"fmt"
	"sort"

	"beacon-guard/internal/observability/metrics"
	"beacon-guard/internal/positioning/estimator"
	"beacon-guard/internal/positioning/presence"
	registry "beacon-guard/internal/registry/domain"
)

// LoadRegistry replaces the device snapshot. Targets become the enabled
// devices, narrowed to any operator target set still present. State for
// vanished devices is dropped.
func (e *Engine) LoadRegistry(ctx context.Context, devices []registry.Device) error {
	return e.do(ctx, func() { e.loadRegistry(devices) })
}

// SetTargetMACs replaces the target set and returns it.
func (e *Engine) SetTargetMACs(ctx context.Context, macs []string) ([]string, error) {
	return e.changeTargets(ctx, macs, true)
}

// UpdateTargetMACs adds to the target set and returns it.
func (e *Engine) UpdateTargetMACs(ctx context.Context, macs []string) ([]string, error) {
	return e.changeTargets(ctx, macs, false)
}

func (e *Engine) changeTargets(ctx context.Context, macs []string, replace bool) ([]string, error) {
	if macs == nil {
		return nil, fmt.Errorf("%w: mac list required", ErrValidation)
	}
	var (
		out    []string
		cmdErr error
	)
	err := e.do(ctx, func() {
		if !e.initialized() {
			cmdErr = ErrNotInitialized
			return
		}
		out = e.setTargets(macs, replace)
	})
	if err != nil {
		return nil, err
	}
	return out, cmdErr
}

// Targets returns the current target set.
func (e *Engine) Targets(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cmdErr error
	)
	err := e.do(ctx, func() {
		if !e.initialized() {
			cmdErr = ErrNotInitialized
			return
		}
		out = e.targetList()
	})
	if err != nil {
		return nil, err
	}
	return out, cmdErr
}

// SetSavedPositions overrides saved positions in memory. Unknown macs are
// skipped. It returns how many devices changed.
func (e *Engine) SetSavedPositions(ctx context.Context, positions map[string]registry.Position) (int, error) {
	if positions == nil {
		return 0, fmt.Errorf("%w: position map required", ErrValidation)
	}
	for mac, pos := range positions {
		if !pos.Finite() {
			return 0, fmt.Errorf("%w: position for %s not finite", ErrValidation, mac)
		}
	}
	var (
		changed int
		cmdErr  error
	)
	err := e.do(ctx, func() {
		if !e.initialized() {
			cmdErr = ErrNotInitialized
			return
		}
		for mac, pos := range positions {
			d := e.table.get(registry.NormalizeMAC(mac))
			if d == nil {
				continue
			}
			p := pos
			if e.applySaved(d, &p) {
				changed++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return changed, cmdErr
}

// Position returns the smoothed position of a tracked device.
func (e *Engine) Position(ctx context.Context, mac string) (registry.Position, error) {
	var (
		pos    registry.Position
		cmdErr error
	)
	err := e.do(ctx, func() {
		pos, cmdErr = e.position(registry.NormalizeMAC(mac))
	})
	if err != nil {
		return registry.Position{}, err
	}
	return pos, cmdErr
}

// Positions returns smoothed positions for every tracked device with an estimate.
func (e *Engine) Positions(ctx context.Context) (map[string]registry.Position, error) {
	var (
		out    map[string]registry.Position
		cmdErr error
	)
	err := e.do(ctx, func() {
		if !e.initialized() {
			cmdErr = ErrNotInitialized
			return
		}
		out = make(map[string]registry.Position)
		e.table.each(func(d *deviceState) {
			if !d.target {
				return
			}
			if pos, ok := d.smoother.Value(); ok {
				out[d.mac] = pos
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return out, cmdErr
}

// SaveCurrentPosition stores the current smoothed position as the device's
// saved position, both in the registry and locally.
func (e *Engine) SaveCurrentPosition(ctx context.Context, mac string) (registry.Position, error) {
	mac = registry.NormalizeMAC(mac)
	pos, err := e.Position(ctx, mac)
	if err != nil {
		return registry.Position{}, err
	}
	if err := e.registry.UpdateSavedPosition(ctx, mac, pos); err != nil {
		metrics.IncCollaboratorError("save_position")
		return registry.Position{}, fmt.Errorf("engine: save position %s: %w", mac, err)
	}
	err = e.do(ctx, func() {
		if d := e.table.get(mac); d != nil {
			e.applySaved(d, &pos)
		}
	})
	if err != nil {
		return registry.Position{}, err
	}
	e.logger.Printf("engine: saved position mac=%s x=%.2f y=%.2f", mac, pos.X, pos.Y)
	return pos, nil
}

func (e *Engine) position(mac string) (registry.Position, error) {
	if !e.initialized() {
		return registry.Position{}, ErrNotInitialized
	}
	d := e.table.get(mac)
	if d == nil || !d.target {
		return registry.Position{}, fmt.Errorf("%w: %s", ErrUnknownDevice, mac)
	}
	pos, ok := d.smoother.Value()
	if !ok {
		return registry.Position{}, fmt.Errorf("%w: %s", ErrNoPosition, mac)
	}
	return pos, nil
}

func (e *Engine) loadRegistry(devices []registry.Device) {
	snap := registry.NewSnapshot(devices)

	for _, mac := range e.table.macs() {
		if snap.Contains(mac) {
			continue
		}
		e.est.Forget(mac)
		e.table.remove(mac)
		delete(e.lastDispatch, mac)
		e.dropActive(mac)
	}

	for _, mac := range snap.MACs() {
		device, _ := snap.Lookup(mac)
		d := e.table.get(mac)
		if d == nil {
			smoother, _ := estimator.NewSmoother(e.cfg.SmoothingAlpha)
			d = e.table.add(mac, smoother)
		}
		d.id = device.ID
		d.name = device.Name
		d.enabled = device.Enabled
		e.applySaved(d, device.SavedPosition)
	}
	e.snapshot = snap

	var next map[string]struct{}
	if e.explicit == nil {
		next = make(map[string]struct{})
		for _, mac := range snap.EnabledMACs() {
			next[mac] = struct{}{}
		}
	} else {
		for mac := range e.explicit {
			if !snap.Contains(mac) {
				delete(e.explicit, mac)
			}
		}
		next = e.explicit
	}
	e.applyTargets(next)
	e.ready.Store(e.initialized())
	metrics.SetActiveAlerts(len(e.active))
	e.logger.Printf("engine: registry loaded devices=%d targets=%d", snap.Len(), len(next))
}

// setTargets applies an operator change. Unknown macs are filtered out.
func (e *Engine) setTargets(macs []string, replace bool) []string {
	next := make(map[string]struct{})
	if !replace {
		e.table.each(func(d *deviceState) {
			if d.target {
				next[d.mac] = struct{}{}
			}
		})
	}
	for _, raw := range macs {
		mac := registry.NormalizeMAC(raw)
		if e.snapshot.Contains(mac) {
			next[mac] = struct{}{}
		}
	}
	e.explicit = next
	e.applyTargets(next)
	return e.targetList()
}

func (e *Engine) applyTargets(next map[string]struct{}) {
	e.table.each(func(d *deviceState) {
		_, want := next[d.mac]
		if d.target && !want {
			e.untrack(d)
		}
		d.target = want
	})
}

// untrack clears derived state for a device leaving the target set.
func (e *Engine) untrack(d *deviceState) {
	e.est.Forget(d.mac)
	d.resetTracking()
	e.dropActive(d.mac)
}

// applySaved replaces a device's saved position. Clearing it on an alerted
// device ends the alert.
func (e *Engine) applySaved(d *deviceState, pos *registry.Position) bool {
	alerted := d.presence.Phase == presence.PhaseAlerted
	if !d.setSaved(pos) {
		return false
	}
	if pos == nil {
		d.presence.Reset()
		if alerted && !d.offline {
			e.dropActive(d.mac)
			e.logger.Printf("engine: saved position cleared while alerted mac=%s", d.mac)
		}
	}
	return true
}

func (e *Engine) dropActive(mac string) {
	if _, ok := e.active[mac]; !ok {
		return
	}
	delete(e.active, mac)
	metrics.SetActiveAlerts(len(e.active))
	e.alarm.disarmIfClear(len(e.active))
}

func (e *Engine) targetList() []string {
	out := make([]string, 0)
	e.table.each(func(d *deviceState) {
		if d.target {
			out = append(out, d.mac)
		}
	})
	sort.Strings(out)
	return out
}
