package engine

import (
	"context"
	"time"

	"beacon-guard/internal/observability/metrics"
)

// alarmController drives the physical alarm from the size of the active set.
// It is level triggered: while anything is active the alarm re-fires every
// cooldown. All methods run on the engine loop.
type alarmController struct {
	alarm    Alarm
	sched    Scheduler
	cooldown time.Duration
	activeFn func() int
	post     func(func())
	effect   func(op string, fn func(ctx context.Context) error)

	armed bool
	timer Timer
	gen   uint64
}

func (a *alarmController) armIfNeeded(active int) {
	if active == 0 || a.timer != nil {
		return
	}
	a.fire()
}

func (a *alarmController) disarmIfClear(active int) {
	if active > 0 {
		return
	}
	a.cancel()
	if !a.armed {
		return
	}
	a.armed = false
	a.effect("alarm_stop", func(ctx context.Context) error {
		err := a.alarm.Stop(ctx)
		metrics.IncAlarmAction("stop", result(err))
		return err
	})
}

// onCooldown handles timer expiry. Callbacks from a cancelled timer are ignored.
func (a *alarmController) onCooldown(gen uint64) {
	if gen != a.gen || a.timer == nil {
		return
	}
	a.timer = nil
	active := a.activeFn()
	if active > 0 {
		a.fire()
		return
	}
	a.disarmIfClear(active)
}

func (a *alarmController) fire() {
	a.armed = true
	a.effect("alarm_blink", func(ctx context.Context) error {
		err := a.alarm.Blink(ctx)
		metrics.IncAlarmAction("blink", result(err))
		return err
	})
	a.gen++
	gen := a.gen
	a.timer = a.sched.AfterFunc(a.cooldown, func() {
		a.post(func() { a.onCooldown(gen) })
	})
}

func (a *alarmController) cancel() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

func (a *alarmController) close() {
	a.cancel()
}

func result(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
