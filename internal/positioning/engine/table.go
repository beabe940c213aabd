package engine

import (
	"sort"
	"time"

	"beacon-guard/internal/positioning/estimator"
	"beacon-guard/internal/positioning/presence"
	registry "beacon-guard/internal/registry/domain"
)

// deviceState is everything the engine knows about one registered device.
type deviceState struct {
	mac     string
	id      int64
	name    string
	enabled bool
	saved   *registry.Position
	target  bool

	samples  map[int]estimator.Sample
	smoother *estimator.Smoother
	raw      registry.Position
	hasRaw   bool

	presence presence.State
	lastSeen time.Time
	offline  bool

	lockKnown bool
	locked    bool
}

func (d *deviceState) label() string {
	if d.name != "" {
		return d.name
	}
	return d.mac
}

// freshSamples evicts samples older than maxAge and returns the rest by anchor id.
func (d *deviceState) freshSamples(now time.Time, maxAge time.Duration) []estimator.Sample {
	out := make([]estimator.Sample, 0, len(d.samples))
	for anchor, s := range d.samples {
		if maxAge > 0 && now.Sub(s.ObservedAt) > maxAge {
			delete(d.samples, anchor)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnchorID < out[j].AnchorID })
	return out
}

// resetTracking drops samples, estimates and presence state.
func (d *deviceState) resetTracking() {
	d.samples = make(map[int]estimator.Sample)
	d.smoother.Reset()
	d.raw, d.hasRaw = registry.Position{}, false
	d.presence.Reset()
	d.lastSeen = time.Time{}
	d.offline = false
	d.lockKnown, d.locked = false, false
}

func (d *deviceState) setSaved(pos *registry.Position) bool {
	switch {
	case pos == nil && d.saved == nil:
		return false
	case pos != nil && d.saved != nil && *pos == *d.saved:
		return false
	}
	if pos == nil {
		d.saved = nil
	} else {
		p := *pos
		d.saved = &p
	}
	d.presence.Violations = 0
	return true
}

// deviceTable is an arena of device slots indexed by mac. Freed slots are reused.
type deviceTable struct {
	slots []deviceState
	byMAC map[string]int
	free  []int
}

func newDeviceTable() *deviceTable {
	return &deviceTable{byMAC: make(map[string]int)}
}

// get returns the slot for mac. The pointer is valid until the next add.
func (t *deviceTable) get(mac string) *deviceState {
	idx, ok := t.byMAC[mac]
	if !ok {
		return nil
	}
	return &t.slots[idx]
}

func (t *deviceTable) add(mac string, smoother *estimator.Smoother) *deviceState {
	state := deviceState{
		mac:      mac,
		samples:  make(map[int]estimator.Sample),
		smoother: smoother,
		presence: presence.State{Phase: presence.PhaseUnknown},
	}
	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = state
	} else {
		idx = len(t.slots)
		t.slots = append(t.slots, state)
	}
	t.byMAC[mac] = idx
	return &t.slots[idx]
}

func (t *deviceTable) remove(mac string) {
	idx, ok := t.byMAC[mac]
	if !ok {
		return
	}
	delete(t.byMAC, mac)
	t.slots[idx] = deviceState{}
	t.free = append(t.free, idx)
}

func (t *deviceTable) len() int {
	return len(t.byMAC)
}

// macs returns the live macs in sorted order.
func (t *deviceTable) macs() []string {
	out := make([]string, 0, len(t.byMAC))
	for mac := range t.byMAC {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

// each visits live slots in mac order.
func (t *deviceTable) each(fn func(d *deviceState)) {
	for _, mac := range t.macs() {
		fn(&t.slots[t.byMAC[mac]])
	}
}
