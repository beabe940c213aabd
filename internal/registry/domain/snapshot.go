package registry

import "sort"

// Snapshot is an immutable view of the registry keyed by normalized MAC.
// It is replaced wholesale on refresh and never mutated in place.
type Snapshot struct {
	devices map[string]Device
}

// NewSnapshot builds a snapshot from a device listing. Later duplicates win.
func NewSnapshot(devices []Device) *Snapshot {
	s := &Snapshot{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		mac := NormalizeMAC(d.MAC)
		if mac == "" {
			continue
		}
		d.MAC = mac
		if d.SavedPosition != nil {
			pos := *d.SavedPosition
			d.SavedPosition = &pos
		}
		s.devices[mac] = d
	}
	return s
}

// Lookup returns the device for a MAC.
func (s *Snapshot) Lookup(mac string) (Device, bool) {
	if s == nil {
		return Device{}, false
	}
	d, ok := s.devices[NormalizeMAC(mac)]
	return d, ok
}

// Contains reports whether the MAC is registered.
func (s *Snapshot) Contains(mac string) bool {
	_, ok := s.Lookup(mac)
	return ok
}

// Enabled reports whether the MAC is registered and enabled.
func (s *Snapshot) Enabled(mac string) bool {
	d, ok := s.Lookup(mac)
	return ok && d.Enabled
}

// Len returns the number of devices.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.devices)
}

// MACs returns the registered MACs in sorted order.
func (s *Snapshot) MACs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.devices))
	for mac := range s.devices {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

// EnabledMACs returns the enabled MACs in sorted order.
func (s *Snapshot) EnabledMACs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.devices))
	for mac, d := range s.devices {
		if d.Enabled {
			out = append(out, mac)
		}
	}
	sort.Strings(out)
	return out
}

// SavedPositions returns saved positions keyed by MAC.
func (s *Snapshot) SavedPositions() map[string]Position {
	out := make(map[string]Position)
	if s == nil {
		return out
	}
	for mac, d := range s.devices {
		if d.SavedPosition != nil {
			out[mac] = *d.SavedPosition
		}
	}
	return out
}
