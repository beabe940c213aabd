package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

// DeviceRepository is an in-memory device registry.
type DeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]registry.Device
	nextID  int64
}

// NewDeviceRepository constructs an in-memory registry seeded with devices.
func NewDeviceRepository(seed ...registry.Device) *DeviceRepository {
	repo := &DeviceRepository{devices: make(map[string]registry.Device)}
	for _, d := range seed {
		_ = repo.Save(context.Background(), &d)
	}
	return repo
}

// Save upserts a device by mac.
func (r *DeviceRepository) Save(_ context.Context, device *registry.Device) error {
	if r == nil {
		return errors.New("device repo: nil repository")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	device.MAC = registry.NormalizeMAC(device.MAC)
	if device.Status == "" {
		device.Status = registry.StatusUnknown
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[device.MAC]; ok {
		device.ID = existing.ID
		device.CreatedAt = existing.CreatedAt
	} else {
		if device.ID <= 0 {
			r.nextID++
			device.ID = r.nextID
		} else if device.ID > r.nextID {
			r.nextID = device.ID
		}
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	r.devices[device.MAC] = cloneDevice(*device)
	return nil
}

// ListEnabledDevices returns enabled devices ordered by id.
func (r *DeviceRepository) ListEnabledDevices(_ context.Context) ([]registry.Device, error) {
	if r == nil {
		return nil, errors.New("device repo: nil repository")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]registry.Device, 0, len(r.devices))
	for _, d := range r.devices {
		if d.Enabled {
			result = append(result, cloneDevice(d))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateDeviceStatus sets the status for a mac.
func (r *DeviceRepository) UpdateDeviceStatus(_ context.Context, mac string, status registry.Status) error {
	if r == nil {
		return errors.New("device repo: nil repository")
	}
	if !status.Valid() {
		return errors.New("device repo: invalid status")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mac = registry.NormalizeMAC(mac)
	d, ok := r.devices[mac]
	if !ok {
		return registry.ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	r.devices[mac] = d
	return nil
}

// UpdateSavedPosition sets the saved position for a mac.
func (r *DeviceRepository) UpdateSavedPosition(_ context.Context, mac string, pos registry.Position) error {
	if r == nil {
		return errors.New("device repo: nil repository")
	}
	if !pos.Finite() {
		return errors.New("device repo: position not finite")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mac = registry.NormalizeMAC(mac)
	d, ok := r.devices[mac]
	if !ok {
		return registry.ErrNotFound
	}
	d.SavedPosition = &pos
	d.UpdatedAt = time.Now().UTC()
	r.devices[mac] = d
	return nil
}

// Get returns a copy of the device for a mac.
func (r *DeviceRepository) Get(mac string) (registry.Device, bool) {
	if r == nil {
		return registry.Device{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[registry.NormalizeMAC(mac)]
	return cloneDevice(d), ok
}

func cloneDevice(d registry.Device) registry.Device {
	if d.SavedPosition != nil {
		pos := *d.SavedPosition
		d.SavedPosition = &pos
	}
	return d
}
