package alerts

import (
	"context"
	"errors"
	"strings"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

// Kind classifies an alert event.
type Kind string

const (
	KindMovement          Kind = "alert"
	KindRecovery          Kind = "recovery"
	KindOffline           Kind = "offline"
	KindOnline            Kind = "online"
	KindNotLocked         Kind = "not_locked"
	KindLocked            Kind = "locked"
	KindTrainingProgress  Kind = "training_progress"
	KindTrainingInitiated Kind = "training_initiated"
	KindDevicesRefreshed  Kind = "devices_refreshed"
	KindBridgeError       Kind = "bridge_error"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindMovement, KindRecovery, KindOffline, KindOnline, KindNotLocked, KindLocked,
		KindTrainingProgress, KindTrainingInitiated, KindDevicesRefreshed, KindBridgeError:
		return true
	default:
		return false
	}
}

// CooldownExempt reports whether dispatches of this kind bypass the cooldown.
// Exempt kinds also leave the device's cooldown clock untouched.
func (k Kind) CooldownExempt() bool {
	return k == KindOffline || k == KindTrainingProgress
}

// IsProblem reports whether the kind puts the device into the active-alert set.
func (k Kind) IsProblem() bool {
	return k == KindMovement || k == KindOffline || k == KindNotLocked
}

// IsResolution reports whether the kind removes the device from the active-alert set.
func (k Kind) IsResolution() bool {
	return k == KindRecovery || k == KindLocked || k == KindOnline
}

// Status maps a kind to the registry status it implies.
func (k Kind) Status() (registry.Status, bool) {
	switch k {
	case KindMovement:
		return registry.StatusMoved, true
	case KindRecovery, KindOnline, KindLocked:
		return registry.StatusNormal, true
	case KindOffline:
		return registry.StatusOffline, true
	case KindNotLocked:
		return registry.StatusNotLocked, true
	case KindTrainingProgress, KindTrainingInitiated:
		return registry.StatusTraining, true
	default:
		return "", false
	}
}

// Event is a dispatched alert. Events are immutable once appended.
type Event struct {
	ID        string
	DeviceID  int64
	MAC       string
	Kind      Kind
	Message   string
	CreatedAt time.Time
}

// Validate checks event invariants before persistence.
func (e Event) Validate() error {
	if e.DeviceID <= 0 {
		return errors.New("alert: device id required")
	}
	if !e.Kind.Valid() {
		return errors.New("alert: invalid kind")
	}
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("alert: empty message")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("alert: created_at required")
	}
	return nil
}

// Log is the append-only alert log.
type Log interface {
	AppendAlert(ctx context.Context, event Event) error
}

// Reader lists persisted alerts, newest first.
type Reader interface {
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Store is a log that can also be read back.
type Store interface {
	Log
	Reader
}
