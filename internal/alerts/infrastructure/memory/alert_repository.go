package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	alerts "beacon-guard/internal/alerts/domain"
)

// AlertRepository is an in-memory alert log.
type AlertRepository struct {
	mu     sync.RWMutex
	events []alerts.Event
}

// NewAlertRepository constructs an empty log.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{}
}

// AppendAlert appends an event.
func (r *AlertRepository) AppendAlert(_ context.Context, event alerts.Event) error {
	if r == nil {
		return errors.New("alert repo: nil repository")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// ListRecent returns up to limit events, newest first.
func (r *AlertRepository) ListRecent(_ context.Context, limit int) ([]alerts.Event, error) {
	if r == nil {
		return nil, errors.New("alert repo: nil repository")
	}
	r.mu.RLock()
	out := make([]alerts.Event, len(r.events))
	copy(out, r.events)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns all events in append order.
func (r *AlertRepository) Events() []alerts.Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]alerts.Event, len(r.events))
	copy(out, r.events)
	return out
}
