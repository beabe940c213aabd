package notify

import (
	"context"
	"strings"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
)

// Notification is a live alert pushed to operators.
type Notification struct {
	Kind      alerts.Kind
	MAC       string
	Name      string
	Message   string
	Timestamp time.Time
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Message is the live-push wire form.
type Message struct {
	Type      string `json:"type"`
	MAC       string `json:"mac"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// WireMessage converts a notification to its wire form. MACs are uppercased.
func (n Notification) WireMessage() Message {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Message{
		Type:      string(n.Kind),
		MAC:       strings.ToUpper(n.MAC),
		Message:   n.Message,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}
