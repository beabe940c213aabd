package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
)

// Clock provides time for dedupe bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// ChannelNotifier renders notifications through a template and sends them
// to a Channel, optionally restricted to a set of kinds.
type ChannelNotifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	kinds          map[alerts.Kind]struct{}
	dedupeWindow   time.Duration
	requestTimeout time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*ChannelNotifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *ChannelNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithKinds limits delivery to the given kinds.
func WithKinds(kinds ...alerts.Kind) Option {
	return func(n *ChannelNotifier) {
		if len(kinds) == 0 {
			return
		}
		n.kinds = make(map[alerts.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			n.kinds[k] = struct{}{}
		}
	}
}

// WithDedupeWindow suppresses identical content for the same device within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *ChannelNotifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithRequestTimeout bounds each send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *ChannelNotifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// NewChannelNotifier constructs a notifier.
func NewChannelNotifier(channel Channel, template *Template, opts ...Option) (*ChannelNotifier, error) {
	if channel == nil {
		return nil, errors.New("channel notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &ChannelNotifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements Notifier.
func (n *ChannelNotifier) Notify(ctx context.Context, note Notification) error {
	if n == nil || n.channel == nil {
		return nil
	}
	if n.kinds != nil {
		if _, ok := n.kinds[note.Kind]; !ok {
			return nil
		}
	}
	content, err := n.template.Render(buildTemplateData(note))
	if err != nil {
		return err
	}
	key := note.MAC + "|" + string(note.Kind)
	if !n.shouldSend(key, content) {
		return nil
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, note, content); err != nil {
		return err
	}
	n.markSent(key, content)
	return nil
}

func buildTemplateData(note Notification) TemplateData {
	msg := note.WireMessage()
	device := note.Name
	if device == "" {
		device = msg.MAC
	}
	return TemplateData{
		Kind:      msg.Type,
		KindLabel: kindLabel(note.Kind),
		Device:    device,
		MAC:       msg.MAC,
		Message:   note.Message,
		Timestamp: msg.Timestamp,
	}
}

func kindLabel(kind alerts.Kind) string {
	switch kind {
	case alerts.KindMovement:
		return "Moved"
	case alerts.KindRecovery:
		return "Recovered"
	case alerts.KindOffline:
		return "Offline"
	case alerts.KindOnline:
		return "Online"
	case alerts.KindNotLocked:
		return "Not Locked"
	case alerts.KindLocked:
		return "Locked"
	case alerts.KindTrainingProgress, alerts.KindTrainingInitiated:
		return "Training"
	case alerts.KindDevicesRefreshed:
		return "Devices Refreshed"
	default:
		return strings.ReplaceAll(string(kind), "_", " ")
	}
}

func (n *ChannelNotifier) shouldSend(key, content string) bool {
	if n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	return !(record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow)
}

func (n *ChannelNotifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
